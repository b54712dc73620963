package fs

import (
	"errors"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/oauth"
	"github.com/vfsgate/vfsgate/gateway/upload"
)

// ToAPI maps internal errors onto the stable error-code taxonomy. Errors
// that already carry a code pass through untouched; driver failures wrap
// into DRIVER_ERROR sub-codes with provider status preserved in a detail
// that is never exposed to clients.
func ToAPI(err error) error {
	if err == nil {
		return nil
	}

	switch err.(type) {
	case errcode.Error, errcode.ErrorCode, errcode.Errors:
		return err
	}

	var (
		noMount  mount.ErrNoMount
		cfgErr   mount.ErrConfig
		capErr   storagedriver.CapabilityError
		notFound storagedriver.PathNotFoundError
		invalid  storagedriver.InvalidPathError
		exists   storagedriver.AlreadyExistsError
		expired  storagedriver.ErrSessionExpired
		chunkErr upload.ChunkRangeError
		drvErr   storagedriver.Error
	)

	switch {
	case errors.As(err, &noMount):
		return errcode.ErrorCodeNotFound.WithMessage(noMount.Error())
	case errors.As(err, &cfgErr):
		return errcode.ErrorCodeDriver.WithDetail(cfgErr.Error())
	case errors.As(err, &capErr):
		return errcode.ErrorCodeNotImplemented.WithDetail(capErr.Error())
	case errors.As(err, &notFound):
		if notFound.DriverName == "gdrive" {
			return errcode.ErrorCodeDriverGDriveNotFound.WithMessage(notFound.Error())
		}
		return errcode.ErrorCodeNotFound.WithMessage(notFound.Error())
	case errors.As(err, &invalid):
		return errcode.ErrorCodeValidation.WithArgs(invalid.Error())
	case errors.As(err, &exists):
		return errcode.ErrorCodeConflict.WithMessage(exists.Error())
	case errors.As(err, &expired):
		return errcode.ErrorCodeUploadSessionNotFound.WithDetail(expired.Error())
	case errors.Is(err, upload.ErrSessionNotFound):
		return errcode.ErrorCodeUploadSessionNotFound
	case errors.Is(err, upload.ErrSessionTerminal):
		return errcode.ErrorCodeConflict.WithMessage("upload session already finished")
	case errors.As(err, &chunkErr):
		return errcode.ErrorCodeValidation.WithArgs(chunkErr.Error())
	case errors.Is(err, oauth.ErrUnauthorized):
		return errcode.ErrorCodeDriverGDriveAuth.WithDetail(err.Error())
	case errors.As(err, &drvErr):
		detail := map[string]interface{}{
			"driver": drvErr.DriverName,
			"op":     drvErr.Op,
			"error":  drvErr.Error(),
		}
		if drvErr.Status != 0 {
			detail["status"] = drvErr.Status
		}
		switch drvErr.DriverName {
		case "s3":
			return errcode.ErrorCodeDriverS3.WithDetail(detail)
		case "github_releases":
			return errcode.ErrorCodeDriverGitHubAPI.WithDetail(detail)
		}
		return errcode.ErrorCodeDriver.WithDetail(detail)
	}

	return errcode.ErrorCodeDriver.WithDetail(err.Error())
}
