// Package s3 provides a storagedriver.StorageDriver implementation over any
// S3-compatible endpoint, using the official aws client library. Virtual
// sub-paths map directly to object keys below an optional root directory;
// directories are the usual key-prefix abstraction with zero-byte "/" marker
// objects for explicitly created ones.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
)

const driverName = "s3"

// minPartSize is the S3 floor for all but the last part of a multipart
// upload.
const minPartSize = 5 * 1024 * 1024

// streamPartSize is the part size used when Upload must stream a body
// larger than the buffering threshold.
const streamPartSize = 10 * 1024 * 1024

// bufferThreshold is the largest body Upload sends as a single PutObject.
const bufferThreshold = 16 * 1024 * 1024

// listMax is the largest number of objects one list call may return.
const listMax = 1000

// defaultSignatureTTL applies when signature_expires_in is not configured.
const defaultSignatureTTL = time.Hour

func init() {
	factory.Register(driverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (f *s3DriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

// DriverParameters encapsulates all of the driver parameters after all
// values have been set.
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	RegionEndpoint string
	ForcePathStyle bool
	Secure         bool
	RootDirectory  string
	SignatureTTL   time.Duration
}

type driver struct {
	S3            *s3.S3
	Bucket        string
	RootDirectory string
	SignatureTTL  time.Duration
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver implementation backed by an
// S3-compatible object store.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver with a given parameters map.
// Required parameters:
// - accesskey
// - secretkey
// - bucket
// - region (or regionendpoint for non-AWS endpoints)
func FromParameters(ctx context.Context, parameters map[string]interface{}) (*Driver, error) {
	params, err := parseParameters(parameters)
	if err != nil {
		return nil, err
	}
	return New(ctx, params)
}

func parseParameters(parameters map[string]interface{}) (*DriverParameters, error) {
	getString := func(key string) string {
		if v, ok := parameters[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	getBool := func(key string, dflt bool) (bool, error) {
		v, ok := parameters[key]
		if !ok || v == nil {
			return dflt, nil
		}
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return false, fmt.Errorf("the %s parameter should be a boolean", key)
			}
			return parsed, nil
		default:
			return false, fmt.Errorf("the %s parameter should be a boolean", key)
		}
	}

	params := &DriverParameters{
		AccessKey:      getString("accesskey"),
		SecretKey:      getString("secretkey"),
		Bucket:         getString("bucket"),
		Region:         getString("region"),
		RegionEndpoint: getString("regionendpoint"),
		RootDirectory:  getString("rootdirectory"),
		SignatureTTL:   defaultSignatureTTL,
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("no bucket parameter provided")
	}
	if params.Region == "" && params.RegionEndpoint == "" {
		return nil, fmt.Errorf("no region or regionendpoint parameter provided")
	}
	if params.Region == "" {
		params.Region = "us-east-1"
	}

	var err error
	if params.Secure, err = getBool("secure", true); err != nil {
		return nil, err
	}
	if params.ForcePathStyle, err = getBool("forcepathstyle", params.RegionEndpoint != ""); err != nil {
		return nil, err
	}

	if v := getString("signature_expires_in"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("the signature_expires_in parameter should be a positive integer")
		}
		params.SignatureTTL = time.Duration(secs) * time.Second
	}
	return params, nil
}

// New constructs a new Driver against the configured endpoint.
func New(_ context.Context, params *DriverParameters) (*Driver, error) {
	awsConfig := aws.NewConfig().
		WithRegion(params.Region).
		WithS3ForcePathStyle(params.ForcePathStyle).
		WithDisableSSL(!params.Secure)
	if params.RegionEndpoint != "" {
		awsConfig = awsConfig.WithEndpoint(params.RegionEndpoint)
	}
	if params.AccessKey != "" || params.SecretKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(params.AccessKey, params.SecretKey, ""))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create new session: %w", err)
	}

	d := &driver{
		S3:            s3.New(sess),
		Bucket:        params.Bucket,
		RootDirectory: strings.Trim(params.RootDirectory, "/"),
		SignatureTTL:  params.SignatureTTL,
	}
	return &Driver{baseEmbed{base.Base{StorageDriver: d}}}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) Capabilities() storagedriver.Capability {
	return storagedriver.CapReader | storagedriver.CapWriter |
		storagedriver.CapMultipart | storagedriver.CapAtomic |
		storagedriver.CapDirectLink | storagedriver.CapProxy |
		storagedriver.CapPresigned | storagedriver.CapSearch
}

// s3Path maps a sub-path to an object key.
func (d *driver) s3Path(subPath string) string {
	key := strings.TrimLeft(subPath, "/")
	if d.RootDirectory == "" {
		return key
	}
	if key == "" {
		return d.RootDirectory + "/"
	}
	return d.RootDirectory + "/" + key
}

func (d *driver) subPathFor(key string) string {
	if d.RootDirectory != "" {
		key = strings.TrimPrefix(key, d.RootDirectory+"/")
	}
	return "/" + strings.TrimSuffix(key, "/")
}

func mimeFor(p string) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func isAWSErrCode(err error, codes ...string) bool {
	var aerr awserr.Error
	if ok := asAWSErr(err, &aerr); !ok {
		return false
	}
	for _, c := range codes {
		if aerr.Code() == c {
			return true
		}
	}
	return false
}

func asAWSErr(err error, target *awserr.Error) bool {
	for err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			*target = aerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (d *driver) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	if rf, ok := err.(awserr.RequestFailure); ok {
		status = rf.StatusCode()
	}
	return storagedriver.Error{DriverName: driverName, Op: op, Status: status, Enclosed: err}
}

func (d *driver) List(ctx context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	prefix := d.s3Path(subPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if prefix == "/" {
		prefix = ""
	}

	var entries []storagedriver.FileEntry
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int64(listMax),
	}
	found := subPath == "/" || subPath == ""
	err := d.S3.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, cp := range page.CommonPrefixes {
			found = true
			entries = append(entries, storagedriver.FileEntry{
				FsPath:      d.subPathFor(*cp.Prefix),
				Name:        path.Base(strings.TrimSuffix(*cp.Prefix, "/")),
				IsDirectory: true,
				MimeType:    storagedriver.DirectoryMimeType,
				StorageType: driverName,
			})
		}
		for _, obj := range page.Contents {
			found = true
			if *obj.Key == prefix || strings.HasSuffix(*obj.Key, "/") {
				continue // the directory marker itself
			}
			entries = append(entries, storagedriver.FileEntry{
				FsPath:      d.subPathFor(*obj.Key),
				Name:        path.Base(*obj.Key),
				Size:        *obj.Size,
				Modified:    *obj.LastModified,
				MimeType:    mimeFor(*obj.Key),
				ETag:        strings.Trim(aws.StringValue(obj.ETag), `"`),
				StorageType: driverName,
			})
		}
		return true
	})
	if err != nil {
		return nil, d.wrap("List", err)
	}
	if !found {
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}
	return entries, nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileEntry, error) {
	if subPath == "/" || subPath == "" {
		return storagedriver.FileEntry{
			FsPath:      "/",
			Name:        "/",
			IsDirectory: true,
			MimeType:    storagedriver.DirectoryMimeType,
			StorageType: driverName,
		}, nil
	}

	key := d.s3Path(subPath)
	head, err := d.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return storagedriver.FileEntry{
			FsPath:      subPath,
			Name:        path.Base(subPath),
			Size:        aws.Int64Value(head.ContentLength),
			Modified:    aws.TimeValue(head.LastModified),
			MimeType:    mimeFor(subPath),
			ETag:        strings.Trim(aws.StringValue(head.ETag), `"`),
			StorageType: driverName,
		}, nil
	}
	if rf, ok := err.(awserr.RequestFailure); !ok || rf.StatusCode() != http.StatusNotFound {
		return storagedriver.FileEntry{}, d.wrap("Stat", err)
	}

	// Not an object; it is a directory iff anything lists under the prefix.
	list, err := d.S3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.Bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return storagedriver.FileEntry{}, d.wrap("Stat", err)
	}
	if len(list.Contents) == 0 {
		return storagedriver.FileEntry{}, storagedriver.PathNotFoundError{Path: subPath}
	}
	return storagedriver.FileEntry{
		FsPath:      subPath,
		Name:        path.Base(subPath),
		IsDirectory: true,
		MimeType:    storagedriver.DirectoryMimeType,
		StorageType: driverName,
	}, nil
}

func (d *driver) Exists(ctx context.Context, subPath string) (bool, error) {
	_, err := d.Stat(ctx, subPath)
	if err == nil {
		return true, nil
	}
	if storagedriver.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *driver) Download(ctx context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	fe, err := d.Stat(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if fe.IsDirectory {
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "is a directory"}
	}

	key := d.s3Path(subPath)
	return &storagedriver.StreamDescriptor{
		Size:          fe.Size,
		ContentType:   fe.MimeType,
		ETag:          fe.ETag,
		LastModified:  fe.Modified,
		SupportsRange: true,
		Open: func(ctx context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			input := &s3.GetObjectInput{
				Bucket: aws.String(d.Bucket),
				Key:    aws.String(key),
			}
			if rng != nil {
				input.Range = aws.String(rng.RequestHeader())
			}
			out, err := d.S3.GetObjectWithContext(ctx, input)
			if err != nil {
				if isAWSErrCode(err, s3.ErrCodeNoSuchKey) {
					return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
				}
				return nil, d.wrap("Download", err)
			}
			return out.Body, nil
		},
	}, nil
}

func (d *driver) Upload(ctx context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	key := d.s3Path(subPath)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = mimeFor(subPath)
	}

	// Object stores have no real parents; mount-view semantics are enforced
	// by the facade. Small bodies go up in one PutObject, larger ones
	// through a multipart stream so nothing is fully buffered.
	if opts.ContentLength <= bufferThreshold {
		buf := make([]byte, opts.ContentLength)
		if opts.ContentLength > 0 {
			if _, err := io.ReadFull(body, buf); err != nil {
				return nil, fmt.Errorf("reading upload body: %w", err)
			}
		}
		out, err := d.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(d.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buf),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return nil, d.wrap("Upload", err)
		}
		return &storagedriver.UploadResult{
			StoragePath: subPath,
			ETag:        strings.Trim(aws.StringValue(out.ETag), `"`),
			Size:        opts.ContentLength,
		}, nil
	}
	return d.streamUpload(ctx, subPath, key, contentType, body, opts.ContentLength)
}

// streamUpload sends the body as a multipart upload in fixed-size parts.
func (d *driver) streamUpload(ctx context.Context, subPath, key, contentType string, body io.Reader, size int64) (*storagedriver.UploadResult, error) {
	create, err := d.S3.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(d.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, d.wrap("Upload", err)
	}

	abort := func() {
		d.S3.AbortMultipartUpload(&s3.AbortMultipartUploadInput{ //nolint:errcheck
			Bucket:   aws.String(d.Bucket),
			Key:      aws.String(key),
			UploadId: create.UploadId,
		})
	}

	var (
		completed []*s3.CompletedPart
		remaining = size
		partNum   int64
	)
	buf := make([]byte, streamPartSize)
	for remaining > 0 {
		partNum++
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(body, buf[:n]); err != nil {
			abort()
			return nil, fmt.Errorf("reading upload body: %w", err)
		}
		part, err := d.S3.UploadPartWithContext(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(d.Bucket),
			Key:        aws.String(key),
			UploadId:   create.UploadId,
			PartNumber: aws.Int64(partNum),
			Body:       bytes.NewReader(buf[:n]),
		})
		if err != nil {
			abort()
			return nil, d.wrap("Upload", err)
		}
		completed = append(completed, &s3.CompletedPart{
			ETag:       part.ETag,
			PartNumber: aws.Int64(partNum),
		})
		remaining -= n
	}

	out, err := d.S3.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.Bucket),
		Key:             aws.String(key),
		UploadId:        create.UploadId,
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		abort()
		return nil, d.wrap("Upload", err)
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        strings.Trim(aws.StringValue(out.ETag), `"`),
		Size:        size,
	}, nil
}

func (d *driver) Mkdir(ctx context.Context, subPath string) (storagedriver.MkdirResult, error) {
	exists, err := d.Exists(ctx, subPath)
	if err != nil {
		return storagedriver.MkdirResult{}, err
	}
	if exists {
		return storagedriver.MkdirResult{AlreadyExists: true}, nil
	}
	_, err = d.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.Bucket),
		Key:         aws.String(d.s3Path(subPath) + "/"),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(storagedriver.DirectoryMimeType),
	})
	if err != nil {
		return storagedriver.MkdirResult{}, d.wrap("Mkdir", err)
	}
	return storagedriver.MkdirResult{}, nil
}

// keysUnder returns every object key at or below subPath, including the
// directory marker.
func (d *driver) keysUnder(ctx context.Context, subPath string) ([]string, error) {
	key := d.s3Path(subPath)
	var keys []string

	// Exact object first.
	if _, err := d.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(key),
	}); err == nil {
		keys = append(keys, key)
	}

	err := d.S3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.Bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int64(listMax),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
		return true
	})
	if err != nil {
		return nil, d.wrap("List", err)
	}
	return keys, nil
}

func (d *driver) Remove(ctx context.Context, subPath string) error {
	keys, err := d.keysUnder(ctx, subPath)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return storagedriver.PathNotFoundError{Path: subPath}
	}

	for len(keys) > 0 {
		n := len(keys)
		if n > listMax {
			n = listMax
		}
		objects := make([]*s3.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			objects[i] = &s3.ObjectIdentifier{Key: aws.String(k)}
		}
		resp, err := d.S3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.Bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		if err != nil {
			return d.wrap("Remove", err)
		}
		if len(resp.Errors) > 0 {
			errs := resp.Errors[0]
			return d.wrap("Remove", fmt.Errorf("deleting %s: %s %s",
				aws.StringValue(errs.Key), aws.StringValue(errs.Code), aws.StringValue(errs.Message)))
		}
		keys = keys[n:]
	}
	return nil
}

func (d *driver) Rename(ctx context.Context, oldSubPath, newSubPath string) error {
	res, err := d.Copy(ctx, oldSubPath, newSubPath, storagedriver.CopyOptions{})
	if err != nil {
		return err
	}
	if res.Status != storagedriver.CopySuccess {
		return d.wrap("Rename", fmt.Errorf("copy phase %s: %s", res.Status, res.Reason))
	}
	return d.Remove(ctx, oldSubPath)
}

// Copy uses server-side CopyObject; the object never transits the gateway.
func (d *driver) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	if opts.SkipExisting {
		exists, err := d.Exists(ctx, dstSubPath)
		if err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
		if exists {
			return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
		}
	}

	srcKeys, err := d.keysUnder(ctx, srcSubPath)
	if err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}
	if len(srcKeys) == 0 {
		err := storagedriver.PathNotFoundError{Path: srcSubPath}
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: "source not found"}, err
	}

	srcPrefix := d.s3Path(srcSubPath)
	dstPrefix := d.s3Path(dstSubPath)
	for _, key := range srcKeys {
		if err := ctx.Err(); err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
		dstKey := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		_, err := d.S3.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(d.Bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(d.Bucket + "/" + key),
		})
		if err != nil {
			werr := d.wrap("Copy", err)
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: werr.Error()}, werr
		}
	}
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func (d *driver) BatchRemove(ctx context.Context, subPaths []string) (storagedriver.BatchRemoveResult, error) {
	var res storagedriver.BatchRemoveResult
	for _, p := range subPaths {
		if err := d.Remove(ctx, p); err != nil {
			res.Failed = append(res.Failed, storagedriver.BatchFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, p)
	}
	return res, nil
}

func (d *driver) Search(ctx context.Context, query string, opts storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	q := strings.ToLower(query)
	prefix := d.s3Path("/")
	if opts.SearchPath != "" {
		prefix = d.s3Path(opts.SearchPath)
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}

	var entries []storagedriver.FileEntry
	err := d.S3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(listMax),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			if !strings.Contains(strings.ToLower(path.Base(*obj.Key)), q) {
				continue
			}
			entries = append(entries, storagedriver.FileEntry{
				FsPath:      d.subPathFor(*obj.Key),
				Name:        path.Base(*obj.Key),
				Size:        *obj.Size,
				Modified:    *obj.LastModified,
				MimeType:    mimeFor(*obj.Key),
				ETag:        strings.Trim(aws.StringValue(obj.ETag), `"`),
				StorageType: driverName,
			})
			if opts.MaxResults > 0 && len(entries) >= opts.MaxResults {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, d.wrap("Search", err)
	}
	return entries, nil
}

// DownloadURL returns a presigned GET clipped to 90% of the configured
// signature TTL, leaving headroom between issuance and first use.
func (d *driver) DownloadURL(_ context.Context, subPath string, opts storagedriver.LinkOptions) (*storagedriver.Link, error) {
	ttl := d.SignatureTTL
	if opts.ExpiresIn > 0 && opts.ExpiresIn < ttl {
		ttl = opts.ExpiresIn
	}
	ttl = ttl * 9 / 10

	input := &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.s3Path(subPath)),
	}
	if opts.ForceDownload {
		input.ResponseContentDisposition = aws.String(
			fmt.Sprintf("attachment; filename=%q", path.Base(subPath)))
	}

	req, _ := d.S3.GetObjectRequest(input)
	u, err := req.Presign(ttl)
	if err != nil {
		return nil, d.wrap("DownloadURL", err)
	}
	return &storagedriver.Link{
		URL:         u,
		Kind:        storagedriver.LinkDirect,
		ContentType: mimeFor(subPath),
		ExpiresIn:   ttl,
	}, nil
}
