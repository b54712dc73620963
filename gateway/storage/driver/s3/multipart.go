package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	awss3 "github.com/aws/aws-sdk-go/service/s3"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// The session manager normalizes part sizes to >= 5 MiB before calling in;
// the provider session carries the S3 upload ID and object key.

const metaKey = "key"

func (d *driver) MultipartInit(ctx context.Context, subPath string, init storagedriver.MultipartInit) (*storagedriver.ProviderSession, error) {
	key := d.s3Path(subPath)
	contentType := init.ContentType
	if contentType == "" {
		contentType = mimeFor(subPath)
	}

	create, err := d.S3.CreateMultipartUploadWithContext(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:      aws.String(d.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, d.wrap("MultipartInit", err)
	}
	return &storagedriver.ProviderSession{
		Strategy: storagedriver.StrategyS3Multipart,
		UploadID: aws.StringValue(create.UploadId),
		Meta:     map[string]string{metaKey: key},
	}, nil
}

func (d *driver) MultipartPutChunk(ctx context.Context, sess *storagedriver.ProviderSession, partNumber int, _ string, body io.Reader, length int64) (*storagedriver.ChunkResult, error) {
	buf := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(body, buf); err != nil {
			return nil, err
		}
	}
	part, err := d.S3.UploadPartWithContext(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(d.Bucket),
		Key:        aws.String(sess.Meta[metaKey]),
		UploadId:   aws.String(sess.UploadID),
		PartNumber: aws.Int64(int64(partNumber)),
		Body:       bytes.NewReader(buf),
	})
	if err != nil {
		if isSessionGone(err) {
			return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
		}
		return nil, d.wrap("MultipartPutChunk", err)
	}
	return &storagedriver.ChunkResult{
		BytesAccepted: -1,
		ETag:          strings.Trim(aws.StringValue(part.ETag), `"`),
	}, nil
}

// MultipartProbe reports the provider's completed parts via ListParts. S3
// keeps real per-part state, so progress is the contiguous prefix of parts.
func (d *driver) MultipartProbe(ctx context.Context, sess *storagedriver.ProviderSession, _ int64) (*storagedriver.ChunkResult, error) {
	var parts []storagedriver.Part
	err := d.S3.ListPartsPagesWithContext(ctx, &awss3.ListPartsInput{
		Bucket:   aws.String(d.Bucket),
		Key:      aws.String(sess.Meta[metaKey]),
		UploadId: aws.String(sess.UploadID),
	}, func(page *awss3.ListPartsOutput, _ bool) bool {
		for _, p := range page.Parts {
			parts = append(parts, storagedriver.Part{
				Number: int(aws.Int64Value(p.PartNumber)),
				Size:   aws.Int64Value(p.Size),
				ETag:   strings.Trim(aws.StringValue(p.ETag), `"`),
			})
		}
		return true
	})
	if err != nil {
		if isSessionGone(err) {
			return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
		}
		return nil, d.wrap("MultipartProbe", err)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	var accepted int64
	for i, p := range parts {
		if p.Number != i+1 {
			break
		}
		accepted += p.Size
	}
	return &storagedriver.ChunkResult{
		BytesAccepted: accepted,
		Parts:         parts,
	}, nil
}

func (d *driver) MultipartComplete(ctx context.Context, subPath string, sess *storagedriver.ProviderSession, parts []storagedriver.Part) (*storagedriver.UploadResult, error) {
	completed := make([]*awss3.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = &awss3.CompletedPart{
			PartNumber: aws.Int64(int64(p.Number)),
			ETag:       aws.String(p.ETag),
		}
	}
	out, err := d.S3.CompleteMultipartUploadWithContext(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.Bucket),
		Key:             aws.String(sess.Meta[metaKey]),
		UploadId:        aws.String(sess.UploadID),
		MultipartUpload: &awss3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if isSessionGone(err) {
			return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
		}
		return nil, d.wrap("MultipartComplete", err)
	}

	var size int64
	for _, p := range parts {
		size += p.Size
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        strings.Trim(aws.StringValue(out.ETag), `"`),
		Size:        size,
	}, nil
}

func (d *driver) MultipartAbort(ctx context.Context, _ string, sess *storagedriver.ProviderSession) error {
	_, err := d.S3.AbortMultipartUploadWithContext(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.Bucket),
		Key:      aws.String(sess.Meta[metaKey]),
		UploadId: aws.String(sess.UploadID),
	})
	if err != nil && !isSessionGone(err) {
		return d.wrap("MultipartAbort", err)
	}
	return nil
}

// MultipartPartURLs presigns one PUT per requested part so chunk bytes
// bypass the gateway entirely.
func (d *driver) MultipartPartURLs(_ context.Context, sess *storagedriver.ProviderSession, partNumbers []int) (map[int]string, error) {
	ttl := d.SignatureTTL * 9 / 10
	urls := make(map[int]string, len(partNumbers))
	for _, n := range partNumbers {
		req, _ := d.S3.UploadPartRequest(&awss3.UploadPartInput{
			Bucket:     aws.String(d.Bucket),
			Key:        aws.String(sess.Meta[metaKey]),
			UploadId:   aws.String(sess.UploadID),
			PartNumber: aws.Int64(int64(n)),
		})
		u, err := req.Presign(ttl)
		if err != nil {
			return nil, d.wrap("MultipartPartURLs", err)
		}
		urls[n] = u
	}
	return urls, nil
}

func isSessionGone(err error) bool {
	if isAWSErrCode(err, "NoSuchUpload") {
		return true
	}
	if rf, ok := err.(awserr.RequestFailure); ok && rf.StatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
