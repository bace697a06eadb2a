// Package uploader streams large objects to S3-compatible storage using
// the multipart upload protocol: the byte stream is split into
// size-bounded parts, parts are uploaded concurrently under a configurable
// bound, and the upload is completed or aborted depending on outcome.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-multipartupload/dispatch"
	"github.com/bitrise-io/go-multipartupload/splitter"
)

// S3 bounds for a single part of a multipart upload.
// https://docs.aws.amazon.com/AmazonS3/latest/userguide/qfacts.html
const (
	MinPartSize = 5 * units.MiB
	MaxPartSize = 5 * units.GiB
)

// Params describe one upload.
type Params struct {
	Bucket string
	Key    string
	// Source provides the object's bytes.
	Source splitter.Source
	// MinPartSize and MaxPartSize bound the length of every part except
	// the last. Zero values default to the S3 limits of 5 MiB and 5 GiB.
	MinPartSize int64
	MaxPartSize int64
	// Concurrency caps the number of parts uploaded at once; 0 means no
	// cap.
	Concurrency int
}

// Uploader performs multipart uploads through an S3 client. The client is
// passed in explicitly so callers control its configuration and lifetime.
type Uploader struct {
	client S3Client
	logger log.Logger
}

// New ...
func New(client S3Client, logger log.Logger) *Uploader {
	return &Uploader{
		client: client,
		logger: logger,
	}
}

// Upload streams params.Source to the given bucket and key. The multipart
// session is created, parts are uploaded concurrently, and the session is
// completed; after any failure past creation the session is aborted
// best-effort and the original error is returned. An abort failure is
// logged as a warning and never replaces that error.
//
// An empty source is written with a single PutObject instead, since S3
// rejects completing a multipart upload with no parts.
func (u *Uploader) Upload(ctx context.Context, params Params) (*s3.CompleteMultipartUploadOutput, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	minSize, maxSize := params.partSizeRange()
	split, err := splitter.New(params.Source, minSize, maxSize)
	if err != nil {
		return nil, err
	}

	u.logger.Debugf("Creating multipart upload for s3://%s/%s", params.Bucket, params.Key)
	created, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
	})
	if err != nil {
		// Nothing exists remotely yet, no cleanup to do.
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	completed, err := dispatch.Run(ctx, u.partTasks(split, params, uploadID), params.Concurrency)
	if err != nil {
		u.abort(ctx, params.Bucket, params.Key, uploadID)
		return nil, err
	}

	if len(completed) == 0 {
		u.logger.Debugf("Source is empty, writing s3://%s/%s as a plain empty object", params.Bucket, params.Key)
		u.abort(ctx, params.Bucket, params.Key, uploadID)
		return u.putEmptyObject(ctx, params)
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})
	if err := validatePartSequence(completed); err != nil {
		u.abort(ctx, params.Bucket, params.Key, uploadID)
		return nil, err
	}

	u.logger.Debugf("Completing multipart upload %s with %d parts", uploadID, len(completed))
	output, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(params.Bucket),
		Key:      aws.String(params.Key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		// The uploaded parts exist remotely until the session is aborted.
		u.abort(ctx, params.Bucket, params.Key, uploadID)
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	return output, nil
}

// partTasks adapts the splitter's part sequence into upload tasks for the
// dispatcher. Parts are numbered in source order; upload completion order
// carries no meaning.
func (u *Uploader) partTasks(split *splitter.Splitter, params Params, uploadID string) dispatch.Source[types.CompletedPart] {
	return dispatch.SourceFunc[types.CompletedPart](func() (dispatch.Task[types.CompletedPart], error) {
		part, err := split.Next()
		if err != nil {
			// io.EOF passes through as exhaustion.
			return nil, err
		}
		return func(ctx context.Context) (types.CompletedPart, error) {
			return u.uploadPart(ctx, params, uploadID, part)
		}, nil
	})
}

func (u *Uploader) uploadPart(ctx context.Context, params Params, uploadID string, part *splitter.Part) (types.CompletedPart, error) {
	u.logger.Debugf("Uploading part %d (%s)",
		part.PartNumber, units.HumanSizeWithPrecision(float64(part.ContentLength), 3))

	output, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(params.Bucket),
		Key:           aws.String(params.Key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(part.PartNumber),
		Body:          newPartReader(part.Body),
		ContentLength: aws.Int64(part.ContentLength),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(part.ContentMD5[:])),
	})
	if err != nil {
		return types.CompletedPart{}, fmt.Errorf("upload part %d: %w", part.PartNumber, err)
	}

	return types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(part.PartNumber),
	}, nil
}

// abort discards the incomplete session. It is best effort: a failure is
// logged but never replaces the error that led here.
func (u *Uploader) abort(ctx context.Context, bucket, key, uploadID string) {
	_, err := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload" {
			// Already gone, nothing left to clean up.
			return
		}
		u.logger.Warnf("Failed to abort multipart upload %s: %s", uploadID, err)
	}
}

func (u *Uploader) putEmptyObject(ctx context.Context, params Params) (*s3.CompleteMultipartUploadOutput, error) {
	output, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(params.Bucket),
		Key:           aws.String(params.Key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, fmt.Errorf("put empty object: %w", err)
	}

	return &s3.CompleteMultipartUploadOutput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
		ETag:   output.ETag,
	}, nil
}

// validatePartSequence checks that the sorted completed parts are numbered
// exactly 1..N. A hole or duplicate means a part was dropped or doubled on
// the way to the dispatcher, and completing would corrupt the object.
func validatePartSequence(parts []types.CompletedPart) error {
	for i, part := range parts {
		if n := aws.ToInt32(part.PartNumber); n != int32(i+1) {
			return fmt.Errorf("completed parts out of sequence: got part %d at position %d", n, i+1)
		}
	}
	return nil
}

func (params Params) validate() error {
	if params.Bucket == "" {
		return fmt.Errorf("bucket must not be empty")
	}
	if params.Key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if params.Source == nil {
		return fmt.Errorf("source must not be nil")
	}
	if params.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", params.Concurrency)
	}

	minSize, maxSize := params.partSizeRange()
	if minSize <= 0 {
		return fmt.Errorf("minimum part size must be positive, got %d", minSize)
	}
	if maxSize < minSize {
		return fmt.Errorf("maximum part size %s is smaller than minimum part size %s",
			units.BytesSize(float64(maxSize)), units.BytesSize(float64(minSize)))
	}

	return nil
}

func (params Params) partSizeRange() (int64, int64) {
	minSize := params.MinPartSize
	if minSize == 0 {
		minSize = MinPartSize
	}
	maxSize := params.MaxPartSize
	if maxSize == 0 {
		maxSize = MaxPartSize
	}
	return minSize, maxSize
}
