package uploader

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const fakeUploadID = "fake-upload-id"

type uploadedPart struct {
	number        int32
	body          []byte
	contentLength int64
	contentMD5    string
}

// fakeS3Client records every call and can fail any operation on demand.
type fakeS3Client struct {
	mu sync.Mutex

	createErr   error
	uploadErr   func(partNumber int32) error
	completeErr error
	abortErr    error
	putErr      error

	createCalls   int
	completeCalls int
	abortCalls    int
	putCalls      int

	parts             []uploadedPart
	completedParts    []types.CompletedPart
	completedUploadID string
	abortedUploadID   string

	running    int
	maxRunning int
}

func (c *fakeS3Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.createCalls++
	if c.createErr != nil {
		return nil, c.createErr
	}
	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(fakeUploadID),
	}, nil
}

func (c *fakeS3Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	c.mu.Lock()
	c.running++
	if c.running > c.maxRunning {
		c.maxRunning = c.running
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running--
		c.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	number := aws.ToInt32(params.PartNumber)
	if c.uploadErr != nil {
		if err := c.uploadErr(number); err != nil {
			return nil, err
		}
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if aws.ToString(params.UploadId) != fakeUploadID {
		return nil, fmt.Errorf("unknown upload ID %q", aws.ToString(params.UploadId))
	}
	if aws.ToInt64(params.ContentLength) != int64(len(body)) {
		return nil, fmt.Errorf("content length %d does not match body length %d",
			aws.ToInt64(params.ContentLength), len(body))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts = append(c.parts, uploadedPart{
		number:        number,
		body:          body,
		contentLength: aws.ToInt64(params.ContentLength),
		contentMD5:    aws.ToString(params.ContentMD5),
	})
	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("\"etag-%d\"", number)),
	}, nil
}

func (c *fakeS3Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completeCalls++
	if c.completeErr != nil {
		return nil, c.completeErr
	}
	c.completedUploadID = aws.ToString(params.UploadId)
	if params.MultipartUpload != nil {
		c.completedParts = params.MultipartUpload.Parts
	}
	return &s3.CompleteMultipartUploadOutput{
		Bucket: params.Bucket,
		Key:    params.Key,
		ETag:   aws.String("\"final-etag\""),
	}, nil
}

func (c *fakeS3Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abortCalls++
	if c.abortErr != nil {
		return nil, c.abortErr
	}
	c.abortedUploadID = aws.ToString(params.UploadId)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *fakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putCalls++
	if c.putErr != nil {
		return nil, c.putErr
	}
	return &s3.PutObjectOutput{
		ETag: aws.String("\"empty-etag\""),
	}, nil
}

// sortedBody reassembles the uploaded parts in part-number order.
func (c *fakeS3Client) sortedBody() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	byNumber := map[int32][]byte{}
	var max int32
	for _, part := range c.parts {
		byNumber[part.number] = part.body
		if part.number > max {
			max = part.number
		}
	}

	var body []byte
	for n := int32(1); n <= max; n++ {
		body = append(body, byNumber[n]...)
	}
	return body
}

// failingSource yields its chunks and then fails with err instead of
// signalling a normal end of stream.
type failingSource struct {
	chunks [][]byte
	err    error
}

func (s *failingSource) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}
