// Command multipart-upload uploads a single file to an S3 bucket using
// the multipart upload protocol.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/bitrise-io/go-multipartupload/splitter"
	"github.com/bitrise-io/go-multipartupload/uploader"
)

func main() {
	logger := log.NewLogger()
	if err := run(logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	var (
		bucket      = pflag.String("bucket", "", "target S3 bucket (required)")
		key         = pflag.String("key", "", "object key (required)")
		file        = pflag.String("file", "", "file to upload (required)")
		partSize    = pflag.String("part-size", "16MiB", "minimum part size, e.g. 16MiB or 1GB")
		concurrency = pflag.Int("concurrency", 4, "parts uploaded at once, 0 for no limit")
		region      = pflag.String("region", os.Getenv("AWS_REGION"), "AWS region")
		accessKeyID = pflag.String("access-key-id", os.Getenv("AWS_ACCESS_KEY_ID"), "AWS access key ID")
		secretKey   = pflag.String("secret-access-key", os.Getenv("AWS_SECRET_ACCESS_KEY"), "AWS secret access key")
		verbose     = pflag.Bool("verbose", false, "enable debug logging")
	)
	pflag.Parse()

	logger.EnableDebugLog(*verbose)

	if *bucket == "" || *key == "" || *file == "" {
		pflag.Usage()
		return fmt.Errorf("bucket, key and file are required")
	}

	size, err := units.RAMInBytes(*partSize)
	if err != nil {
		return fmt.Errorf("parse part size: %w", err)
	}

	ctx := context.Background()
	client, err := uploader.NewClient(ctx, *region, *accessKeyID, *secretKey, logger)
	if err != nil {
		return fmt.Errorf("create S3 client: %w", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	output, err := uploader.New(client, logger).Upload(ctx, uploader.Params{
		Bucket:      *bucket,
		Key:         *key,
		Source:      splitter.NewReaderSource(f, 0),
		MinPartSize: size,
		MaxPartSize: 2 * size,
		Concurrency: *concurrency,
	})
	if err != nil {
		return err
	}

	logger.Printf("Uploaded s3://%s/%s, ETag: %s", *bucket, *key, aws.ToString(output.ETag))
	return nil
}
