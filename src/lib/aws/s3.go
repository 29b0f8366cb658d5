package aws

import (
	"bytes"
	"context"
	"log"
	"thruster/src/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the slice of the S3 API used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func GetS3Client() *s3.Client {
	cfg, err := lib.AWSConfig()
	if err != nil {
		return nil
	}
	return s3.NewFromConfig(*cfg)
}

// S3PutJSON writes body under key. Re-uploading the same key replaces the object.
func S3PutJSON(ctx context.Context, client ObjectPutter, bucket, key string, body []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		log.Printf("Could not put object %s to S3 bucket %s: %s\n", key, bucket, err.Error())
		return err
	}
	return nil
}
