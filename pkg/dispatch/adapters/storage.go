package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StorageDestination writes the event payload, as one JSON object, to an
// object storage bucket at destination_config's fixed "bucket" and "key".
// The key is not built from the route's field_mapping or the event, and
// file attachments are not uploaded. Credentials are resolved the standard AWS SDK way
// (environment, shared config, or an explicit destination_config region)
// rather than a bespoke encrypted-connection-record lookup, since this
// module doesn't own a secrets store - see DESIGN.md.
type StorageDestination struct {
	uploaderFor func(ctx context.Context, region string) (*manager.Uploader, error)
}

func NewStorageDestination() *StorageDestination {
	return &StorageDestination{uploaderFor: defaultUploaderFor}
}

func defaultUploaderFor(ctx context.Context, region string) (*manager.Uploader, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return manager.NewUploader(s3.NewFromConfig(cfg)), nil
}

func (s *StorageDestination) Send(ctx context.Context, cfg map[string]any, payload map[string]any) (Result, error) {
	bucket, _ := cfg["bucket"].(string)
	key, _ := cfg["key"].(string)
	region, _ := cfg["region"].(string)
	if bucket == "" || key == "" {
		return Result{}, fmt.Errorf("storage destination config missing bucket or key")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling storage payload: %w", err)
	}

	uploader, err := s.uploaderFor(ctx, region)
	if err != nil {
		return Result{}, err
	}

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("uploading to storage: %w", err)
	}
	return Result{ResponseStatus: 200, ResponseBody: "s3://" + bucket + "/" + key}, nil
}
