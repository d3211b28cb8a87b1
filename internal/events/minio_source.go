package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"
	log "github.com/sirupsen/logrus"
)

const objectCreatedEvent = "s3:ObjectCreated:*"

// MediaEvent is one media object landing in the report bucket.
type MediaEvent struct {
	JobID     string
	MediaID   string
	FileName  string
	ObjectKey string
	EventName string
}

type MediaEventSource interface {
	Run(ctx context.Context, handler func(context.Context, MediaEvent) error) error
}

type MinioMediaEventSource struct {
	client *minio.Client
	bucket string
	prefix string
	suffix string
}

func NewMinioMediaEventSource(client *minio.Client, bucket string, prefix string, suffix string) *MinioMediaEventSource {
	return &MinioMediaEventSource{
		client: client,
		bucket: bucket,
		prefix: prefix,
		suffix: suffix,
	}
}

// Run blocks until ctx is cancelled or the notification stream fails. A handler error stops
// the stream and is returned.
func (s *MinioMediaEventSource) Run(ctx context.Context, handler func(context.Context, MediaEvent) error) error {
	notificationCh := s.client.ListenBucketNotification(ctx, s.bucket, s.prefix, s.suffix, []string{objectCreatedEvent})
	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-notificationCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream closed")
			}
			if info.Err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream error: %w", info.Err)
			}
			if err := dispatch(ctx, info.Records, handler); err != nil {
				return err
			}
		}
	}
}

func dispatch(ctx context.Context, records []notification.Event, handler func(context.Context, MediaEvent) error) error {
	for _, record := range records {
		objectKey, err := decodeObjectKey(record.S3.Object.Key)
		if err != nil {
			continue
		}
		jobID, mediaID, fileName, err := parseObjectKey(objectKey)
		if err != nil {
			log.WithError(err).Debug("skipping object outside the media layout")
			continue
		}
		event := MediaEvent{
			JobID:     jobID,
			MediaID:   mediaID,
			FileName:  fileName,
			ObjectKey: objectKey,
			EventName: record.EventName,
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func decodeObjectKey(encoded string) (string, error) {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", err
	}
	decoded = strings.TrimSpace(decoded)
	if decoded == "" {
		return "", fmt.Errorf("object key is empty")
	}
	return decoded, nil
}

// parseObjectKey splits job_id/media_id/file_name. The file name may itself contain slashes.
func parseObjectKey(objectKey string) (string, string, string, error) {
	cleaned := strings.Trim(strings.ReplaceAll(objectKey, "\\", "/"), "/")
	parts := strings.SplitN(cleaned, "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("object key %q does not match job_id/media_id/file_name", objectKey)
	}
	jobID := strings.TrimSpace(parts[0])
	mediaID := strings.TrimSpace(parts[1])
	fileName := strings.TrimSpace(parts[2])
	if jobID == "" || mediaID == "" || fileName == "" {
		return "", "", "", fmt.Errorf("object key %q missing job id, media id or file name", objectKey)
	}
	return jobID, mediaID, fileName, nil
}
