package subcoordinator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"

	"github.com/strandcast/strandcast/internal/config"
)

// archiver uploads completed video frame buffers to an S3-compatible bucket
// once they are no longer plausibly subject to a replay request. It is a
// durability/observability side-channel: failures are logged, never
// propagated, and archival never blocks streaming or replay.
type archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func newArchiver(cfg config.ArchiveConfig, logger *slog.Logger) (*archiver, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if _, err := awsCfg.Credentials.Retrieve(context.Background()); err != nil {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider("", "", "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// scheduleArchival waits gracePeriod after video_end, then archives every
// complete frame's concatenated chunk bytes as one pgzip-compressed object
// per video. Called from a detached goroutine; errors are logged only.
func (s *Subcoordinator) scheduleArchival(videoNumber int, vb *videoBuffer) {
	if s.archiver == nil {
		return
	}

	grace := s.cfg.Streaming.ReplayGraceFor
	if grace <= 0 {
		grace = 30 * time.Second
	}
	time.Sleep(grace)

	if err := s.archiver.archive(videoNumber, vb); err != nil {
		s.logger.Error("archival failed", "video_number", videoNumber, "error", err)
	}
}

func (a *archiver) archive(videoNumber int, vb *videoBuffer) error {
	var buf bytes.Buffer
	gw := pgzip.NewWriter(&buf)

	for _, chunks := range vb.allFrames() {
		for _, chunk := range chunks {
			if _, err := gw.Write(chunk); err != nil {
				gw.Close()
				return fmt.Errorf("compressing frame buffer: %w", err)
			}
		}
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing pgzip writer: %w", err)
	}

	key := fmt.Sprintf("%svideo_%d.bin.gz", a.prefix, videoNumber)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading to s3: %w", err)
	}

	a.logger.Info("video frame buffer archived", "video_number", videoNumber, "bucket", a.bucket, "key", key, "bytes", buf.Len())
	return nil
}
