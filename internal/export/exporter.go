// Package export publishes daily funnel aggregates as CSV objects in S3 for
// the analytics warehouse to pick up.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/funnel"
)

// StatsSource is the slice of the funnel service the exporter reads from.
type StatsSource interface {
	DailyStats(ctx context.Context, q funnel.Query) ([]domain.DailyFunnelStat, error)
}

// objectPutter is the single S3 call the exporter makes; *s3.Client
// satisfies it.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter renders one day of funnel stats to CSV and uploads it.
type Exporter struct {
	client objectPutter
	bucket string
	prefix string
	stats  StatsSource
}

// Config holds the S3 destination for exports.
type Config struct {
	Bucket string
	Prefix string // e.g. "exports/funnel/"
	Region string
}

// NewExporter creates an exporter using the default AWS credential chain.
func NewExporter(ctx context.Context, cfg Config, stats StatsSource) (*Exporter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix, stats), nil
}

// New creates an exporter with an explicit S3 client.
func New(client objectPutter, bucket, prefix string, stats StatsSource) *Exporter {
	return &Exporter{client: client, bucket: bucket, prefix: prefix, stats: stats}
}

// ExportDay uploads the funnel stats for the calendar day containing t
// (UTC). The object key is <prefix>YYYY-MM-DD.csv; re-running a day
// overwrites the previous object, so the export is safe to retry.
func (e *Exporter) ExportDay(ctx context.Context, t time.Time) (string, error) {
	day := t.UTC().Truncate(24 * time.Hour)
	from := day
	to := day.Add(24*time.Hour - time.Nanosecond)

	stats, err := e.stats.DailyStats(ctx, funnel.Query{From: &from, To: &to})
	if err != nil {
		return "", fmt.Errorf("load daily stats: %w", err)
	}

	body, err := renderCSV(stats)
	if err != nil {
		return "", fmt.Errorf("render csv: %w", err)
	}

	key := e.prefix + day.Format("2006-01-02") + ".csv"
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	log.Printf("[export.Exporter] uploaded %d rows to s3://%s/%s", len(stats), e.bucket, key)
	return key, nil
}

func renderCSV(stats []domain.DailyFunnelStat) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"date", "event_name", "variant_id", "events", "sessions"}); err != nil {
		return nil, err
	}
	for _, s := range stats {
		rec := []string{
			s.Date, s.EventName, s.VariantID,
			strconv.Itoa(s.Events), strconv.Itoa(s.Sessions),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
