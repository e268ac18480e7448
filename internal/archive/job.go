package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/repository"
)

// lookbackWindow is how far back each run gathers records. A day's run
// covers the prior day plus a small overlap, so a single missed run does
// not lose data.
const lookbackWindow = 26 * time.Hour

// batch is the archived unit: one gzipped JSON object per run containing
// every validation report and audit record written in the window.
type batch struct {
	GeneratedAt       time.Time                         `json:"generated_at"`
	WindowStart       time.Time                         `json:"window_start"`
	ValidationReports []json.RawMessage                  `json:"validation_reports"`
	AuditRecords      []json.RawMessage                  `json:"audit_records"`
}

// Job uploads a daily batch of validation reports and audit records to the
// configured bucket. It is a no-op (Run returns nil immediately) when no
// client was configured, so callers can always register it unconditionally.
type Job struct {
	client *Client
	repo   *repository.Repository
	log    zerolog.Logger
}

// NewJob builds the archival job. client may be nil, in which case Run is a
// no-op — this lets callers wire the job even when archival is disabled in
// configuration.
func NewJob(client *Client, repo *repository.Repository, log zerolog.Logger) *Job {
	return &Job{client: client, repo: repo, log: log.With().Str("job", "archive_daily").Logger()}
}

func (j *Job) Name() string { return "archive_daily" }

func (j *Job) Run(ctx context.Context) error {
	if j.client == nil {
		j.log.Debug().Msg("archival disabled, skipping")
		return nil
	}

	since := time.Now().UTC().Add(-lookbackWindow)

	reports, err := j.repo.ListValidationReportsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list validation reports: %w", err)
	}
	audits, err := j.repo.ListAuditRecordsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list audit records: %w", err)
	}
	if len(reports) == 0 && len(audits) == 0 {
		j.log.Debug().Msg("nothing to archive")
		return nil
	}

	b := batch{GeneratedAt: time.Now().UTC(), WindowStart: since}
	for _, rep := range reports {
		raw, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshal validation report %s: %w", rep.ReportID, err)
		}
		b.ValidationReports = append(b.ValidationReports, raw)
	}
	for _, rec := range audits {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record %s: %w", rec.AuditID, err)
		}
		b.AuditRecords = append(b.AuditRecords, raw)
	}

	key := fmt.Sprintf("archive/%s.json.gz", time.Now().UTC().Format("2006-01-02-150405"))
	if err := j.client.uploadBatch(ctx, key, b); err != nil {
		return fmt.Errorf("upload archive batch: %w", err)
	}

	j.log.Info().
		Str("key", key).
		Int("validation_reports", len(b.ValidationReports)).
		Int("audit_records", len(b.AuditRecords)).
		Msg("archive batch uploaded")
	return nil
}

func (c *Client) uploadBatch(ctx context.Context, key string, b batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(payload); err != nil {
		return fmt.Errorf("gzip batch: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        &compressed,
		ContentType: aws.String("application/gzip"),
	})
	return err
}
