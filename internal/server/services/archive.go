package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	sc "github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const archiveURLExpiry = 15 * time.Minute

var (
	maxArchiveEntries = 10000

	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) error {
		_, err := c.PutObject(ctx, in, optFns...)
		return err
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ArchiveResult points at an uploaded audit export. When more entries were
// available than one export holds, Truncated is set and NextSince is the
// timestamp to pass to the following export. Entries sharing that exact
// timestamp may appear in both files.
type ArchiveResult struct {
	Key       string     `json:"key"`
	URL       string     `json:"url"`
	Entries   int        `json:"entries"`
	Truncated bool       `json:"truncated"`
	NextSince *time.Time `json:"nextSince,omitempty"`
}

// AuditArchiveService exports the audit trail as JSON lines to S3-compatible
// storage.
type AuditArchiveService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	audit       AuditWriter
	logger      logging.Logger
}

func NewAuditArchiveService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, audit AuditWriter, logger logging.Logger) *AuditArchiveService {
	return &AuditArchiveService{db: db, repomanager: m, config: cfg, audit: audit, logger: logger.With("module", "archive")}
}

// ArchiveKey builds the object key for an export made at t.
func ArchiveKey(t time.Time) string {
	return fmt.Sprintf("audit/%04d/%02d/%02d/%v.jsonl", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *AuditArchiveService) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Export uploads entries created at or after since and returns a short-lived
// download URL.
func (s *AuditArchiveService) Export(ctx context.Context, meta RequestMeta, since time.Time) (*ArchiveResult, error) {
	res, err := s.export(ctx, since)

	e := models.AuditLogEntry{
		ActorRole:  common.UnknownActor,
		Action:     models.ActionExportAuditLogs,
		TargetType: strPtr("AUDIT_LOG"),
		Success:    err == nil,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Metadata:   map[string]string{"since": since.UTC().Format(time.RFC3339)},
	}
	if res != nil && res.Truncated {
		e.Metadata["nextSince"] = res.NextSince.Format(time.RFC3339Nano)
	}
	if meta.Actor != nil {
		e.ActorID = strPtr(meta.Actor.ID)
		e.ActorRole = string(meta.Actor.Role)
	}
	if res != nil {
		e.TargetID = strPtr(res.Key)
	}
	s.audit.Write(ctx, e)

	if err != nil {
		s.logger.Error(ctx, "audit export failed", "error", err)
		return nil, common.ErrorInternal
	}
	return res, nil
}

func (s *AuditArchiveService) export(ctx context.Context, since time.Time) (*ArchiveResult, error) {
	entries, err := s.repomanager.AuditLogs(s.db).ListSince(ctx, since, maxArchiveEntries+1)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if len(entries) > maxArchiveEntries {
		ts := entries[maxArchiveEntries].Timestamp.UTC()
		next = &ts
		entries = entries[:maxArchiveEntries]
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	key := ArchiveKey(now().UTC())

	err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return nil, err
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(archiveURLExpiry))
	if err != nil {
		return nil, err
	}

	return &ArchiveResult{
		Key:       key,
		URL:       req.URL,
		Entries:   len(entries),
		Truncated: next != nil,
		NextSince: next,
	}, nil
}
