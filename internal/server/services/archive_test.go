package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	sc "github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Capture struct {
	bucket   string
	key      string
	body     []byte
	endpoint string
	region   string
	expires  time.Duration
}

func stubS3(t *testing.T, putErr, presignErr error) *s3Capture {
	t.Helper()

	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	origPre := newS3PresignClient
	origPut := putObject
	origGet := presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
		newS3PresignClient = origPre
		putObject = origPut
		presignGetObject = origGet
	})

	c := &s3Capture{}

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		c.region = lo.Region
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var o s3.Options
		for _, fn := range optFns {
			fn(&o)
		}
		if o.BaseEndpoint != nil {
			c.endpoint = *o.BaseEndpoint
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(*s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
	putObject = func(_ *s3.Client, _ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) error {
		if putErr != nil {
			return putErr
		}
		c.bucket = *in.Bucket
		c.key = *in.Key
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		c.body = b
		return nil
	}
	presignGetObject = func(_ *s3.PresignClient, _ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if presignErr != nil {
			return nil, presignErr
		}
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		c.expires = po.Expires
		return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Key + "?sig=1"}, nil
	}
	return c
}

func testArchiveConfig() *sc.Config {
	return &sc.Config{
		S3Region:       "eu-central-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "audit-archive",
	}
}

func TestArchiveKey(t *testing.T) {
	k := ArchiveKey(time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^audit/2025/02/03/[0-9a-f-]{36}\.jsonl$`), k)
}

func TestAuditArchiveService_Export(t *testing.T) {
	at := time.Date(2025, 8, 9, 10, 0, 0, 0, time.UTC)
	freezeNow(t, at)

	rm := newFakeRepoManager()
	fillAudit(rm, 5, at.Add(-5*time.Minute))
	c := stubS3(t, nil, nil)
	rec := &recordingAuditor{}
	s := NewAuditArchiveService(nil, rm, testArchiveConfig(), rec, nopLogger{})

	admin := RequestMeta{Actor: &Actor{ID: "admin-1", Role: models.RoleAdmin}}
	res, err := s.Export(context.Background(), admin, at.Add(-3*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Entries)
	assert.False(t, res.Truncated)
	assert.Nil(t, res.NextSince)
	assert.Equal(t, c.key, res.Key)
	assert.Contains(t, res.URL, res.Key)
	assert.Regexp(t, `^audit/2025/08/09/`, res.Key)

	assert.Equal(t, "audit-archive", c.bucket)
	assert.Equal(t, "eu-central-1", c.region)
	assert.Equal(t, "http://127.0.0.1:9000", c.endpoint)
	assert.Equal(t, 15*time.Minute, c.expires)

	scanner := bufio.NewScanner(bytes.NewReader(c.body))
	var ids []string
	for scanner.Scan() {
		var e models.AuditLogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e002", "e003", "e004"}, ids)

	e := rec.last()
	assert.Equal(t, models.ActionExportAuditLogs, e.Action)
	assert.True(t, e.Success)
	require.NotNil(t, e.TargetID)
	assert.Equal(t, res.Key, *e.TargetID)
}

func TestAuditArchiveService_ExportReportsTruncation(t *testing.T) {
	at := time.Date(2025, 8, 9, 10, 0, 0, 0, time.UTC)
	freezeNow(t, at)

	orig := maxArchiveEntries
	t.Cleanup(func() { maxArchiveEntries = orig })
	maxArchiveEntries = 4

	rm := newFakeRepoManager()
	start := at.Add(-time.Hour)
	fillAudit(rm, 6, start)
	c := stubS3(t, nil, nil)
	rec := &recordingAuditor{}
	s := NewAuditArchiveService(nil, rm, testArchiveConfig(), rec, nopLogger{})

	res, err := s.Export(context.Background(), RequestMeta{}, start)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Entries)
	assert.True(t, res.Truncated)
	require.NotNil(t, res.NextSince)
	assert.Equal(t, start.Add(4*time.Minute), *res.NextSince)
	assert.Equal(t, 4, bytes.Count(c.body, []byte("\n")))
	assert.Equal(t, res.NextSince.Format(time.RFC3339Nano), rec.last().Metadata["nextSince"])

	res, err = s.Export(context.Background(), RequestMeta{}, *res.NextSince)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.False(t, res.Truncated)
}

func TestAuditArchiveService_ExportFailures(t *testing.T) {
	tests := []struct {
		name       string
		repoErr    error
		putErr     error
		presignErr error
	}{
		{name: "repo", repoErr: errBoom},
		{name: "put", putErr: errBoom},
		{name: "presign", presignErr: errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newFakeRepoManager()
			rm.audit.err = tt.repoErr
			stubS3(t, tt.putErr, tt.presignErr)
			rec := &recordingAuditor{}
			s := NewAuditArchiveService(nil, rm, testArchiveConfig(), rec, nopLogger{})

			_, err := s.Export(context.Background(), RequestMeta{}, time.Now().Add(-time.Hour))
			assert.ErrorIs(t, err, common.ErrorInternal)
			assert.False(t, rec.last().Success)
		})
	}
}

func TestAuditArchiveService_ConfigLoadError(t *testing.T) {
	stubS3(t, nil, nil)
	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errBoom
	}

	s := NewAuditArchiveService(nil, newFakeRepoManager(), testArchiveConfig(), &recordingAuditor{}, nopLogger{})
	_, err := s.Export(context.Background(), RequestMeta{}, time.Now())
	assert.ErrorIs(t, err, common.ErrorInternal)
}
