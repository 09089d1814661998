package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/auditlogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingAudit holds every Create until release is closed.
type blockingAudit struct {
	memAudit
	started chan struct{}
	release chan struct{}
}

func (b *blockingAudit) Create(ctx context.Context, e *models.AuditLogEntry) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.memAudit.Create(ctx, e)
}

type blockingRepoManager struct {
	*fakeRepoManager
	a auditlogs.Repository
}

func (m *blockingRepoManager) AuditLogs(dbx.DBTX) auditlogs.Repository { return m.a }

type panickingAudit struct{ memAudit }

func (p *panickingAudit) Create(context.Context, *models.AuditLogEntry) error {
	panic("driver exploded")
}

func TestAuditLog_PersistsAndStamps(t *testing.T) {
	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	freezeNow(t, at)

	rm := newFakeRepoManager()
	a := NewAuditLog(nil, rm, nopLogger{}, 8, time.Second)

	a.Write(context.Background(), models.AuditLogEntry{Action: models.ActionLoginInitiate, Success: true})
	a.Close()

	require.Equal(t, 1, rm.audit.len())
	e := rm.audit.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, uint64(0), a.Dropped())
}

func TestAuditLog_RepoFailureDoesNotReachCaller(t *testing.T) {
	rm := newFakeRepoManager()
	rm.audit.err = errBoom
	a := NewAuditLog(nil, rm, nopLogger{}, 4, time.Second)

	assert.NotPanics(t, func() {
		a.Write(context.Background(), models.AuditLogEntry{Action: models.ActionPasswordReset})
		a.Close()
	})
	assert.Equal(t, 0, rm.audit.len())
}

func TestAuditLog_RepoPanicIsContained(t *testing.T) {
	rm := &blockingRepoManager{fakeRepoManager: newFakeRepoManager(), a: &panickingAudit{}}
	a := NewAuditLog(nil, rm, nopLogger{}, 4, time.Second)

	assert.NotPanics(t, func() {
		a.Write(context.Background(), models.AuditLogEntry{Action: models.ActionLoginVerify})
		a.Write(context.Background(), models.AuditLogEntry{Action: models.ActionLoginVerify})
		a.Close()
	})
}

func TestAuditLog_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := &blockingAudit{started: make(chan struct{}, 1), release: make(chan struct{})}
	rm := &blockingRepoManager{fakeRepoManager: newFakeRepoManager(), a: b}
	a := NewAuditLog(nil, rm, nopLogger{}, 1, time.Second)
	ctx := context.Background()

	// first entry is picked up and blocks the worker
	a.Write(ctx, models.AuditLogEntry{Action: "A"})
	<-b.started
	// second fills the queue
	a.Write(ctx, models.AuditLogEntry{Action: "B"})

	done := make(chan struct{})
	go func() {
		a.Write(ctx, models.AuditLogEntry{Action: "C"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full queue")
	}
	assert.Equal(t, uint64(1), a.Dropped())

	close(b.release)
	a.Close()
	assert.Equal(t, 2, b.len())
}

func TestAuditLog_WriteAfterCloseIsCountedAsDropped(t *testing.T) {
	rm := newFakeRepoManager()
	a := NewAuditLog(nil, rm, nopLogger{}, 4, time.Second)
	a.Close()
	a.Close()

	a.Write(context.Background(), models.AuditLogEntry{Action: "late"})
	assert.Equal(t, 0, rm.audit.len())
	assert.Equal(t, uint64(1), a.Dropped())

	var nilLog *AuditLog
	assert.NotPanics(t, func() {
		nilLog.Write(context.Background(), models.AuditLogEntry{})
		nilLog.Close()
	})
	assert.Equal(t, uint64(0), nilLog.Dropped())
}

func TestAuditLog_WritesRacingCloseAreNeverLost(t *testing.T) {
	const writers, perWriter = 16, 50

	rm := newFakeRepoManager()
	a := NewAuditLog(nil, rm, nopLogger{}, writers*perWriter, time.Second)
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				a.Write(ctx, models.AuditLogEntry{Action: models.ActionLoginInitiate})
			}
		}()
	}

	close(start)
	a.Close()
	wg.Wait()

	persisted := uint64(rm.audit.len())
	assert.Equal(t, uint64(writers*perWriter), persisted+a.Dropped(),
		"every entry must be either persisted or counted as dropped")
}
