package services

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// AuditWriter records audit entries. Write never fails and never blocks the
// caller.
type AuditWriter interface {
	Write(ctx context.Context, entry models.AuditLogEntry)
}

// AuditLog persists entries from a buffered queue on a background goroutine.
// When the queue is full, or the log is already closed, new entries are
// dropped and counted. Persistence errors are logged and discarded.
type AuditLog struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	logger       logging.Logger
	writeTimeout time.Duration

	ch        chan models.AuditLogEntry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	// mu orders sends against Close so nothing lands in the queue after the
	// final drain.
	mu     sync.RWMutex
	closed bool
}

func NewAuditLog(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, bufferSize int, writeTimeout time.Duration) *AuditLog {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	a := &AuditLog{
		db:           db,
		repomanager:  m,
		logger:       logger.With("module", "audit"),
		writeTimeout: writeTimeout,
		ch:           make(chan models.AuditLogEntry, bufferSize),
		done:         make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()

	return a
}

func (a *AuditLog) run() {
	defer a.wg.Done()

	for {
		select {
		case e := <-a.ch:
			a.persist(e)
		case <-a.done:
			for {
				select {
				case e := <-a.ch:
					a.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLog) persist(e models.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			a.logger.Error(ctx, "audit write panicked", "action", e.Action, "panic", p)
		}
	}()

	if err := a.repomanager.AuditLogs(a.db).Create(ctx, &e); err != nil {
		a.logger.Error(ctx, "audit write failed", "action", e.Action, "error", err)
	}
}

// Write stamps id and timestamp when missing and enqueues the entry.
func (a *AuditLog) Write(ctx context.Context, e models.AuditLogEntry) {
	if a == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now().UTC()
	}

	if reason := a.enqueue(e); reason != "" {
		a.dropped.Add(1)
		a.logger.Warn(ctx, "audit entry dropped", "reason", reason, "action", e.Action)
	}
}

// enqueue returns a non-empty reason when e was not queued.
func (a *AuditLog) enqueue(e models.AuditLogEntry) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return "closed"
	}
	select {
	case a.ch <- e:
		return ""
	default:
		return "queue full"
	}
}

// Close stops accepting entries and waits until queued ones are persisted.
func (a *AuditLog) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		close(a.done)
		a.wg.Wait()
	})
}

// Dropped reports how many entries were discarded, either because the queue
// was full or because they arrived after Close.
func (a *AuditLog) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}
