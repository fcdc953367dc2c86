// Package idempotency provides an in-memory inbox so that a retried message
// or request is handled once and its first result is replayed.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Entry is one inbox record.
type Entry struct {
	Key       string
	Handler   string
	Status    Status
	Result    []byte
	Err       string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// TTL is how long a key is remembered.
	TTL time.Duration
	// CleanupInterval is how often expired entries are dropped.
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered abandoned.
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns the defaults used by the harness.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		TTL:             24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
		RecoveryTimeout: time.Minute,
	}
}

var (
	// ErrMessageInProgress indicates the key is being handled elsewhere.
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed indicates the key failed permanently before.
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// ProcessResult represents the result of idempotent processing
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       []byte
}

// ProcessFunc does the work for a key and returns the result to replay.
type ProcessFunc func(ctx context.Context) ([]byte, error)

// Inbox remembers processed keys until they expire.
type Inbox struct {
	mu      sync.Mutex
	entries map[string]*Entry
	config  InboxConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox(cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		entries: make(map[string]*Entry),
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("inbox"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Process runs fn at most once per key. A finished key replays its stored
// result; a key that failed recoverably is run again.
func (i *Inbox) Process(ctx context.Context, key, handler string, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handler),
		))
	defer span.End()

	prior, err := i.start(key, handler)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if prior != nil && prior.Status == StatusFinished {
		span.SetAttributes(attribute.Bool("duplicate", true))
		return &ProcessResult{Result: prior.Result}, nil
	}

	result, handlerErr := fn(ctx)
	if handlerErr != nil {
		status := StatusRecoverable
		if IsPermanent(handlerErr) {
			status = StatusFailed
		}
		i.finish(key, status, nil, handlerErr.Error())
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	i.finish(key, StatusFinished, result, "")
	return &ProcessResult{
		IsNew:        prior == nil,
		WasRecovered: prior != nil,
		Result:       result,
	}, nil
}

// start claims key for processing. It returns a copy of the previous entry,
// if any, and leaves a finished entry untouched.
func (i *Inbox) start(key, handler string) (*Entry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	e, ok := i.entries[key]
	if ok && now.After(e.ExpiresAt) {
		delete(i.entries, key)
		ok = false
	}
	if !ok {
		i.entries[key] = &Entry{
			Key: key, Handler: handler, Status: StatusStarted,
			CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(i.config.TTL),
		}
		return nil, nil
	}

	prior := *e
	switch e.Status {
	case StatusFinished:
		return &prior, nil
	case StatusFailed:
		return nil, fmt.Errorf("%s: %w: %s", key, ErrPreviouslyFailed, e.Err)
	case StatusStarted:
		if now.Sub(e.UpdatedAt) <= i.config.RecoveryTimeout {
			return nil, ErrMessageInProgress
		}
		i.logger.Warn("recovering abandoned inbox entry", zap.String("key", key))
	}
	e.Status = StatusStarted
	e.UpdatedAt = now
	return &prior, nil
}

func (i *Inbox) finish(key string, status Status, result []byte, errMsg string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[key]
	if !ok {
		return
	}
	e.Status = status
	e.Result = result
	e.Err = errMsg
	e.UpdatedAt = i.now()
}

// Get returns a copy of the entry for key.
func (i *Inbox) Get(key string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GenerateKey derives a deterministic key from message components.
func GenerateKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the key is not processed again.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// StartCleanup starts the background cleanup goroutine
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the inbox cleanup
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if n := i.Cleanup(); n > 0 {
				i.logger.Info("inbox cleanup completed", zap.Int("deleted", n))
			}
		}
	}
}

// Cleanup drops expired entries and returns how many were removed.
func (i *Inbox) Cleanup() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	n := 0
	for k, e := range i.entries {
		if now.After(e.ExpiresAt) {
			delete(i.entries, k)
			n++
		}
	}
	return n
}

// InboxStats counts entries by status.
type InboxStats struct {
	TotalEntries int
	Started      int
	Finished     int
	Recoverable  int
	Failed       int
}

// Stats returns current inbox statistics
func (i *Inbox) Stats() InboxStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := InboxStats{TotalEntries: len(i.entries)}
	for _, e := range i.entries {
		switch e.Status {
		case StatusStarted:
			s.Started++
		case StatusFinished:
			s.Finished++
		case StatusRecoverable:
			s.Recoverable++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
