// Package audit buffers completed-request audit records off the hot path
// and flushes them to the Store in batches.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/scimworks/endpointd/store"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultFlushSize     = 50
)

// Record is the pre-redaction shape a completed request is captured as,
// mirroring the fields middleware.go's LoggingMiddleware already collects.
type Record struct {
	EndpointID string
	Timestamp  time.Time
	Method     string
	Path       string
	Status     int
	RemoteAddr string
	AuthHeader string
	Body       map[string]any
}

// Sink is an in-memory bounded buffer with a background flusher. Records are
// redacted before they ever enter the buffer, so the buffer is
// redaction-complete at rest.
type Sink struct {
	store         store.Store
	flushInterval time.Duration
	flushSize     int
	logger        *slog.Logger

	mu      sync.Mutex
	buf     []store.AuditRecord
	flushCh chan struct{}
	closeCh chan struct{}
	doneCh  chan struct{}
}

func New(s store.Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	sink := &Sink{
		store:         s,
		flushInterval: defaultFlushInterval,
		flushSize:     defaultFlushSize,
		logger:        logger,
		flushCh:       make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go sink.run()
	return sink
}

// Enqueue redacts rec and appends it to the buffer. Once the buffer reaches
// flushSize it signals the background flusher to write early; the Store
// write itself never runs on the caller's goroutine.
func (s *Sink) Enqueue(rec Record) {
	redacted := redact(rec)

	s.mu.Lock()
	s.buf = append(s.buf, redacted)
	shouldFlush := len(s.buf) >= s.flushSize
	s.mu.Unlock()

	if shouldFlush {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

func (s *Sink) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.flushCh:
			s.flush(context.Background())
		case <-s.closeCh:
			s.flush(context.Background())
			return
		}
	}
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if err := s.store.InsertAuditRecords(ctx, batch); err != nil {
		s.logger.Error("audit flush failed", "error", err, "dropped", len(batch))
	}
}

// Close stops the background flusher and makes a best-effort attempt to
// drain the buffer before ctx's deadline.
func (s *Sink) Close(ctx context.Context) error {
	close(s.closeCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
	return nil
}

const redactedPlaceholder = "[redacted]"

// redact scrubs the Authorization header and any field literally named
// "password" (at any depth) from rec's body before it is turned into a
// store.AuditRecord.
func redact(rec Record) store.AuditRecord {
	authHeader := rec.AuthHeader
	if authHeader != "" {
		authHeader = redactedPlaceholder
	}

	detail := ""
	if rec.Body != nil {
		redactBody(rec.Body)
		if b, err := json.Marshal(rec.Body); err == nil {
			detail = string(b)
		}
	}

	return store.AuditRecord{
		EndpointID: rec.EndpointID,
		Timestamp:  rec.Timestamp,
		Method:     rec.Method,
		Path:       rec.Path,
		Status:     rec.Status,
		RemoteAddr: rec.RemoteAddr,
		Detail:     detail,
	}
}

func redactBody(v any) {
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			if k == "password" {
				node[k] = redactedPlaceholder
				continue
			}
			redactBody(val)
		}
	case []any:
		for _, item := range node {
			redactBody(item)
		}
	}
}
