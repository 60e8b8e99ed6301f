package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/system"
	"github.com/estatelink/marketplace/pkg/logger"
)

var _ system.Service = (*Recorder)(nil)

const recorderQueueDepth = 1024

// Recorder writes usage records and key touch timestamps off the request
// path. A slow or failing audit store never delays or fails a business
// response; a full queue drops the record with a warning.
type Recorder struct {
	store storage.UsageStore
	keys  storage.APIKeyStore
	log   *logger.Logger

	mu      sync.RWMutex
	ch      chan usage.Record
	stopped bool

	worker  sync.WaitGroup
	pending sync.WaitGroup
}

// NewRecorder creates a usage recorder.
func NewRecorder(store storage.UsageStore, keys storage.APIKeyStore, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewDefault("usage-recorder")
	}
	return &Recorder{
		store: store,
		keys:  keys,
		log:   log,
		ch:    make(chan usage.Record, recorderQueueDepth),
	}
}

func (r *Recorder) Name() string { return "usage-recorder" }

// Start launches the background writer.
func (r *Recorder) Start(context.Context) error {
	r.worker.Add(1)
	go func() {
		defer r.worker.Done()
		for rec := range r.ch {
			r.write(rec)
			r.pending.Done()
		}
	}()
	return nil
}

// Stop drains queued records and shuts the writer down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.ch)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record enqueues a usage record. It never blocks the caller.
func (r *Recorder) Record(rec usage.Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return
	}

	r.pending.Add(1)
	select {
	case r.ch <- rec:
	default:
		r.pending.Done()
		r.log.WithField("endpoint", rec.Endpoint).Warn("usage queue full, dropping record")
	}
}

// Flush blocks until every enqueued record has been written. Intended for
// tests and shutdown paths.
func (r *Recorder) Flush() {
	r.pending.Wait()
}

func (r *Recorder) write(rec usage.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.store.AppendUsage(ctx, rec); err != nil {
		r.log.WithError(err).Warn("append usage record failed")
	}
	if rec.APIKeyID != "" {
		if err := r.keys.TouchAPIKey(ctx, rec.APIKeyID, rec.CreatedAt); err != nil {
			r.log.WithError(err).Debug("touch api key failed")
		}
	}
}
