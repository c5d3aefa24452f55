package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/async"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Recorder accepts audit entries. Record never fails from the caller's
// perspective and must not block on storage.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// RecorderFunc adapts a function to the Recorder interface
type RecorderFunc func(ctx context.Context, entry Entry)

// Record calls f(ctx, entry)
func (f RecorderFunc) Record(ctx context.Context, entry Entry) {
	f(ctx, entry)
}

// Discard is a Recorder that drops every entry. Only for tools that never mutate.
var Discard Recorder = RecorderFunc(func(context.Context, Entry) {})

// RecorderConfig configures an AsyncRecorder
type RecorderConfig struct {
	Workers   int
	QueueSize int
	// MaxAttempts bounds write attempts per entry, including the first
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// WriteTimeout bounds a single write attempt
	WriteTimeout time.Duration

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// DefaultRecorderConfig returns production defaults
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Workers:         4,
		QueueSize:       1024,
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		WriteTimeout:    3 * time.Second,
	}
}

// AsyncRecorder writes entries to a Sink on a worker pool with bounded retry
// and escalates to a DeadLetterLog when retries are exhausted.
type AsyncRecorder struct {
	sink        Sink
	deadLetters *DeadLetterLog
	pool        *async.WorkerPool
	cfg         RecorderConfig
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

// NewAsyncRecorder creates a recorder and starts its workers
func NewAsyncRecorder(sink Sink, deadLetters *DeadLetterLog, cfg RecorderConfig) *AsyncRecorder {
	def := DefaultRecorderConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}

	return &AsyncRecorder{
		sink:        sink,
		deadLetters: deadLetters,
		pool: async.NewWorkerPool(context.Background(), async.PoolConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			TaskName:  "audit",
		}, logger),
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  logger.WithField("component", "audit"),
		now:     time.Now,
	}
}

// Record stamps the entry with an id and timestamp and queues it for writing.
// When the queue is full or closed the entry goes straight to the dead-letter log.
func (r *AsyncRecorder) Record(ctx context.Context, entry Entry) {
	entry = r.prepare(entry)

	if err := entry.Validate(); err != nil {
		r.escalate(entry, err, 0)
		return
	}

	r.metrics.AddAuditQueue(1)
	err := r.pool.TrySubmit(func(ctx context.Context) error {
		defer r.metrics.AddAuditQueue(-1)
		r.persist(ctx, entry)
		return nil
	})
	if err != nil {
		r.metrics.AddAuditQueue(-1)
		r.escalate(entry, err, 0)
	}
}

func (r *AsyncRecorder) prepare(entry Entry) Entry {
	entry = entry.Clone()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return entry
}

func (r *AsyncRecorder) persist(ctx context.Context, entry Entry) {
	start := time.Now()
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		attempts++
		writeCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		defer cancel()

		err := r.sink.Write(writeCtx, entry)
		if errors.Is(err, tenancy.ErrInvalidArgument) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.ObserveAuditRetry()
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"entry_id": entry.ID,
			"attempt":  attempts,
			"backoff":  wait.String(),
		}).Warn("audit write failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	r.metrics.ObserveAuditWrite(time.Since(start))

	if err != nil {
		r.escalate(entry, err, attempts)
		return
	}
	r.metrics.ObserveAudit("written")
}

// escalate moves an entry to the dead-letter log. If even that fails the entry
// is logged in full so it can be recovered from the service logs.
func (r *AsyncRecorder) escalate(entry Entry, cause error, attempts int) {
	err := fmt.Errorf("%w: %w", tenancy.ErrAuditWrite, cause)
	r.metrics.ObserveAudit("dead_lettered")

	log := r.logger.WithError(err).WithFields(map[string]interface{}{
		"entry_id":  entry.ID,
		"tenant_id": entry.TenantID,
		"action":    entry.Action,
		"attempts":  attempts,
	})

	if r.deadLetters != nil {
		dlErr := r.deadLetters.Append(entry, err, attempts)
		if dlErr == nil {
			log.Error("audit entry dead-lettered")
			return
		}
		log = log.WithField("dead_letter_error", dlErr.Error())
	}

	raw, _ := json.Marshal(entry)
	log.WithField("entry", string(raw)).Error("audit entry could not be dead-lettered")
}

// Flush blocks until every accepted entry is persisted or dead-lettered
func (r *AsyncRecorder) Flush(ctx context.Context) error {
	return r.pool.Wait(ctx)
}

// Close flushes pending entries and stops the workers. Entries recorded after
// Close go straight to the dead-letter log.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	flushErr := r.Flush(ctx)

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}
	return errors.Join(flushErr, r.pool.Shutdown(timeout))
}
