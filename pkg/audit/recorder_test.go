package audit

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

func testRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Workers:         2,
		QueueSize:       16,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		WriteTimeout:    time.Second,
		Logger:          observability.NewLogger(observability.ErrorLevel, io.Discard),
	}
}

func openTestDeadLetters(t *testing.T) *DeadLetterLog {
	t.Helper()
	dl, err := OpenDeadLetterLog(filepath.Join(t.TempDir(), "audit", "dead-letters.log"))
	require.NoError(t, err)
	t.Cleanup(func() { dl.Close() })
	return dl
}

func validEntry() Entry {
	return Entry{
		TenantID:    "t1",
		ActorUserID: "u1",
		Action:      ActionMembershipAdd,
		EntityType:  "membership",
		EntityID:    "u2",
		Metadata:    map[string]any{"role": "member"},
	}
}

func TestRecorderWritesEntry(t *testing.T) {
	sink := NewMemorySink()
	rec := NewAsyncRecorder(sink, openTestDeadLetters(t), testRecorderConfig())
	defer rec.Close(context.Background())

	rec.Record(context.Background(), validEntry())
	require.NoError(t, rec.Flush(context.Background()))

	got, err := sink.Search(context.Background(), SearchFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
}

func TestRecorderCopiesMetadata(t *testing.T) {
	sink := NewMemorySink()
	rec := NewAsyncRecorder(sink, openTestDeadLetters(t), testRecorderConfig())
	defer rec.Close(context.Background())

	e := validEntry()
	rec.Record(context.Background(), e)
	e.Metadata["role"] = "owner"
	require.NoError(t, rec.Flush(context.Background()))

	got, err := sink.Search(context.Background(), SearchFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "member", got[0].Metadata["role"])
}

func TestRecorderRetriesTransientFailures(t *testing.T) {
	sink := NewMemorySink()
	var calls atomic.Int32
	sink.FailWith(func(Entry) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := testRecorderConfig()
	cfg.Metrics = metrics
	dl := openTestDeadLetters(t)
	rec := NewAsyncRecorder(sink, dl, cfg)
	defer rec.Close(context.Background())

	rec.Record(context.Background(), validEntry())
	require.NoError(t, rec.Flush(context.Background()))

	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AuditRetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEntriesTotal.WithLabelValues("written")))

	pending, err := dl.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRecorderDeadLettersOnExhaustion(t *testing.T) {
	sink := NewMemorySink()
	var calls atomic.Int32
	sink.FailWith(func(Entry) error {
		calls.Add(1)
		return errors.New("database unavailable")
	})

	dl := openTestDeadLetters(t)
	rec := NewAsyncRecorder(sink, dl, testRecorderConfig())
	defer rec.Close(context.Background())

	rec.Record(context.Background(), validEntry())
	require.NoError(t, rec.Flush(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, sink.Len())

	letters, err := dl.ReadAll()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "t1", letters[0].Entry.TenantID)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Contains(t, letters[0].Cause, "audit write failed")
	assert.Contains(t, letters[0].Cause, "database unavailable")
}

func TestRecorderDeadLettersInvalidEntries(t *testing.T) {
	sink := NewMemorySink()
	dl := openTestDeadLetters(t)
	rec := NewAsyncRecorder(sink, dl, testRecorderConfig())
	defer rec.Close(context.Background())

	rec.Record(context.Background(), Entry{Action: "x"})
	require.NoError(t, rec.Flush(context.Background()))

	assert.Zero(t, sink.Len())
	pending, err := dl.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestRecorderAfterCloseDeadLetters(t *testing.T) {
	sink := NewMemorySink()
	dl := openTestDeadLetters(t)
	rec := NewAsyncRecorder(sink, dl, testRecorderConfig())
	require.NoError(t, rec.Close(context.Background()))

	rec.Record(context.Background(), validEntry())

	pending, err := dl.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestRecorderDoesNotBlockCaller(t *testing.T) {
	sink := NewMemorySink()
	release := make(chan struct{})
	sink.FailWith(func(Entry) error {
		<-release
		return nil
	})

	rec := NewAsyncRecorder(sink, openTestDeadLetters(t), testRecorderConfig())

	start := time.Now()
	for i := 0; i < 5; i++ {
		rec.Record(context.Background(), validEntry())
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	require.NoError(t, rec.Close(context.Background()))
	assert.Equal(t, 5, sink.Len())
}

func TestRecorderFuncAndDiscard(t *testing.T) {
	var got []Entry
	var r Recorder = RecorderFunc(func(ctx context.Context, e Entry) { got = append(got, e) })
	r.Record(context.Background(), validEntry())
	assert.Len(t, got, 1)

	assert.NotPanics(t, func() { Discard.Record(context.Background(), validEntry()) })
}
