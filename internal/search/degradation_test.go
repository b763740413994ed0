package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestDegradationLevel_Text(t *testing.T) {
	b, err := json.Marshal(DegradationSevere)
	require.NoError(t, err)
	assert.JSONEq(t, `"SEVERE"`, string(b))

	var l DegradationLevel
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &l))
	assert.Equal(t, DegradationCritical, l)

	assert.Error(t, l.UnmarshalText([]byte("meltdown")))
	assert.True(t, DegradationNone < DegradationPartial && DegradationPartial < DegradationSevere)
}

func TestCallBackend_SuccessLeavesLevelNone(t *testing.T) {
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()

	got, err := CallBackend(context.Background(), m, tr, BackendKeyword, time.Second,
		func(context.Context) (int, error) { return 7, nil })

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, DegradationNone, tr.Level())
	assert.NoError(t, tr.Finalize())
}

func TestCallBackend_UnavailableIsSevere(t *testing.T) {
	// Given: a vector backend that is down
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()

	// When: calling it alongside a healthy keyword backend
	_, kwErr := CallBackend(context.Background(), m, tr, BackendKeyword, time.Second,
		func(context.Context) (int, error) { return 1, nil })
	_, vecErr := CallBackend(context.Background(), m, tr, BackendVector, time.Second,
		func(context.Context) (int, error) { return 0, errors.New("connection refused") })

	// Then: the request is SEVERE but not critical
	require.NoError(t, kwErr)
	assert.ErrorIs(t, vecErr, amanerrors.ErrBackendUnavailable)
	assert.Equal(t, DegradationSevere, tr.Level())
	assert.True(t, tr.Failed(BackendVector))
	assert.False(t, tr.Failed(BackendKeyword))
	assert.NoError(t, tr.Finalize())
	assert.Contains(t, tr.Reason(), "vector search unavailable")

	failures := tr.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "vector", failures[0].Backend)
	assert.Equal(t, amanerrors.ErrCodeBackendUnavailable, failures[0].Code)
}

func TestCallBackend_RateLimitIsPartial(t *testing.T) {
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()

	_, err := CallBackend(context.Background(), m, tr, BackendWeb, time.Second,
		func(context.Context) (int, error) {
			return 0, amanerrors.RateLimited("web", time.Second, errors.New("429"))
		})

	assert.ErrorIs(t, err, amanerrors.ErrRateLimited)
	assert.Equal(t, DegradationPartial, tr.Level())
}

func TestCallBackend_TimeoutIsSevere(t *testing.T) {
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()

	_, err := CallBackend(context.Background(), m, tr, BackendWeb, 10*time.Millisecond,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

	assert.ErrorIs(t, err, amanerrors.ErrBackendTimeout)
	assert.Equal(t, DegradationSevere, tr.Level())
	assert.Contains(t, tr.Reason(), "web search timed out")
}

func TestCallBackend_OpenBreakerSkipsCall(t *testing.T) {
	// Given: a breaker that opens after one failure
	m := NewDegradationManager(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	boom := func(context.Context) (int, error) { return 0, errors.New("boom") }
	_, _ = CallBackend(context.Background(), m, NewTracker(), BackendWeb, time.Second, boom)
	require.Equal(t, amanerrors.StateOpen, m.Breaker(BackendWeb).State())

	// When: a later request calls the backend
	tr := NewTracker()
	called := false
	_, err := CallBackend(context.Background(), m, tr, BackendWeb, time.Second,
		func(context.Context) (int, error) {
			called = true
			return 1, nil
		})

	// Then: the call is skipped and recorded as SEVERE
	assert.False(t, called)
	assert.ErrorIs(t, err, amanerrors.ErrBackendUnavailable)
	assert.Equal(t, DegradationSevere, tr.Level())
	assert.Contains(t, tr.Reason(), "circuit open")
	assert.Equal(t, "open", m.BreakerStates()["web"])
}

func TestCallBackend_CallerCancellationNotBlamed(t *testing.T) {
	m := NewDegradationManager(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	tr := NewTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CallBackend(ctx, m, tr, BackendKeyword, time.Second,
		func(ctx context.Context) (int, error) { return 0, ctx.Err() })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DegradationNone, tr.Level())
	assert.Equal(t, amanerrors.StateClosed, m.Breaker(BackendKeyword).State())
}

func TestTracker_FinalizeAllFailedIsCritical(t *testing.T) {
	// Given: every attempted backend failed
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()
	fail := func(context.Context) (int, error) { return 0, errors.New("down") }
	_, _ = CallBackend(context.Background(), m, tr, BackendKeyword, time.Second, fail)
	_, _ = CallBackend(context.Background(), m, tr, BackendVector, time.Second, fail)

	// When: finalizing the request
	err := tr.Finalize()

	// Then: the level is CRITICAL with every cause attached
	require.Error(t, err)
	assert.ErrorIs(t, err, amanerrors.ErrAllBackendsFailed)
	assert.Equal(t, DegradationCritical, tr.Level())
	assert.Len(t, tr.Failures(), 2)
}

func TestTracker_NoteKeepsLevel(t *testing.T) {
	tr := NewTracker()

	tr.Note("token budget exhausted")

	assert.Equal(t, DegradationNone, tr.Level())
	assert.Equal(t, "token budget exhausted", tr.Reason())
	assert.NoError(t, tr.Finalize())
}

func TestTracker_EmbedderFailureCountsAgainstVector(t *testing.T) {
	m := NewDegradationManager(DefaultBreakerConfig())
	tr := NewTracker()

	_, _ = CallBackend(context.Background(), m, tr, BackendEmbedder, time.Second,
		func(context.Context) ([]float32, error) { return nil, errors.New("model not loaded") })

	assert.True(t, tr.Failed(BackendVector))
	assert.Contains(t, tr.Reason(), "query embedding unavailable")
	assert.Equal(t, amanerrors.StateClosed, m.Breaker(BackendVector).State())
	assert.ErrorIs(t, tr.Finalize(), amanerrors.ErrAllBackendsFailed)
}
