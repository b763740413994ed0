package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// DegradationLevel orders how much a request lost. Levels only rise
// within a request.
type DegradationLevel int

const (
	DegradationNone DegradationLevel = iota
	DegradationPartial
	DegradationSevere
	DegradationCritical
)

var degradationNames = [...]string{"NONE", "PARTIAL", "SEVERE", "CRITICAL"}

func (l DegradationLevel) String() string {
	if l < DegradationNone || l > DegradationCritical {
		return fmt.Sprintf("DegradationLevel(%d)", int(l))
	}
	return degradationNames[l]
}

// MarshalText encodes the level by name.
func (l DegradationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *DegradationLevel) UnmarshalText(text []byte) error {
	for i, name := range degradationNames {
		if strings.EqualFold(name, string(text)) {
			*l = DegradationLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown degradation level %q", text)
}

// Backend names a retrieval backend.
type Backend string

const (
	BackendKeyword  Backend = "keyword"
	BackendVector   Backend = "vector"
	BackendWeb      Backend = "web"
	BackendEmbedder Backend = "embedder"
)

// retrievalBackends decide whether a request is CRITICAL. The embedder has
// its own breaker but its failures count against vector search.
var (
	retrievalBackends = []Backend{BackendKeyword, BackendVector, BackendWeb}
	allBackends       = append(slices.Clone(retrievalBackends), BackendEmbedder)
)

// BreakerConfig configures the per-backend circuit breakers.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens a breaker after 5 consecutive failures and
// probes again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// DegradationManager owns the circuit breakers shared by all requests.
// Per-request state lives in a Tracker.
type DegradationManager struct {
	breakers map[Backend]*amanerrors.CircuitBreaker
}

// NewDegradationManager creates one breaker per backend.
func NewDegradationManager(cfg BreakerConfig) *DegradationManager {
	onChange := func(name string, from, to amanerrors.State) {
		slog.Warn("circuit_state_change",
			slog.String("backend", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
	m := &DegradationManager{breakers: make(map[Backend]*amanerrors.CircuitBreaker, len(allBackends))}
	for _, b := range allBackends {
		m.breakers[b] = amanerrors.NewCircuitBreaker(string(b),
			amanerrors.WithMaxFailures(cfg.MaxFailures),
			amanerrors.WithResetTimeout(cfg.ResetTimeout),
			amanerrors.WithStateChange(onChange))
	}
	return m
}

// Breaker returns the breaker guarding backend.
func (m *DegradationManager) Breaker(backend Backend) *amanerrors.CircuitBreaker {
	return m.breakers[backend]
}

// BreakerStates reports every breaker's state by backend name.
func (m *DegradationManager) BreakerStates() map[string]string {
	states := make(map[string]string, len(m.breakers))
	for b, cb := range m.breakers {
		states[string(b)] = cb.State().String()
	}
	return states
}

// CallBackend runs fn against backend through its breaker with its own
// deadline. Failures are recorded on the tracker and the breaker; an open
// breaker short-circuits the call. Cancellation by the caller is returned
// as is and is not blamed on the backend.
func CallBackend[T any](ctx context.Context, m *DegradationManager, t *Tracker, backend Backend, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	t.attempt(backend)

	cb := m.Breaker(backend)
	if !cb.Allow() {
		return zero, t.Record(backend, amanerrors.ErrCircuitOpen)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := fn(callCtx)
	switch {
	case err == nil:
		cb.RecordSuccess()
		return result, nil
	case ctx.Err() != nil:
		cb.Abandon()
		return zero, ctx.Err()
	default:
		cb.RecordFailure()
		return zero, t.Record(backend, err)
	}
}

// Tracker accumulates the degradation of one request.
type Tracker struct {
	mu        sync.Mutex
	level     DegradationLevel
	attempted map[Backend]bool
	failed    map[Backend]error
	failures  []BackendFailure
	reasons   []string
}

// NewTracker starts a request at DegradationNone.
func NewTracker() *Tracker {
	return &Tracker{
		attempted: make(map[Backend]bool),
		failed:    make(map[Backend]error),
	}
}

func (t *Tracker) attempt(backend Backend) {
	t.mu.Lock()
	t.attempted[backend] = true
	t.mu.Unlock()
}

// Record classifies a backend failure and raises the level: rate limiting is
// PARTIAL, anything else SEVERE. It returns the classified error.
func (t *Tracker) Record(backend Backend, err error) error {
	ae := amanerrors.Classify(string(backend), err)
	level := DegradationSevere
	if errors.Is(ae, amanerrors.ErrRateLimited) {
		level = DegradationPartial
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempted[backend] = true
	t.failed[backend] = ae
	t.raise(level)
	t.failures = append(t.failures, BackendFailure{
		Backend: string(backend),
		Code:    ae.Code,
		Level:   level,
		Message: ae.Error(),
	})
	t.reasons = append(t.reasons, fmt.Sprintf("%s %s", backendLabel(backend), describeFailure(ae)))

	slog.Warn("backend_failed",
		slog.String("backend", string(backend)),
		slog.String("code", ae.Code),
		slog.String("level", level.String()),
		slog.String("error", err.Error()))
	return ae
}

// Note adds a non-fatal reason without changing the level.
func (t *Tracker) Note(reason string) {
	t.mu.Lock()
	t.reasons = append(t.reasons, reason)
	t.mu.Unlock()
}

func (t *Tracker) raise(level DegradationLevel) {
	if level > t.level {
		t.level = level
	}
}

// Failed reports whether backend failed in this request. Vector search
// also fails when the query could not be embedded.
func (t *Tracker) Failed(backend Backend) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.outcome(backend)
	return err != nil
}

func (t *Tracker) outcome(backend Backend) (attempted bool, err error) {
	attempted, err = t.attempted[backend], t.failed[backend]
	if backend == BackendVector {
		attempted = attempted || t.attempted[BackendEmbedder]
		if err == nil {
			err = t.failed[BackendEmbedder]
		}
	}
	return attempted, err
}

// Level returns the current level.
func (t *Tracker) Level() DegradationLevel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Reason joins every recorded reason.
func (t *Tracker) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.reasons, "; ")
}

// Failures returns the recorded backend failures.
func (t *Tracker) Failures() []BackendFailure {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BackendFailure, len(t.failures))
	copy(out, t.failures)
	return out
}

// Finalize raises the level to CRITICAL and returns an AllBackendsFailed
// error when every attempted backend failed.
func (t *Tracker) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var causes []error
	for _, b := range retrievalBackends {
		attempted, err := t.outcome(b)
		if !attempted {
			continue
		}
		if err == nil {
			return nil
		}
		causes = append(causes, err)
	}
	if len(causes) == 0 {
		return nil
	}
	t.level = DegradationCritical
	t.reasons = append(t.reasons, "all retrieval backends failed")
	return amanerrors.AllBackendsFailed(causes...)
}

func backendLabel(b Backend) string {
	if b == BackendEmbedder {
		return "query embedding"
	}
	return string(b) + " search"
}

func describeFailure(ae *amanerrors.AmanError) string {
	switch {
	case errors.Is(ae.Cause, amanerrors.ErrCircuitOpen):
		return "skipped (circuit open)"
	case errors.Is(ae, amanerrors.ErrRateLimited):
		return "rate limited"
	case errors.Is(ae, amanerrors.ErrBackendTimeout):
		return "timed out"
	case errors.Is(ae, amanerrors.ErrBackendUnavailable):
		return "unavailable"
	default:
		return "failed"
	}
}
