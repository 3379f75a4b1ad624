package breaker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

func testRegistry() (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return now })
	return r, &now
}

func TestRegistry_ClosedAdmitsByDefault(t *testing.T) {
	r, _ := testRegistry()
	assert.True(t, r.Allow("market"))
	assert.Equal(t, StateClosed, r.Status("market").State)
}

func TestRegistry_OpensAfterThreeConsecutiveFailures(t *testing.T) {
	r, _ := testRegistry()

	r.RecordFailure("market")
	r.RecordFailure("market")
	assert.True(t, r.Allow("market"), "two failures keep the breaker closed")

	r.RecordFailure("market")
	st := r.Status("market")
	assert.Equal(t, StateOpen, st.State)
	assert.False(t, r.Allow("market"), "open breaker rejects without a network attempt")
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	r, _ := testRegistry()

	r.RecordFailure("news")
	r.RecordFailure("news")
	r.RecordSuccess("news")
	r.RecordFailure("news")
	r.RecordFailure("news")
	assert.Equal(t, StateClosed, r.Status("news").State,
		"non-consecutive failures never reach the threshold")
}

func TestRegistry_CoolDownThenSingleProbe(t *testing.T) {
	r, now := testRegistry()

	for range model.BreakerFailureThreshold {
		r.RecordFailure("onchain")
	}
	require.Equal(t, StateOpen, r.Status("onchain").State)

	// Just before the cool-down: still rejected.
	*now = now.Add(model.BreakerCoolDown - time.Second)
	assert.False(t, r.Allow("onchain"))

	// After the cool-down: the next admission check transitions to half-open
	// and admits exactly one probe.
	*now = now.Add(2 * time.Second)
	assert.True(t, r.Allow("onchain"))
	assert.Equal(t, StateHalfOpen, r.Status("onchain").State)
	assert.False(t, r.Allow("onchain"), "only one probe is admitted")
}

func TestRegistry_ProbeSuccessCloses(t *testing.T) {
	r, now := testRegistry()

	for range model.BreakerFailureThreshold {
		r.RecordFailure("market")
	}
	*now = now.Add(model.BreakerCoolDown)
	require.True(t, r.Allow("market"))

	r.RecordSuccess("market")
	st := r.Status("market")
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Failures, "failures reset on close")
	assert.True(t, r.Allow("market"))
}

func TestRegistry_ProbeFailureReopensWithFreshOpenedAt(t *testing.T) {
	r, now := testRegistry()

	for range model.BreakerFailureThreshold {
		r.RecordFailure("market")
	}
	firstOpenedAt := r.Status("market").OpenedAt

	*now = now.Add(model.BreakerCoolDown)
	require.True(t, r.Allow("market"))

	r.RecordFailure("market")
	st := r.Status("market")
	assert.Equal(t, StateOpen, st.State)
	assert.True(t, st.OpenedAt.After(firstOpenedAt), "openedAt refreshed on probe failure")
	assert.False(t, r.Allow("market"), "fresh cool-down applies")
}

func TestRegistry_OpenCount(t *testing.T) {
	r, _ := testRegistry()
	assert.Zero(t, r.OpenCount())

	for range model.BreakerFailureThreshold {
		r.RecordFailure("a")
	}
	r.RecordFailure("b")
	assert.Equal(t, 1, r.OpenCount())
}
