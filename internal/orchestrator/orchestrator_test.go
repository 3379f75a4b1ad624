package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/alphahunt-ai/alphahunt/internal/breaker"
	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/telemetry"
)

type fakeAgent struct {
	key    string
	kind   model.AgentKind
	slot   string
	price  float64
	online bool
	calls  atomic.Int64
	fn     func(ctx context.Context, topic string) (*model.AgentResponse, error)
}

func (f *fakeAgent) Key() string           { return f.key }
func (f *fakeAgent) Kind() model.AgentKind { return f.kind }
func (f *fakeAgent) Slot() string          { return f.slot }
func (f *fakeAgent) Price() float64        { return f.price }
func (f *fakeAgent) Online() bool          { return f.online }

func (f *fakeAgent) Hunt(ctx context.Context, topic string) (*model.AgentResponse, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, topic)
	}
	return &model.AgentResponse{AgentKey: f.key, Kind: f.kind,
		Opinion: &model.Opinion{Direction: model.DirectionBullish, Confidence: 0.5}}, nil
}

func okAgent(key string) *fakeAgent {
	return &fakeAgent{key: key, kind: model.KindMarket, online: true, price: 1}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrchestrator(t *testing.T, agents ...Agent) (*Orchestrator, *breaker.Registry) {
	t.Helper()
	reg := NewRegistry()
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	breakers := breaker.NewRegistry(testLogger())
	scores := func(string) float64 { return model.ScoreStart }
	o := New(reg, breakers, scores, nil, testLogger()).
		WithCallTimeout(200 * time.Millisecond).
		WithBackoff(3, time.Millisecond)
	return o, breakers
}

func TestHuntAll_EntryForEveryRegisteredAgent(t *testing.T) {
	offline := okAgent("offline")
	offline.online = false
	failing := okAgent("failing")
	failing.fn = func(context.Context, string) (*model.AgentResponse, error) {
		return nil, &AgentError{Agent: "failing", StatusCode: 404, Err: context.Canceled}
	}
	o, _ := testOrchestrator(t, okAgent("good"), offline, failing)

	result := o.HuntAll(t.Context(), "btc")
	require.Len(t, result.Responses, 3)
	assert.NotNil(t, result.Responses["good"])
	assert.Nil(t, result.Responses["offline"])
	assert.Nil(t, result.Responses["failing"])
	assert.Zero(t, offline.calls.Load(), "offline agents are never called")
}

func TestHuntAll_SlowAgentDoesNotBlockOthers(t *testing.T) {
	slow := okAgent("slow")
	slow.fn = func(ctx context.Context, _ string) (*model.AgentResponse, error) {
		<-ctx.Done() // hang until the per-call timeout fires
		return nil, ctx.Err()
	}
	o, _ := testOrchestrator(t, slow, okAgent("fast"))
	o.WithBackoff(1, time.Millisecond)

	start := time.Now()
	result := o.HuntAll(t.Context(), "eth")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotNil(t, result.Responses["fast"])
	assert.Nil(t, result.Responses["slow"])
}

func TestHuntAll_BreakerRejectionSkipsNetworkCall(t *testing.T) {
	a := okAgent("flaky")
	o, breakers := testOrchestrator(t, a)

	for range model.BreakerFailureThreshold {
		breakers.RecordFailure("flaky")
	}

	result := o.HuntAll(t.Context(), "btc")
	assert.Nil(t, result.Responses["flaky"])
	assert.Zero(t, a.calls.Load(), "open breaker short-circuits before the network")
}

func TestCallAgent_RetriesTransientFailures(t *testing.T) {
	a := okAgent("recovering")
	a.fn = func(context.Context, string) (*model.AgentResponse, error) {
		if a.calls.Load() < 3 {
			return nil, &AgentError{Agent: "recovering", StatusCode: http.StatusServiceUnavailable, Err: assert.AnError}
		}
		return &model.AgentResponse{AgentKey: "recovering"}, nil
	}
	o, _ := testOrchestrator(t, a)

	result := o.HuntAll(t.Context(), "btc")
	assert.NotNil(t, result.Responses["recovering"])
	assert.Equal(t, int64(3), a.calls.Load())
	assert.Equal(t, 3, result.Stats["recovering"].Attempts)
}

func TestCallAgent_RateLimitedIsRetryable(t *testing.T) {
	a := okAgent("limited")
	a.fn = func(context.Context, string) (*model.AgentResponse, error) {
		if a.calls.Load() < 2 {
			return nil, &AgentError{Agent: "limited", StatusCode: http.StatusTooManyRequests, Err: assert.AnError}
		}
		return &model.AgentResponse{AgentKey: "limited"}, nil
	}
	o, _ := testOrchestrator(t, a)

	result := o.HuntAll(t.Context(), "btc")
	assert.NotNil(t, result.Responses["limited"])
	assert.Equal(t, int64(2), a.calls.Load())
}

func TestCallAgent_ClientErrorIsImmediatelyFatal(t *testing.T) {
	a := okAgent("bad-request")
	a.fn = func(context.Context, string) (*model.AgentResponse, error) {
		return nil, &AgentError{Agent: "bad-request", StatusCode: http.StatusBadRequest, Err: assert.AnError}
	}
	o, _ := testOrchestrator(t, a)

	result := o.HuntAll(t.Context(), "btc")
	assert.Nil(t, result.Responses["bad-request"])
	assert.Equal(t, int64(1), a.calls.Load(), "4xx (non-429) must not be retried")
}

func TestCallAgent_FailuresFeedTheBreaker(t *testing.T) {
	a := okAgent("down")
	a.fn = func(context.Context, string) (*model.AgentResponse, error) {
		return nil, &AgentError{Agent: "down", StatusCode: 500, Err: assert.AnError}
	}
	o, breakers := testOrchestrator(t, a)

	o.HuntAll(t.Context(), "btc") // 3 attempts = 3 recorded failures
	assert.Equal(t, breaker.StateOpen, breakers.Status("down").State)
}

func TestHuntAll_CancellationAbortsWithoutRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	a := okAgent("in-flight")
	a.fn = func(callCtx context.Context, _ string) (*model.AgentResponse, error) {
		cancel() // simulate the caller disconnecting mid-call
		<-callCtx.Done()
		return nil, callCtx.Err()
	}
	o, breakers := testOrchestrator(t, a)

	result := o.HuntAll(ctx, "btc")
	assert.Nil(t, result.Responses["in-flight"])
	assert.Equal(t, int64(1), a.calls.Load(), "aborted calls are not retried")
	assert.Equal(t, uint(1), breakers.Status("in-flight").Failures,
		"aborted calls still count as failures for the breaker")
}

func TestResolveRivals_HigherReputationPerPriceWins(t *testing.T) {
	cheap := okAgent("sentiment-cheap")
	cheap.slot = "sentiment"
	cheap.price = 1
	pricey := okAgent("sentiment-pricey")
	pricey.slot = "sentiment"
	pricey.price = 10

	reg := NewRegistry()
	require.NoError(t, reg.Register(cheap))
	require.NoError(t, reg.Register(pricey))
	scores := func(key string) float64 {
		if key == "sentiment-pricey" {
			return 0.9 // 0.9/10 = 0.09, still loses to 0.5/1
		}
		return 0.5
	}
	o := New(reg, breaker.NewRegistry(testLogger()), scores, nil, testLogger()).
		WithCallTimeout(time.Second).WithBackoff(1, time.Millisecond)

	result := o.HuntAll(t.Context(), "btc")
	assert.NotNil(t, result.Responses["sentiment-cheap"])
	assert.Nil(t, result.Responses["sentiment-pricey"], "loser's opinion discarded from the slot")

	require.Len(t, result.Rivals, 1)
	d := result.Rivals[0]
	assert.Equal(t, "sentiment", d.Slot)
	assert.Equal(t, "sentiment-cheap", d.Winner)
	assert.Equal(t, "sentiment-pricey", d.Loser)
	assert.Greater(t, d.WinnerRatio, d.LoserRatio)
}

func TestResolveRivals_UncontestedSlotUntouched(t *testing.T) {
	solo := okAgent("solo")
	solo.slot = "sentiment"
	o, _ := testOrchestrator(t, solo)

	result := o.HuntAll(t.Context(), "btc")
	assert.NotNil(t, result.Responses["solo"])
	assert.Empty(t, result.Rivals)
}

func TestRegistry_RejectsDuplicateAndInvalidKeys(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(okAgent("dup")))
	assert.Error(t, reg.Register(okAgent("dup")))
	assert.Error(t, reg.Register(okAgent("bad key")))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s was not collected", name)
	return 0
}

func TestHuntAll_RecordsCallMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)

	down := okAgent("down")
	down.fn = func(context.Context, string) (*model.AgentResponse, error) {
		return nil, &AgentError{Agent: "down", StatusCode: 500, Err: assert.AnError}
	}
	o, _ := testOrchestrator(t, okAgent("good"), down)
	o.WithMetrics(metrics)

	o.HuntAll(t.Context(), "btc")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	assert.Equal(t, int64(1), counterValue(t, rm, "alphahunt.hunts.started"))
	assert.Equal(t, int64(4), counterValue(t, rm, "alphahunt.agent.calls"),
		"one successful call plus three retried failures")
	assert.Equal(t, int64(1), counterValue(t, rm, "alphahunt.agent.failures"),
		"only the agent that never responded counts as failed")
}
