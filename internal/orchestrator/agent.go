// Package orchestrator fans a hunt topic out to every registered agent in
// parallel, gated by per-agent circuit breakers, with per-call timeouts and
// bounded retry for transient failures.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

// Agent is the narrow contract the engine has with a participating agent:
// call it with a topic, get a typed response or a failure. Transport,
// payment-challenge handling, and payload parsing live behind it.
type Agent interface {
	Key() string
	Kind() model.AgentKind
	// Slot names the opinion slot this agent fills. Two online agents sharing
	// a slot are rivals: only one's opinion survives per hunt. Empty means
	// the agent has its own slot.
	Slot() string
	// Price is the agent's per-call price, used for rival resolution
	// (higher reputation/price wins).
	Price() float64
	Online() bool
	Hunt(ctx context.Context, topic string) (*model.AgentResponse, error)
}

// AgentError is a failed agent call with transport-level detail. StatusCode 0
// means the failure happened below HTTP (connect, timeout).
type AgentError struct {
	Agent      string
	StatusCode int
	Err        error
}

func (e *AgentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s: status %d: %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// retryable reports whether a failed call may be retried: timeouts, 429, and
// 5xx are transient; any other 4xx is immediately fatal for the call.
func retryable(err error) bool {
	var ae *AgentError
	if errors.As(err, &ae) {
		if ae.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if ae.StatusCode >= 500 {
			return true
		}
		if ae.StatusCode >= 400 {
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

// Registry holds the built-in and externally registered agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Keys are unique across the registry.
func (r *Registry) Register(a Agent) error {
	if err := model.ValidateAgentKey(a.Key()); err != nil {
		return fmt.Errorf("orchestrator: register: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.agents[a.Key()]; dup {
		return fmt.Errorf("orchestrator: register: agent %q already registered", a.Key())
	}
	r.agents[a.Key()] = a
	return nil
}

// Agents returns all registered agents, sorted by key for stable fan-out
// ordering.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Get returns the agent with the given key, if registered.
func (r *Registry) Get(key string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[key]
	return a, ok
}

// Protocol metadata headers an agent may attach to its HTTP response.
const (
	HeaderACPVersion    = "X-ACP-Version"
	HeaderACPDirection  = "X-ACP-Direction"
	HeaderACPConfidence = "X-ACP-Confidence"
	HeaderACPStake      = "X-ACP-Stake"
)

// HTTPAgent calls a remote agent service over HTTP. The hunt endpoint receives
// the topic as a query parameter and replies with a JSON opinion body,
// optionally carrying ACP metadata headers.
type HTTPAgent struct {
	key    string
	kind   model.AgentKind
	slot   string
	price  float64
	url    string
	client *http.Client
	online atomic.Bool
}

// NewHTTPAgent creates an HTTP-backed agent. A nil client uses a default with
// a conservative timeout; the orchestrator applies its own per-call deadline
// on top.
func NewHTTPAgent(key string, kind model.AgentKind, slot string, price float64, url string, client *http.Client) *HTTPAgent {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	a := &HTTPAgent{key: key, kind: kind, slot: slot, price: price, url: url, client: client}
	a.online.Store(true)
	return a
}

func (a *HTTPAgent) Key() string           { return a.key }
func (a *HTTPAgent) Kind() model.AgentKind { return a.kind }
func (a *HTTPAgent) Slot() string          { return a.slot }
func (a *HTTPAgent) Price() float64        { return a.price }
func (a *HTTPAgent) Online() bool          { return a.online.Load() }

// SetOnline marks the agent available or unavailable for hunts.
func (a *HTTPAgent) SetOnline(v bool) { a.online.Store(v) }

// Hunt calls the agent's hunt endpoint and captures its typed response.
func (a *HTTPAgent) Hunt(ctx context.Context, topic string) (*model.AgentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, &AgentError{Agent: a.key, Err: err}
	}
	q := req.URL.Query()
	q.Set("topic", topic)
	req.URL.RawQuery = q.Encode()

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &AgentError{Agent: a.key, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body; close error is non-actionable

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AgentError{Agent: a.key, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AgentError{Agent: a.key, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected status")}
	}

	ar := &model.AgentResponse{
		AgentKey: a.key,
		Kind:     a.kind,
		Meta:     metaFromHeaders(resp.Header),
		Payload:  body,
	}
	var op model.Opinion
	if err := json.Unmarshal(body, &op); err == nil && op.Direction != "" {
		ar.Opinion = &op
	}
	return ar, nil
}

// metaFromHeaders extracts protocol metadata from response headers. Returns
// nil when no ACP headers are present.
func metaFromHeaders(h http.Header) *model.ProtocolMeta {
	meta := &model.ProtocolMeta{
		Version:   h.Get(HeaderACPVersion),
		Direction: h.Get(HeaderACPDirection),
	}
	if v := h.Get(HeaderACPConfidence); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta.Confidence = &f
		}
	}
	if v := h.Get(HeaderACPStake); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta.Stake = &f
		}
	}
	if meta.Version == "" && meta.Direction == "" && meta.Confidence == nil && meta.Stake == nil {
		return nil
	}
	return meta
}
