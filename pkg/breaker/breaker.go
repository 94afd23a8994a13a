// Package breaker wraps the two external dependencies a trading cycle cannot
// control — the exchange API and the LLM provider — in circuit breakers, so a
// string of consecutive failures trips the circuit and fails fast instead of
// letting every agent in the cycle hang on the same dying dependency (spec §4.13
// escalation: repeated fatal cycles should surface quickly, not retry blindly).
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Breaker names, also used as the Prometheus "service" label.
const (
	Exchange = "exchange"
	LLM      = "llm"
)

// Settings configures a single named circuit breaker.
type Settings struct {
	MinRequests     uint32        // requests required in-window before ReadyToTrip is consulted
	FailureRatio    float64       // fraction of failures in-window that trips the circuit
	OpenTimeout     time.Duration // how long the circuit stays open before probing half-open
	HalfOpenMaxReqs uint32        // requests allowed through while half-open
	CountInterval   time.Duration // rolling window over which counts reset
}

func (s Settings) withDefaults(d Settings) Settings {
	if s.MinRequests == 0 {
		s.MinRequests = d.MinRequests
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = d.FailureRatio
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	if s.HalfOpenMaxReqs == 0 {
		s.HalfOpenMaxReqs = d.HalfOpenMaxReqs
	}
	if s.CountInterval == 0 {
		s.CountInterval = d.CountInterval
	}
	return s
}

var (
	defaultExchangeSettings = Settings{MinRequests: 5, FailureRatio: 0.6, OpenTimeout: 30 * time.Second, HalfOpenMaxReqs: 3, CountInterval: 10 * time.Second}
	defaultLLMSettings      = Settings{MinRequests: 3, FailureRatio: 0.6, OpenTimeout: 60 * time.Second, HalfOpenMaxReqs: 2, CountInterval: 10 * time.Second}
)

// metrics holds the process-wide Prometheus collectors. Registered exactly once:
// a Manager may be constructed more than once in tests, and promauto panics on
// duplicate registration.
type metrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalMetrics *metrics
	metricsOnce   sync.Once
)

func initMetrics() *metrics {
	metricsOnce.Do(func() {
		globalMetrics = &metrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "sentinel_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			}, []string{"service"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sentinel_circuit_breaker_requests_total",
				Help: "Requests observed by a circuit breaker, by outcome",
			}, []string{"service", "result"}),
		}
	})
	return globalMetrics
}

// Manager owns the exchange and LLM circuit breakers for one bot instance.
type Manager struct {
	exchange *gobreaker.CircuitBreaker
	llm      *gobreaker.CircuitBreaker
	metrics  *metrics
}

// Option configures a Manager at construction time.
type Option func(*managerConfig)

type managerConfig struct {
	exchange Settings
	llm      Settings
}

// WithExchangeSettings overrides the exchange circuit breaker's thresholds.
func WithExchangeSettings(s Settings) Option {
	return func(c *managerConfig) { c.exchange = s }
}

// WithLLMSettings overrides the LLM circuit breaker's thresholds.
func WithLLMSettings(s Settings) Option {
	return func(c *managerConfig) { c.llm = s }
}

// NewManager constructs a Manager with Prometheus-backed state tracking for both
// circuits, registering the shared gauges/counters on first call.
func NewManager(opts ...Option) *Manager {
	cfg := &managerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	exchangeSettings := cfg.exchange.withDefaults(defaultExchangeSettings)
	llmSettings := cfg.llm.withDefaults(defaultLLMSettings)

	m := &Manager{metrics: initMetrics()}

	m.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        Exchange,
		MaxRequests: exchangeSettings.HalfOpenMaxReqs,
		Interval:    exchangeSettings.CountInterval,
		Timeout:     exchangeSettings.OpenTimeout,
		ReadyToTrip: readyToTrip(exchangeSettings),
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.updateState(Exchange, to)
		},
	})
	m.llm = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        LLM,
		MaxRequests: llmSettings.HalfOpenMaxReqs,
		Interval:    llmSettings.CountInterval,
		Timeout:     llmSettings.OpenTimeout,
		ReadyToTrip: readyToTrip(llmSettings),
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.updateState(LLM, to)
		},
	})

	m.updateState(Exchange, m.exchange.State())
	m.updateState(LLM, m.llm.State())
	return m
}

func readyToTrip(s Settings) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < s.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
	}
}

func (m *Manager) updateState(service string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.state.WithLabelValues(service).Set(v)
}

// ExecuteExchange runs fn through the exchange circuit, returning gobreaker.ErrOpenState
// (or ErrTooManyRequests while half-open) without calling fn when the circuit is tripped.
func (m *Manager) ExecuteExchange(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.execute(ctx, Exchange, m.exchange, fn)
}

// ExecuteLLM runs fn through the LLM circuit, same semantics as ExecuteExchange.
func (m *Manager) ExecuteLLM(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.execute(ctx, LLM, m.llm, fn)
}

func (m *Manager) execute(ctx context.Context, service string, cb *gobreaker.CircuitBreaker, fn func(ctx context.Context) error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.metrics.requests.WithLabelValues(service, result).Inc()
	return err
}

// ExchangeState reports the exchange circuit's current state.
func (m *Manager) ExchangeState() gobreaker.State { return m.exchange.State() }

// LLMState reports the LLM circuit's current state.
func (m *Manager) LLMState() gobreaker.State { return m.llm.State() }
