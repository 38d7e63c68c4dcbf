package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/anthropic"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/openai"
)

// DefaultTimeout bounds one provider call.
const DefaultTimeout = 60 * time.Second

// Settings per provider
type Settings struct {
	Timeout time.Duration
	BaseURL string
}

// Constructor builds the raw SDK-backed client.
type Constructor func(p aiconfig.Provider, apiKey, baseURL string) (ai.Client, error)

// Factory hands out clients guarded by a per-provider timeout and
// circuit breaker.
type Factory struct {
	settings    map[aiconfig.Provider]Settings
	construct   Constructor
	log         *zap.Logger
	mu          sync.Mutex
	breakers    map[aiconfig.Provider]*gobreaker.CircuitBreaker
	breakerConf gobreaker.Settings
}

// Option configures a Factory.
type Option func(*Factory)

// WithConstructor replaces the SDK constructor (tests).
func WithConstructor(c Constructor) Option { return func(f *Factory) { f.construct = c } }

// WithBreakerSettings overrides the circuit breaker tuning.
func WithBreakerSettings(s gobreaker.Settings) Option { return func(f *Factory) { f.breakerConf = s } }

func NewFactory(settings map[aiconfig.Provider]Settings, log *zap.Logger, opts ...Option) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Factory{
		settings:  settings,
		construct: NewSDKClient,
		log:       log,
		breakers:  make(map[aiconfig.Provider]*gobreaker.CircuitBreaker),
		breakerConf: gobreaker.Settings{
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// NewSDKClient maps a provider to its SDK adapter.
func NewSDKClient(p aiconfig.Provider, apiKey, baseURL string) (ai.Client, error) {
	switch p {
	case aiconfig.ProviderOpenAI:
		return openai.NewWithBaseURL(p, apiKey, baseURL), nil
	case aiconfig.ProviderAnthropic:
		return anthropic.NewClient(apiKey, baseURL), nil
	case aiconfig.ProviderGoogle:
		return openai.NewGoogleClient(apiKey, baseURL), nil
	}
	return nil, &aiconfig.ConfigurationError{Field: "provider", Reason: "unsupported provider " + string(p)}
}

// Client implements ai.Factory.
func (f *Factory) Client(p aiconfig.Provider, apiKey string) (ai.Client, error) {
	if !p.Valid() {
		return nil, &aiconfig.ConfigurationError{Field: "provider", Reason: "unsupported provider " + string(p)}
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, ai.NewProviderError(p, ai.KindAuth, errors.New("no API key configured"))
	}
	s := f.settings[p]
	inner, err := f.construct(p, apiKey, s.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &guarded{provider: p, inner: inner, timeout: timeout, breaker: f.breaker(p)}, nil
}

func (f *Factory) breaker(p aiconfig.Provider) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[p]; ok {
		return cb
	}
	st := f.breakerConf
	st.Name = string(p)
	// only transient provider failures count against the breaker
	st.IsSuccessful = func(err error) bool { return err == nil || !ai.IsRetryable(err) }
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		f.log.Warn("provider circuit breaker state changed",
			zap.String("provider", name), zap.String("from", from.String()), zap.String("to", to.String()))
	}
	cb := gobreaker.NewCircuitBreaker(st)
	f.breakers[p] = cb
	return cb
}

type guarded struct {
	provider aiconfig.Provider
	inner    ai.Client
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
}

func (g *guarded) Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		resp, err := g.inner.Complete(cctx, req)
		if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ai.ErrTimeout) {
			err = ai.NewProviderError(g.provider, ai.KindTimeout, err)
		}
		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ai.CompletionResponse{}, ai.NewProviderError(g.provider, ai.KindProviderUnavailable, err)
		}
		return ai.CompletionResponse{}, err
	}
	return out.(ai.CompletionResponse), nil
}
