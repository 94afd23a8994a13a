package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestExecuteExchangeTripsAfterFailureRatio(t *testing.T) {
	m := NewManager(WithExchangeSettings(Settings{
		MinRequests:     2,
		FailureRatio:    0.5,
		OpenTimeout:     50 * time.Millisecond,
		HalfOpenMaxReqs: 1,
		CountInterval:   time.Second,
	}))

	boom := errors.New("exchange unreachable")
	_ = m.ExecuteExchange(context.Background(), func(ctx context.Context) error { return boom })
	_ = m.ExecuteExchange(context.Background(), func(ctx context.Context) error { return boom })

	require.Equal(t, gobreaker.StateOpen, m.ExchangeState())

	err := m.ExecuteExchange(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn must not run while circuit is open")
		return nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestExecuteLLMPassesThroughOnSuccess(t *testing.T) {
	m := NewManager()
	called := false
	err := m.ExecuteLLM(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, gobreaker.StateClosed, m.LLMState())
}

func TestExecuteExchangeRecoversAfterOpenTimeout(t *testing.T) {
	m := NewManager(WithExchangeSettings(Settings{
		MinRequests:     1,
		FailureRatio:    0.5,
		OpenTimeout:     10 * time.Millisecond,
		HalfOpenMaxReqs: 1,
		CountInterval:   time.Second,
	}))

	boom := errors.New("fail")
	_ = m.ExecuteExchange(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, gobreaker.StateOpen, m.ExchangeState())

	time.Sleep(20 * time.Millisecond)

	err := m.ExecuteExchange(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateClosed, m.ExchangeState())
}
