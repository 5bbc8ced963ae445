package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var errUpstream = errors.New("upstream down")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := New("scrape", Config{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errUpstream })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
	assert.Equal(t, false, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb := New("embed", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	current := time.Now()
	cb.now = func() time.Time { return current }
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())

	current = current.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(ctx, func() error { return nil })
	assert.Equal(t, nil, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("404")
	cb := New("scrape", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, notFound) },
	})

	err := cb.Execute(context.Background(), func() error { return notFound })
	assert.Equal(t, notFound, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}
