package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
)

func TestPolicy_Wait(t *testing.T) {
	p := Policy{MaxAttempts: 6, MinWait: time.Second, MaxWait: 8 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
		{40, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Wait(tt.attempt); got != tt.want {
			t.Errorf("Wait(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_BackoffMatchesWait(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinWait: 10 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	b := p.Backoff()

	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		next, stop := b.Next()
		if stop {
			t.Fatalf("backoff stopped after attempt %d, want %d attempts", attempt, p.MaxAttempts)
		}
		if next != p.Wait(attempt) {
			t.Errorf("backoff after attempt %d = %v, want %v", attempt, next, p.Wait(attempt))
		}
	}

	if _, stop := b.Next(); !stop {
		t.Error("backoff did not stop after the final attempt")
	}
}

func TestDo_RetryableExhausted(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		p := Policy{MaxAttempts: n, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

		calls := 0
		var last error
		_, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
			calls++
			last = domain.ErrUpstream(domain.StageEmbed, 500+calls, "fail")
			return "", last
		})

		if calls != n {
			t.Errorf("MaxAttempts=%d: op invoked %d times", n, calls)
		}
		if err != last {
			t.Errorf("MaxAttempts=%d: Do() error = %v, want last failure %v", n, err, last)
		}
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinWait: time.Millisecond}
	want := domain.ErrInvalidRequest("bad body")

	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, want
	})

	if calls != 1 {
		t.Errorf("op invoked %d times, want 1", calls)
	}
	if err != want {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	var retries []int
	p := Policy{
		MaxAttempts: 3,
		MinWait:     time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			retries = append(retries, attempt)
		},
	}

	calls := 0
	got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.ErrTimeout(domain.StageSearch, context.DeadlineExceeded)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want ok", got)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
}

func TestDo_NoWaitAfterFinalAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond}

	hooks := 0
	p.OnRetry = func(int, error, time.Duration) { hooks++ }

	start := time.Now()
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, domain.ErrTransport(domain.StageComplete, errors.New("reset"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if hooks != 1 {
		t.Errorf("OnRetry called %d times, want 1", hooks)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() took %v", elapsed)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, MinWait: time.Hour}

	calls := 0
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, domain.ErrTransport(domain.StageEmbed, errors.New("reset"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("op invoked %d times, want 1", calls)
	}
}

func TestDo_ZeroWait(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	calls := 0
	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, domain.ErrTransport(domain.StageEmbed, errors.New("reset"))
	})
	if calls != 3 {
		t.Errorf("op invoked %d times, want 3", calls)
	}
}
