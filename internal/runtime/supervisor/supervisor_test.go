package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPanicIsRecordedAndCancels(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "boom: panic: kaboom") {
		t.Fatalf("err=%v", err)
	}
	if s.Context().Err() == nil {
		t.Fatalf("context not cancelled")
	}
}

func TestCancellationIsNotAnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestFirstErrorWinsWithoutCancel(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	first := errors.New("first")
	s.Go("a", func(ctx context.Context) error { return first })
	if err := s.Wait(waitCtx(t)); !errors.Is(err, first) {
		t.Fatalf("err=%v", err)
	}
	if s.Context().Err() != nil {
		t.Fatalf("context cancelled without WithCancelOnError")
	}
	s.Cancel()
}

func TestGoRestartRetriesUntilNil(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("again")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs=%d want 3", got)
	}
}

func TestWaitTimeoutNamesStragglers(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-release })
	s.Go0("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "[stuck stuck]") {
		t.Fatalf("err=%v", err)
	}

	close(release)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("err=%v", err)
	}
	if r := s.Running(); len(r) != 0 {
		t.Fatalf("running=%v", r)
	}
}
