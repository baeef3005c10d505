package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWorker_ExecutesInSubmissionOrder(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	var order []int
	var handles []*Handle

	for i := 0; i < 5; i++ {
		i := i
		h, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
			order = append(order, i)
			return i, nil
		}})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		handles = append(handles, h)
	}

	for i, h := range handles {
		out, err := h.Output(context.Background())
		if err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
		if out.(int) != i {
			t.Errorf("task %d returned %v", i, out)
		}
	}

	// order is only written by the worker goroutine, and waiting on the last
	// handle establishes visibility.
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v, want ascending", order)
		}
	}
}

func TestWorker_TaskFailureDoesNotStopWorker(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	boom := errors.New("boom")
	failing, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		return nil, boom
	}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	healthy, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		return "ok", nil
	}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = failing.Output(context.Background())
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected *TaskError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected TaskError to wrap the original error, got %v", err)
	}

	out, err := healthy.Output(context.Background())
	if err != nil {
		t.Fatalf("healthy task after a failure should succeed, got %v", err)
	}
	if out.(string) != "ok" {
		t.Errorf("unexpected output %v", out)
	}
}

func TestWorker_PanicIsCapturedAsTaskError(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	panicking, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		panic("deliberate")
	}})

	_, err := panicking.Output(context.Background())
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected *TaskError from a panicking task, got %v", err)
	}

	survivor, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		return 42, nil
	}})
	if _, err := survivor.Output(context.Background()); err != nil {
		t.Fatalf("worker should survive a panicking task, got %v", err)
	}
}

func TestWorker_SubmitValidation(t *testing.T) {
	w := New()
	if _, err := w.Submit(Task{}); !errors.Is(err, ErrNilOperation) {
		t.Errorf("expected ErrNilOperation, got %v", err)
	}
}

func TestWorker_StopDiscardsPendingTasks(t *testing.T) {
	w := New()
	// Never started: everything stays queued until Stop discards it.
	h1, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return 1, nil }})
	h2, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return 2, nil }})

	w.Stop()

	for _, h := range []*Handle{h1, h2} {
		if _, err := h.Output(context.Background()); !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped for a pending task, got %v", err)
		}
	}

	if _, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return nil, nil }}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestWorker_StopWaitsForInFlightTask(t *testing.T) {
	w := New()
	w.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := false

	inflight, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		close(started)
		<-release
		finished = true
		return nil, nil
	}})
	<-started

	queued, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) {
		return nil, nil
	}})

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	w.Stop()

	if !finished {
		t.Error("Stop returned before the in-flight task completed")
	}
	if _, err := inflight.Output(context.Background()); err != nil {
		t.Errorf("in-flight task should have completed, got %v", err)
	}
	if _, err := queued.Output(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("queued task should resolve to ErrStopped, got %v", err)
	}
}

func TestWorker_StopUnblocksSubmitOnFullQueue(t *testing.T) {
	w := New(WithQueueSize(1))
	// Never started: the single buffer slot fills immediately and the next
	// Submit has to wait.
	h1, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return 1, nil }})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	type submission struct {
		h   *Handle
		err error
	}
	second := make(chan submission, 1)
	go func() {
		h, err := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return 2, nil }})
		second <- submission{h, err}
	}()
	time.Sleep(50 * time.Millisecond) // let the second Submit reach the enqueue

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a Submit waiting on a full queue")
	}

	if _, err := h1.Output(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("queued task should resolve to ErrStopped, got %v", err)
	}

	select {
	case s := <-second:
		if s.err == nil {
			// The enqueue won the race with shutdown; the handle must still
			// resolve rather than hang.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := s.h.Output(ctx); !errors.Is(err, ErrStopped) {
				t.Errorf("handle enqueued during shutdown should resolve to ErrStopped, got %v", err)
			}
		} else if !errors.Is(s.err, ErrStopped) {
			t.Errorf("blocked Submit should fail with ErrStopped, got %v", s.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit still blocked after Stop returned")
	}
}

func TestWorker_OnDoneCallback(t *testing.T) {
	w := New()
	w.Start()
	defer w.Stop()

	got := make(chan any, 1)
	h, err := w.Submit(Task{
		Op:     func(ctx context.Context) (any, error) { return "payload", nil },
		OnDone: func(output any, err error) { got <- output },
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := h.Output(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	select {
	case out := <-got:
		if out.(string) != "payload" {
			t.Errorf("callback received %v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestWorker_OutputHonoursContext(t *testing.T) {
	w := New() // never started, so the task never resolves
	defer w.Stop()

	h, _ := w.Submit(Task{Op: func(ctx context.Context) (any, error) { return nil, nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Output(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
