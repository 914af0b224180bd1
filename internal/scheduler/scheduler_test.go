package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", within)
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New(Job{
		Name:     "resync",
		Schedule: "* * * * * *",
		Enabled:  true,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerDescriptor(t *testing.T) {
	var fires atomic.Int32
	sched := New(Job{
		Name:     "resync",
		Schedule: "@every 1s",
		Enabled:  true,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return errors.New("backend unavailable")
		},
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// A failing job keeps its schedule.
	waitFor(t, 3500*time.Millisecond, func() bool { return fires.Load() >= 2 })
}

func TestSchedulerSkipsDisabled(t *testing.T) {
	var fires atomic.Int32
	sched := New(
		Job{Name: "disabled", Schedule: "* * * * * *", Enabled: false, Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		}},
		Job{Name: "unscheduled", Enabled: true, Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		}},
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires, got %d", n)
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	var fires atomic.Int32
	sched := New(
		Job{Name: "broken", Schedule: "not a schedule", Enabled: true, Run: func(ctx context.Context) error { return nil }},
		Job{Name: "ok", Schedule: "* * * * * *", Enabled: true, Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		}},
	)
	if err := sched.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerJobTimeout(t *testing.T) {
	done := make(chan error, 1)
	sched := New(Job{
		Name:     "slow",
		Schedule: "* * * * * *",
		Enabled:  true,
		Timeout:  50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			select {
			case done <- ctx.Err():
			default:
			}
			return ctx.Err()
		},
	})
	sched.Start(context.Background())
	defer sched.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not run")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("@every 30s"); err != nil {
		t.Error(err)
	}
	if err := Validate("*/5 * * * *"); err != nil {
		t.Error(err)
	}
	if err := Validate("bogus"); err == nil {
		t.Error("expected error")
	}
}
