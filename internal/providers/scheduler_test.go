package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"piebrain/internal/config"
)

func TestScheduler_FireEnqueuesAllPrompts(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{
		Spec:    "0 0 * * *",
		Prompts: []string{"find new state space model papers", "sync the notes repo"},
	}, nil)

	var got []string
	s.fire(func(text string) (int64, error) {
		got = append(got, text)
		return int64(len(got)), nil
	})

	want := []string{"find new state space model papers", "sync the notes repo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enqueued prompts mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduler_FireContinuesPastFailure(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{
		Spec:    "0 0 * * *",
		Prompts: []string{"first", "second"},
	}, nil)

	var got []string
	s.fire(func(text string) (int64, error) {
		if text == "first" {
			return 0, errors.New("queue full")
		}
		got = append(got, text)
		return 1, nil
	})

	if len(got) != 1 || got[0] != "second" {
		t.Errorf("got = %v, want [second]", got)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{
		Spec:    "every other blue moon",
		Prompts: []string{"task"},
	}, nil)

	err := s.Run(context.Background(), func(string) (int64, error) { return 0, nil })
	if err == nil || !strings.Contains(err.Error(), "invalid cron spec") {
		t.Errorf("err = %v", err)
	}
}

func TestScheduler_DefaultSpec(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{}, nil)
	if s.spec != "0 0 * * *" {
		t.Errorf("spec = %q, want midnight default", s.spec)
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{
		Spec:    "0 0 * * *",
		Prompts: []string{"task"},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(string) (int64, error) { return 0, nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("scheduler did not stop")
	}
}

func TestScheduler_NoPromptsIdles(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Spec: "* * * * *"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(string) (int64, error) {
			t.Error("enqueue called with no prompts configured")
			return 0, nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("scheduler did not stop")
	}
}
