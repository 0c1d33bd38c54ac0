// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

type mockHTTPServer struct {
	listenErr   error
	started     chan struct{}
	release     chan struct{}
	shutdownErr error
	shutdowns   atomic.Int64
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	close(m.started)
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return nil
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	m.shutdowns.Add(1)
	close(m.release)
	return m.shutdownErr
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown on cancel", func(t *testing.T) {
		server := newMockHTTPServer()
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		<-server.started
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("service did not stop")
		}

		if server.shutdowns.Load() != 1 {
			t.Errorf("expected one shutdown call, got %d", server.shutdowns.Load())
		}
	})

	t.Run("listen failure is returned", func(t *testing.T) {
		server := newMockHTTPServer()
		server.listenErr = errors.New("port in use")
		svc := NewHTTPServerService(server, time.Second)

		err := svc.Serve(context.Background())
		if err == nil || !errors.Is(err, server.listenErr) {
			t.Errorf("expected listen error, got %v", err)
		}
	})
}

func TestPeriodicService(t *testing.T) {
	t.Run("runs on interval", func(t *testing.T) {
		var runs atomic.Int64
		svc := NewPeriodicService("test-job", 10*time.Millisecond, false, func(_ context.Context) error {
			runs.Add(1)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		deadline := time.After(2 * time.Second)
		for runs.Load() < 3 {
			select {
			case <-deadline:
				t.Fatalf("expected at least 3 runs, got %d", runs.Load())
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()

		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("run at start", func(t *testing.T) {
		var runs atomic.Int64
		svc := NewPeriodicService("test-job", time.Hour, true, func(_ context.Context) error {
			runs.Add(1)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		deadline := time.After(2 * time.Second)
		for runs.Load() < 1 {
			select {
			case <-deadline:
				t.Fatal("expected immediate run")
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()
		<-done
	})

	t.Run("job errors do not stop the loop", func(t *testing.T) {
		var runs atomic.Int64
		svc := NewPeriodicService("failing-job", 10*time.Millisecond, false, func(_ context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		deadline := time.After(2 * time.Second)
		for runs.Load() < 2 {
			select {
			case <-deadline:
				t.Fatalf("expected repeated runs despite errors, got %d", runs.Load())
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()
		<-done
	})
}

type fakeStreamRunner struct {
	topic string
	err   error
}

func (f *fakeStreamRunner) Run(ctx context.Context, topic string, _ func(ctx context.Context, msg *message.Message) error) error {
	f.topic = topic
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestConsumerService(t *testing.T) {
	t.Run("stops with context", func(t *testing.T) {
		runner := &fakeStreamRunner{}
		svc := NewConsumerService("test-consumer", runner, "some.topic", func(_ context.Context, _ *message.Message) error {
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}

		if runner.topic != "some.topic" {
			t.Errorf("expected subscription to some.topic, got %q", runner.topic)
		}
	})

	t.Run("runner failure is returned", func(t *testing.T) {
		runner := &fakeStreamRunner{err: errors.New("stream gone")}
		svc := NewConsumerService("test-consumer", runner, "some.topic", nil)

		if err := svc.Serve(context.Background()); err == nil {
			t.Error("expected an error from a failed runner")
		}
	})
}

type fakeContextRunner struct{ ran atomic.Bool }

func (f *fakeContextRunner) RunWithContext(ctx context.Context) error {
	f.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubService(t *testing.T) {
	runner := &fakeContextRunner{}
	svc := NewHubService(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub service did not stop")
	}

	if !runner.ran.Load() {
		t.Error("expected the hub loop to run")
	}
}

type fakeLimiterCleaner struct {
	interval time.Duration
	maxIdle  time.Duration
}

func (f *fakeLimiterCleaner) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	f.interval = interval
	f.maxIdle = maxIdle
	<-ctx.Done()
}

func TestLimiterCleanupService(t *testing.T) {
	cleaner := &fakeLimiterCleaner{}
	svc := NewLimiterCleanupService(cleaner, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup service did not stop")
	}

	if cleaner.interval != time.Minute || cleaner.maxIdle != time.Hour {
		t.Errorf("unexpected cleanup parameters: %v %v", cleaner.interval, cleaner.maxIdle)
	}
}
