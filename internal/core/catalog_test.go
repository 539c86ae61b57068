package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoizedLoadsOnce(t *testing.T) {
	var loads int32
	m := NewMemoized(func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}, 0)
	if m.State() != Unpopulated {
		t.Fatalf("expected unpopulated, got %s", m.State())
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := m.GetOrLoad(context.Background()); err != nil || v != 42 {
				t.Errorf("GetOrLoad: %v %v", v, err)
			}
		}()
	}
	wg.Wait()
	if _, err := m.GetOrLoad(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
	if m.State() != Populated {
		t.Fatalf("expected populated, got %s", m.State())
	}
}

func TestMemoizedRefresh(t *testing.T) {
	n := 0
	m := NewMemoized(func(context.Context) (int, error) {
		n++
		return n, nil
	}, 0)
	ctx := context.Background()

	if v, _ := m.GetOrLoad(ctx); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v, _ := m.Refresh(ctx); v != 2 {
		t.Fatalf("expected 2 after refresh, got %d", v)
	}
	if v, _ := m.GetOrLoad(ctx); v != 2 {
		t.Fatalf("expected cached 2, got %d", v)
	}
}

func TestMemoizedRefreshingState(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	m := NewMemoized(func(context.Context) (string, error) {
		if first {
			first = false
			return "v1", nil
		}
		close(started)
		<-release
		return "v2", nil
	}, 0)
	ctx := context.Background()
	if _, err := m.GetOrLoad(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan string)
	go func() {
		v, _ := m.Refresh(ctx)
		done <- v
	}()
	<-started
	if m.State() != Refreshing {
		t.Fatalf("expected refreshing, got %s", m.State())
	}
	if v, err := m.GetOrLoad(ctx); err != nil || v != "v1" {
		t.Fatalf("expected previous value during refresh, got %q %v", v, err)
	}
	close(release)
	if v := <-done; v != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
	if m.State() != Populated {
		t.Fatalf("expected populated, got %s", m.State())
	}
}

func TestMemoizedErrorKeepsState(t *testing.T) {
	fail := errors.New("catalog unavailable")
	var err error
	m := NewMemoized(func(context.Context) (int, error) { return 7, err }, 0)
	ctx := context.Background()

	err = fail
	if _, got := m.GetOrLoad(ctx); !errors.Is(got, fail) {
		t.Fatalf("expected load error, got %v", got)
	}
	if m.State() != Unpopulated {
		t.Fatalf("failed load must leave cache unpopulated, got %s", m.State())
	}

	err = nil
	if v, _ := m.GetOrLoad(ctx); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	err = fail
	if _, got := m.Refresh(ctx); !errors.Is(got, fail) {
		t.Fatalf("expected refresh error, got %v", got)
	}
	if m.State() != Populated {
		t.Fatalf("failed refresh must keep populated, got %s", m.State())
	}
	if v, got := m.GetOrLoad(ctx); got != nil || v != 7 {
		t.Fatalf("expected cached 7, got %d %v", v, got)
	}
}

func TestMemoizedTTL(t *testing.T) {
	n := 0
	m := NewMemoized(func(context.Context) (int, error) {
		n++
		return n, nil
	}, time.Minute)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if v, _ := m.GetOrLoad(ctx); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	now = now.Add(30 * time.Second)
	if v, _ := m.GetOrLoad(ctx); v != 1 {
		t.Fatalf("expected cached 1, got %d", v)
	}
	now = now.Add(time.Minute)
	if v, _ := m.GetOrLoad(ctx); v != 2 {
		t.Fatalf("expected reload after ttl, got %d", v)
	}
}

func TestMemoizedLoadSurvivesCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewMemoized(func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 9, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.GetOrLoad(ctx)
		first <- err
	}()
	<-started
	cancel()

	joined := make(chan int, 1)
	go func() {
		v, err := m.GetOrLoad(context.Background())
		if err != nil {
			t.Errorf("joined load failed: %v", err)
		}
		joined <- v
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-first; err != nil {
		t.Fatalf("load started by a cancelled caller failed: %v", err)
	}
	if v := <-joined; v != 9 {
		t.Fatalf("expected 9, got %d", v)
	}
	if m.State() != Populated {
		t.Fatalf("expected populated, got %s", m.State())
	}
}
