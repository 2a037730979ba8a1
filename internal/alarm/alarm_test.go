package alarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFired(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("Expected %s to fire, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Alarm %s did not fire", want)
	}
}

func expectQuiet(t *testing.T, ch <-chan string, d time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Errorf("Unexpected alarm %s", got)
	case <-time.After(d):
	}
}

func TestSetExact_Fires(t *testing.T) {
	f := New(WithRecheck(5 * time.Millisecond))
	defer f.Close()

	fired := make(chan string, 1)
	if err := f.SetExact("daily", time.Now().Add(20*time.Millisecond), func(ctx context.Context) { fired <- "daily" }); err != nil {
		t.Fatalf("SetExact failed: %v", err)
	}
	if f.Count() != 1 {
		t.Errorf("Expected one pending alarm, got %d", f.Count())
	}

	waitFired(t, fired, "daily")
	if _, ok := f.Pending("daily"); ok {
		t.Error("Expected fired alarm to be removed")
	}
}

func TestSetExact_DeniedWhenNotAllowed(t *testing.T) {
	f := New(WithExactAllowed(false))
	defer f.Close()

	if f.CanScheduleExact() {
		t.Error("Expected CanScheduleExact false")
	}
	err := f.SetExact("daily", time.Now().Add(time.Hour), func(context.Context) {})
	if !errors.Is(err, ErrExactDenied) {
		t.Errorf("Expected ErrExactDenied, got %v", err)
	}
	if f.Count() != 0 {
		t.Error("Expected nothing registered")
	}
}

func TestSet_SameIDReplaces(t *testing.T) {
	f := New(WithRecheck(5 * time.Millisecond))
	defer f.Close()

	fired := make(chan string, 2)
	f.SetExact("daily", time.Now().Add(40*time.Millisecond), func(context.Context) { fired <- "first" })
	f.SetExact("daily", time.Now().Add(60*time.Millisecond), func(context.Context) { fired <- "second" })

	if f.Count() != 1 {
		t.Errorf("Expected a single registration, got %d", f.Count())
	}
	waitFired(t, fired, "second")
	expectQuiet(t, fired, 80*time.Millisecond)
}

func TestCancel_PreventsFire(t *testing.T) {
	f := New(WithRecheck(5 * time.Millisecond))
	defer f.Close()

	fired := make(chan string, 1)
	f.SetExact("daily", time.Now().Add(20*time.Millisecond), func(context.Context) { fired <- "daily" })
	f.Cancel("daily")
	f.Cancel("daily")

	expectQuiet(t, fired, 60*time.Millisecond)
}

func TestSetInexact_FiresOnWindowPoll(t *testing.T) {
	f := New(WithWindow(10 * time.Millisecond))
	defer f.Close()

	fired := make(chan string, 1)
	if err := f.SetInexact("daily", time.Now().Add(15*time.Millisecond), func(context.Context) { fired <- "daily" }); err != nil {
		t.Fatalf("SetInexact failed: %v", err)
	}
	waitFired(t, fired, "daily")
}

func TestSetExact_FiresAfterWallClockJump(t *testing.T) {
	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	f := New(WithRecheck(5*time.Millisecond), WithClock(clock))
	defer f.Close()

	fired := make(chan string, 1)
	f.SetExact("daily", clock().Add(time.Hour), func(context.Context) { fired <- "daily" })
	expectQuiet(t, fired, 20*time.Millisecond)

	// The host slept through the alarm; wall time is now past it.
	offset.Store(int64(2 * time.Hour))
	waitFired(t, fired, "daily")
}

func TestCallback_CanRegisterNextAlarm(t *testing.T) {
	f := New(WithRecheck(5 * time.Millisecond))
	defer f.Close()

	var mu sync.Mutex
	count := 0
	done := make(chan string, 1)
	var cb Callback
	cb = func(ctx context.Context) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 2 {
			done <- "second"
			return
		}
		if err := f.SetExact("daily", time.Now().Add(10*time.Millisecond), cb); err != nil {
			t.Errorf("re-register failed: %v", err)
		}
	}
	f.SetExact("daily", time.Now().Add(10*time.Millisecond), cb)

	waitFired(t, done, "second")
}

func TestClose_StopsPendingAndRejectsNew(t *testing.T) {
	f := New(WithRecheck(5 * time.Millisecond))
	fired := make(chan string, 1)
	f.SetExact("daily", time.Now().Add(30*time.Millisecond), func(context.Context) { fired <- "daily" })

	f.Close()
	expectQuiet(t, fired, 60*time.Millisecond)

	if err := f.SetInexact("daily", time.Now(), func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
