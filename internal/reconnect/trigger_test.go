package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/connectivity"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconcile"
)

type countingSyncer struct {
	calls atomic.Int32
}

func (s *countingSyncer) SyncNotes(context.Context) (reconcile.Report, error) {
	s.calls.Add(1)
	return reconcile.Report{}, nil
}

type staticSession struct {
	authenticated atomic.Bool
}

func newSession(authenticated bool) *staticSession {
	session := &staticSession{}
	session.authenticated.Store(authenticated)
	return session
}

func (s *staticSession) IsAuthenticated() bool {
	return s.authenticated.Load()
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, fn func()) func() bool {
	timer := &fakeTimer{delay: delay, fn: fn}
	s.mu.Lock()
	s.timers = append(s.timers, timer)
	s.mu.Unlock()
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if timer.fired || timer.stopped {
			return false
		}
		timer.stopped = true
		return true
	}
}

func (s *fakeScheduler) fireDue() int {
	s.mu.Lock()
	due := make([]*fakeTimer, 0, len(s.timers))
	for _, timer := range s.timers {
		if !timer.fired && !timer.stopped {
			timer.fired = true
			due = append(due, timer)
		}
	}
	s.mu.Unlock()
	for _, timer := range due {
		timer.fn()
	}
	return len(due)
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, timer := range s.timers {
		if !timer.fired && !timer.stopped {
			count++
		}
	}
	return count
}

func newTestTrigger(t *testing.T, syncer Syncer, session Session, scheduler *fakeScheduler) *Trigger {
	t.Helper()
	trigger, err := New(Config{
		Monitor:   connectivity.NewBroadcaster(),
		Syncer:    syncer,
		Session:   session,
		Debounce:  time.Second,
		AfterFunc: scheduler.AfterFunc,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	t.Cleanup(trigger.Stop)
	return trigger
}

func TestTriggerCollapsesRapidOnlineEvents(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := &fakeScheduler{}
	trigger := newTestTrigger(t, syncer, newSession(true), scheduler)

	trigger.HandleConnectivity(true)
	trigger.HandleConnectivity(true)
	trigger.HandleConnectivity(true)

	if pending := scheduler.pending(); pending != 1 {
		t.Fatalf("expected a single armed timer, got %d", pending)
	}
	if scheduler.timers[0].delay != time.Second {
		t.Fatalf("expected configured debounce, got %s", scheduler.timers[0].delay)
	}
	scheduler.fireDue()

	if calls := syncer.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly one sync, got %d", calls)
	}
	if trigger.State() != StateOnline {
		t.Fatalf("expected online state, got %s", trigger.State())
	}
}

func TestTriggerCancelsSyncWhenConnectionDrops(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := &fakeScheduler{}
	trigger := newTestTrigger(t, syncer, newSession(true), scheduler)

	trigger.HandleConnectivity(true)
	trigger.HandleConnectivity(false)

	if fired := scheduler.fireDue(); fired != 0 {
		t.Fatalf("expected no armed timers, %d fired", fired)
	}
	if calls := syncer.calls.Load(); calls != 0 {
		t.Fatalf("expected no sync, got %d", calls)
	}
	if trigger.State() != StateOffline {
		t.Fatalf("expected offline state, got %s", trigger.State())
	}
}

func TestTriggerIgnoresStaleTimerCallback(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := &fakeScheduler{}
	trigger := newTestTrigger(t, syncer, newSession(true), scheduler)

	trigger.HandleConnectivity(true)
	stale := scheduler.timers[0].fn
	trigger.HandleConnectivity(false)

	stale()
	if calls := syncer.calls.Load(); calls != 0 {
		t.Fatalf("stale timer callback must not sync, got %d", calls)
	}
}

func TestTriggerRequiresAuthenticatedSession(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := &fakeScheduler{}
	session := newSession(false)
	trigger := newTestTrigger(t, syncer, session, scheduler)

	trigger.HandleConnectivity(true)
	scheduler.fireDue()
	if calls := syncer.calls.Load(); calls != 0 {
		t.Fatalf("expected no sync without session, got %d", calls)
	}

	session.authenticated.Store(true)
	trigger.HandleConnectivity(false)
	trigger.HandleConnectivity(true)
	scheduler.fireDue()
	if calls := syncer.calls.Load(); calls != 1 {
		t.Fatalf("expected sync once signed in, got %d", calls)
	}
}

func TestTriggerStopCancelsPendingTimer(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := &fakeScheduler{}
	trigger := newTestTrigger(t, syncer, newSession(true), scheduler)

	trigger.HandleConnectivity(true)
	trigger.Stop()

	if pending := scheduler.pending(); pending != 0 {
		t.Fatalf("expected timer to be cancelled on stop, %d pending", pending)
	}
	trigger.HandleConnectivity(true)
	if pending := scheduler.pending(); pending != 0 {
		t.Fatalf("expected events after stop to be ignored, %d pending", pending)
	}
	if err := trigger.Start(context.Background()); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if calls := syncer.calls.Load(); calls != 0 {
		t.Fatalf("expected no sync, got %d", calls)
	}
}

func TestTriggerSyncsAfterStableReconnect(t *testing.T) {
	syncer := &countingSyncer{}
	broadcaster := connectivity.NewBroadcaster()
	trigger, err := New(Config{
		Monitor:  broadcaster,
		Syncer:   syncer,
		Session:  newSession(true),
		Debounce: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := trigger.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := trigger.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	broadcaster.Publish(false)
	broadcaster.Publish(true)

	deadline := time.After(2 * time.Second)
	for syncer.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a sync after reconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	trigger.Stop()
	broadcaster.Publish(false)
	broadcaster.Publish(true)
	time.Sleep(80 * time.Millisecond)
	if calls := syncer.calls.Load(); calls != 1 {
		t.Fatalf("expected no sync after stop, got %d", calls)
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "monitor", cfg: Config{Syncer: &countingSyncer{}, Session: newSession(true)}},
		{name: "syncer", cfg: Config{Monitor: connectivity.NewBroadcaster(), Session: newSession(true)}},
		{name: "session", cfg: Config{Monitor: connectivity.NewBroadcaster(), Syncer: &countingSyncer{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected missing %s error", tc.name)
			}
		})
	}
}
