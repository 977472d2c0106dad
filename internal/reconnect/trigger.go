// Package reconnect runs a note sync pass once connectivity has been stable
// for a debounce window.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/reconcile"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period required after a reconnect.
const DefaultDebounce = 1500 * time.Millisecond

var (
	errMissingMonitor = errors.New("reconnect: connectivity monitor is required")
	errMissingSyncer  = errors.New("reconnect: syncer is required")
	errMissingSession = errors.New("reconnect: session is required")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("reconnect: trigger already started")
	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("reconnect: trigger stopped")
)

// State is the last observed connectivity.
type State int

const (
	StateUnknown State = iota
	StateOffline
	StateOnline
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Monitor delivers connectivity changes until the returned cleanup is called.
type Monitor interface {
	Subscribe(ctx context.Context) (<-chan bool, func())
}

// Syncer runs one reconciliation pass.
type Syncer interface {
	SyncNotes(ctx context.Context) (reconcile.Report, error)
}

// Session reports whether a user is signed in.
type Session interface {
	IsAuthenticated() bool
}

// AfterFunc schedules fn after delay and returns a function that cancels it,
// reporting whether the call was prevented. time.AfterFunc satisfies it via
// its Stop method.
type AfterFunc func(delay time.Duration, fn func()) (stop func() bool)

func realAfterFunc(delay time.Duration, fn func()) func() bool {
	return time.AfterFunc(delay, fn).Stop
}

type Config struct {
	Monitor   Monitor
	Syncer    Syncer
	Session   Session
	Debounce  time.Duration
	AfterFunc AfterFunc
	Logger    *zap.Logger
}

// Trigger observes connectivity and invokes the syncer once per stable
// reconnect. It owns a single debounce timer slot.
type Trigger struct {
	monitor   Monitor
	syncer    Syncer
	session   Session
	debounce  time.Duration
	afterFunc AfterFunc
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	generation  uint64
	cancelTimer func() bool
	started     bool
	stopped     bool
	unsubscribe func()

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config) (*Trigger, error) {
	if cfg.Monitor == nil {
		return nil, errMissingMonitor
	}
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	if cfg.Session == nil {
		return nil, errMissingSession
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Trigger{
		monitor:   cfg.Monitor,
		syncer:    cfg.Syncer,
		session:   cfg.Session,
		debounce:  debounce,
		afterFunc: afterFunc,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}, nil
}

// Start subscribes to the monitor. Cancelling ctx stops observation and
// cancels any running sync; Stop must still be called to release the trigger.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	stream, unsubscribe := t.monitor.Subscribe(t.runCtx)
	t.unsubscribe = unsubscribe
	t.wg.Add(1)
	t.mu.Unlock()

	context.AfterFunc(ctx, t.cancelRun)

	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.runCtx.Done():
				return
			case connected, ok := <-stream:
				if !ok {
					return
				}
				t.HandleConnectivity(connected)
			}
		}
	}()
	return nil
}

// HandleConnectivity applies one connectivity observation. Going online
// (re)arms the debounce timer; going offline cancels it.
func (t *Trigger) HandleConnectivity(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	t.stopTimerLocked()
	t.generation++
	if !connected {
		t.state = StateOffline
		t.logger.Debug("connectivity lost, pending note sync cancelled")
		return
	}

	t.state = StateOnline
	generation := t.generation
	t.cancelTimer = t.afterFunc(t.debounce, func() {
		t.fire(generation)
	})
	t.logger.Debug("connectivity regained, note sync scheduled", zap.Duration("debounce", t.debounce))
}

// State returns the last observed connectivity.
func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop cancels the pending timer, stops observing connectivity and waits for
// an in-flight sync to return.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.stopTimerLocked()
	unsubscribe := t.unsubscribe
	t.mu.Unlock()

	t.cancelRun()
	if unsubscribe != nil {
		unsubscribe()
	}
	t.wg.Wait()
}

func (t *Trigger) fire(generation uint64) {
	t.mu.Lock()
	if t.stopped || generation != t.generation || t.state != StateOnline {
		t.mu.Unlock()
		return
	}
	t.cancelTimer = nil
	if !t.session.IsAuthenticated() {
		t.mu.Unlock()
		t.logger.Debug("note sync skipped, no authenticated session")
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	report, err := t.syncer.SyncNotes(t.runCtx)
	if err != nil {
		t.logger.Warn("reconnect note sync failed", zap.Error(err))
		return
	}
	if report.AlreadyRunning {
		t.logger.Debug("reconnect note sync ignored, pass already running")
	}
}

func (t *Trigger) stopTimerLocked() {
	if t.cancelTimer != nil {
		t.cancelTimer()
		t.cancelTimer = nil
	}
}
