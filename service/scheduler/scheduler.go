package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskKind identifies a scheduled loop.
type TaskKind string

const (
	TaskState  TaskKind = "state"
	TaskOnline TaskKind = "online"
	TaskRender TaskKind = "render"
)

type (
	// Task is one loop iteration. Errors are logged and swallowed.
	Task func(ctx context.Context) error

	// TaskConfig registers a loop.
	TaskConfig struct {
		Kind     TaskKind
		Interval time.Duration
		Fn       Task
		// Fired right away on Start and Resume instead of waiting for the interval
		Immediate bool
	}

	// loop is the tracked task handle of one kind.
	loop struct {
		TaskConfig
		timer      *time.Timer
		inFlight   bool
		generation uint64
		// Immediate fire requested while an iteration was outstanding
		kickPending bool
	}
)

// Scheduler runs independently re-armed loops with a single-flight guard per kind.
// A loop is re-armed only after its previous iteration finished.
type Scheduler struct {
	sync.Mutex
	logger *zap.Logger
	loops  []*loop
	kinds  map[TaskKind]*loop
	//
	running bool
	paused  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Start arms every loop and fires the immediate ones.
func (s *Scheduler) Start() {
	s.Lock()
	defer s.Unlock()

	if s.running {
		return
	}
	s.running, s.paused = true, false
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Debug("start")
	s.kickLocked()
}

// StartPaused starts the scheduler in the paused state: nothing fires until Resume.
func (s *Scheduler) StartPaused() {
	s.Lock()
	defer s.Unlock()

	if s.running {
		return
	}
	s.running, s.paused = true, true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Debug("start paused")
}

// Stop cancels every pending arm. In-flight iterations finish but are not re-armed.
func (s *Scheduler) Stop() {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return
	}
	s.running, s.paused = false, false
	s.disarmLocked()
	s.cancel()

	s.logger.Debug("stop")
}

// Pause cancels every pending arm while keeping the scheduler started.
// In-flight iterations are allowed to land.
func (s *Scheduler) Pause() {
	s.Lock()
	defer s.Unlock()

	if !s.running || s.paused {
		return
	}
	s.paused = true
	s.disarmLocked()

	s.logger.Debug("pause")
}

// Resume re-arms the loops and fires the immediate ones once.
func (s *Scheduler) Resume() {
	s.Lock()
	defer s.Unlock()

	if !s.running || !s.paused {
		return
	}
	s.paused = false

	s.logger.Debug("resume")
	s.kickLocked()
}

// Trigger fires one loop now unless its previous iteration is still outstanding.
// Returns false if nothing was started.
func (s *Scheduler) Trigger(kind TaskKind) bool {
	s.Lock()
	defer s.Unlock()

	l, found := s.kinds[kind]
	if !found || !s.activeLocked() {
		return false
	}

	return s.launchLocked(l)
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.Lock()
	defer s.Unlock()

	return s.running
}

// Paused reports whether the scheduler is started but paused.
func (s *Scheduler) Paused() bool {
	s.Lock()
	defer s.Unlock()

	return s.running && s.paused
}

func (s *Scheduler) activeLocked() bool {
	return s.running && !s.paused
}

// kickLocked fires the immediate loops and arms the rest.
// An immediate loop that is still in flight fires again as soon as it lands.
func (s *Scheduler) kickLocked() {
	for _, l := range s.loops {
		if l.Immediate {
			if l.inFlight {
				l.kickPending = true
				continue
			}
			s.launchLocked(l)
			continue
		}
		s.armLocked(l)
	}
}

// disarmLocked stops every pending timer; a timer that already fired is invalidated by the generation bump.
func (s *Scheduler) disarmLocked() {
	for _, l := range s.loops {
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
		l.generation++
		l.kickPending = false
	}
}

// armLocked schedules the next iteration of a loop.
func (s *Scheduler) armLocked(l *loop) {
	if !s.activeLocked() || l.timer != nil || l.inFlight {
		return
	}

	generation := l.generation
	l.timer = time.AfterFunc(l.Interval, func() {
		s.fire(l, generation)
	})
}

// fire is the timer callback.
func (s *Scheduler) fire(l *loop, generation uint64) {
	s.Lock()
	defer s.Unlock()

	if l.generation != generation || !s.activeLocked() {
		return
	}
	l.timer = nil

	s.launchLocked(l)
}

// launchLocked starts an iteration unless one is outstanding.
func (s *Scheduler) launchLocked(l *loop) bool {
	if l.inFlight {
		return false
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
		l.generation++
	}
	l.inFlight = true

	go s.run(s.ctx, l)

	return true
}

// run executes one iteration and re-arms the loop.
func (s *Scheduler) run(ctx context.Context, l *loop) {
	opStart := time.Now()
	err := l.Fn(ctx)
	opDur := time.Since(opStart)

	if err != nil {
		s.logger.Debug("task failed", zap.String("kind", string(l.Kind)), zap.Duration("dur", opDur), zap.Error(err))
	}

	s.Lock()
	defer s.Unlock()

	l.inFlight = false
	if l.kickPending && s.activeLocked() {
		l.kickPending = false
		s.launchLocked(l)
		return
	}
	s.armLocked(l)
}

// NewScheduler creates a new stopped Scheduler object.
func NewScheduler(logger *zap.Logger, tasks ...TaskConfig) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := Scheduler{
		logger: logger.Named("scheduler"),
		kinds:  make(map[TaskKind]*loop, len(tasks)),
	}

	for _, task := range tasks {
		if task.Kind == "" {
			return nil, fmt.Errorf("%s: empty", "kind")
		}
		if task.Interval <= 0 {
			return nil, fmt.Errorf("%s: %s: must be GT 0", task.Kind, "interval")
		}
		if task.Fn == nil {
			return nil, fmt.Errorf("%s: %s: nil", task.Kind, "fn")
		}
		if _, found := s.kinds[task.Kind]; found {
			return nil, fmt.Errorf("%s: duplicated", task.Kind)
		}

		l := &loop{TaskConfig: task}
		s.loops = append(s.loops, l)
		s.kinds[task.Kind] = l
	}

	return &s, nil
}
