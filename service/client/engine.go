package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/clock"
	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/service/scheduler"
	"github.com/itiky/drop-engine/storage"
	"github.com/itiky/drop-engine/toggle"
)

type (
	// API is the part of the action endpoint the Engine calls.
	API interface {
		State(ctx context.Context, req model.StateRequest) (*model.StateResponse, error)
		Online(ctx context.Context, auth model.Auth) (*model.OnlineStats, error)
		Claim(ctx context.Context, req model.ClaimRequest) (*model.ClaimResponse, error)
		Inventory(ctx context.Context, auth model.Auth) (*model.Inventory, error)
		BankState(ctx context.Context) (*model.BankState, error)
		BankDeposit(ctx context.Context, req model.BankDepositRequest) (*model.BankDepositResponse, error)
		ChestOpen(ctx context.Context, req model.ChestOpenRequest) (*model.ChestOpenResponse, error)
		PurchaseRequest(ctx context.Context, req model.PurchaseRequestRequest) (*model.ActionResponse, error)
	}

	// Config holds the Engine timings and economy settings.
	Config struct {
		StatePeriod    time.Duration
		OnlinePeriod   time.Duration
		RenderPeriod   time.Duration
		MonitorPeriod  time.Duration
		DefaultEnabled bool
		ChestItemId    model.ItemId
		ChestPrice     float64
	}

	// Deps are the host-supplied collaborators.
	Deps struct {
		API      API
		Toggle   toggle.Store
		Identity access.IdentityProvider
		Policy   access.Policy
	}

	// Option configures an Engine.
	Option func(e *Engine)
)

// WithLogger sets the Engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBus shares an existing notification bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// WithLocalClock replaces the local clock (tests).
func WithLocalClock(nowFn func() time.Time) Option {
	return func(e *Engine) {
		if nowFn != nil {
			e.clock = clock.NewSync(nowFn)
		}
	}
}

// Engine is one browsing context: it owns the EngineSession and drives polling, the drop registry and claims.
type Engine struct {
	mu sync.Mutex
	// Config
	id  string
	cfg Config
	// Collaborators
	api       API
	store     toggle.Store
	identity  access.IdentityProvider
	policy    access.Policy
	bus       *events.Bus
	clock     *clock.Sync
	registry  *storage.Registry
	scheduler *scheduler.Scheduler
	monitor   *Monitor
	logger    *zap.Logger
	// State
	session     model.EngineSession
	page        model.Page
	viewer      access.Identity
	inventory   *model.Inventory
	bank        *model.BankState
	online      *model.OnlineStats
	initialized bool
	disposed    bool
	unwatch     func()
}

// String implements the stringer interface.
func (e *Engine) String() string {
	return fmt.Sprintf("Engine (%s)", e.id)
}

// Bus returns the notification bus consumers subscribe to.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Monitor returns the request monitor.
func (e *Engine) Monitor() *Monitor {
	return e.monitor
}

// Init evaluates the viewer, reads the enabled flag and subscribes to its changes.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}

	e.evaluateIdentityLocked()

	enabled := e.cfg.DefaultEnabled
	value, found, err := e.store.Get(ctx)
	if err != nil {
		e.logger.Warn("toggle read failed, using default", zap.Bool("default", enabled), zap.Error(err))
	} else {
		enabled = toggle.Resolve(value, found, e.cfg.DefaultEnabled)
	}
	e.session.DesiredEnabled = enabled
	e.mu.Unlock()

	unwatch, err := e.store.Watch(e.onFlagChanged)
	if err != nil {
		return fmt.Errorf("toggle watch: %w", err)
	}

	e.mu.Lock()
	e.unwatch = unwatch
	e.initialized = true
	out := e.applyLocked()
	e.logger.Info("initialized",
		zap.Int64("userId", int64(e.session.Auth.UserId)),
		zap.Bool("eligible", e.session.Auth.Eligible),
		zap.Bool("enabled", e.session.DesiredEnabled),
	)
	e.mu.Unlock()

	e.publish(out)

	return nil
}

// Start attaches the engine to a page (page enters scope).
func (e *Engine) Start(page model.Page) error {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}

	e.page = page
	e.evaluateIdentityLocked()
	e.session.PageInScope = e.policy.InScope(page)
	out := e.applyLocked()
	e.mu.Unlock()

	e.publish(out)

	return nil
}

// Stop detaches the engine from the page (page leaves scope).
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.usableLocked() != nil {
		e.mu.Unlock()
		return
	}

	e.session.PageInScope = false
	out := e.applyLocked()
	e.mu.Unlock()

	e.publish(out)
}

// Dispose stops everything and releases the toggle subscription. The Engine can not be reused.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	e.session.PageInScope = false
	out := e.applyLocked()
	e.disposed = true
	unwatch := e.unwatch
	e.unwatch = nil
	e.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	e.scheduler.Stop()
	e.monitor.Stop()

	e.logger.Info("disposed")
	e.publish(out)
}

// SetVisible pauses (hidden) or resumes (visible) polling.
func (e *Engine) SetVisible(visible bool) {
	e.mu.Lock()
	if e.disposed || e.session.PausedByVisibility == !visible {
		e.mu.Unlock()
		return
	}

	e.session.PausedByVisibility = !visible
	if e.session.Running {
		if visible {
			e.scheduler.Resume()
		} else {
			e.scheduler.Pause()
		}
	}
	out := pending{}
	out.add(events.TopicSession, e.session)
	e.mu.Unlock()

	e.publish(out)
}

// SetEnabled writes the enabled flag (propagated to the other contexts) and applies it locally.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if err := e.store.Set(ctx, enabled); err != nil {
		return WrapError("setEnabled", "toggle", err)
	}

	e.onFlagChanged(enabled)

	return nil
}

// onFlagChanged is the toggle watcher: recompute Running and start / stop polling.
func (e *Engine) onFlagChanged(enabled bool) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	e.session.DesiredEnabled = enabled
	out := e.applyLocked()
	e.mu.Unlock()

	e.logger.Debug("enabled flag changed", zap.Bool("enabled", enabled))
	e.publish(out)
}

// Session returns a copy of the EngineSession.
func (e *Engine) Session() model.EngineSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.session
}

// Drops returns the current countdown view.
func (e *Engine) Drops() model.DropList {
	return e.registry.Export(e.clock.Now())
}

// Inventory returns a copy of the viewer inventory snapshot (nil if never fetched).
func (e *Engine) Inventory() *model.Inventory {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.inventory.Clone()
}

// Bank returns a copy of the bank snapshot (nil if never fetched).
func (e *Engine) Bank() *model.BankState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.bank.Clone()
}

// Online returns a copy of the presence snapshot (nil if never fetched).
func (e *Engine) Online() *model.OnlineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.online.Clone()
}

// Viewer returns the identity evaluated on the last Init / Start.
func (e *Engine) Viewer() access.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.viewer
}

// ReplaceSnapshots stores authoritative inventory / bank snapshots received outside the Engine
// (admin operations) and publishes them. Nil values are ignored.
func (e *Engine) ReplaceSnapshots(inventory *model.Inventory, bank *model.BankState) {
	e.mu.Lock()
	out := pending{}
	e.replaceLocked(&out, inventory, bank)
	e.mu.Unlock()

	e.publish(out)
}

// Notify publishes a user-visible notice.
func (e *Engine) Notify(level model.NoticeLevel, message string) {
	e.bus.Publish(events.TopicNotice, model.Notice{Level: level, Message: message})
}

// usableLocked checks the lifecycle state.
func (e *Engine) usableLocked() error {
	if e.disposed {
		return ErrDisposed
	}
	if !e.initialized {
		return ErrNotInitialized
	}

	return nil
}

// evaluateIdentityLocked runs the AccessGate against the host identity.
func (e *Engine) evaluateIdentityLocked() {
	e.viewer = e.identity.Identity()
	decision := e.policy.Evaluate(e.viewer)

	e.session.Auth = model.SessionAuth{
		UserId:   e.viewer.UserId,
		GroupId:  e.viewer.GroupId,
		Eligible: decision.Eligible,
		Admin:    decision.Admin,
	}
}

// applyLocked recomputes Running and starts / stops the scheduler on transitions.
func (e *Engine) applyLocked() pending {
	out := pending{}

	wasRunning := e.session.Running
	e.session.Recompute()
	if e.disposed {
		e.session.Running = false
	}

	switch {
	case e.session.Running && !wasRunning:
		e.logger.Info("running", zap.Int64("forumId", int64(e.page.ForumId)))
		if e.session.PausedByVisibility {
			e.scheduler.StartPaused()
		} else {
			e.scheduler.Start()
		}
		e.monitor.Start()
	case !e.session.Running && wasRunning:
		e.logger.Info("stopped")
		e.scheduler.Stop()
		e.monitor.Stop()
		if changes := e.registry.Clear(e.clock.Now()); len(changes) > 0 {
			out.add(events.TopicDrops, events.DropsChanged{Changes: changes})
		}
	}
	out.add(events.TopicSession, e.session)

	return out
}

// replaceLocked swaps snapshots wholesale.
func (e *Engine) replaceLocked(out *pending, inventory *model.Inventory, bank *model.BankState) {
	if inventory != nil {
		e.inventory = inventory.Clone()
		out.add(events.TopicInventory, inventory.Clone())
	}
	if bank != nil {
		e.bank = bank.Clone()
		out.add(events.TopicBank, bank.Clone())
	}
}

func (e *Engine) auth() model.Auth {
	return model.Auth{UserId: e.session.Auth.UserId, GroupId: e.session.Auth.GroupId}
}

// pending collects notifications to publish once the engine lock is released.
type pending []events.Event

func (p *pending) add(topic events.Topic, data interface{}) {
	*p = append(*p, events.Event{Topic: topic, Data: data})
}

func (p *pending) notice(level model.NoticeLevel, format string, args ...interface{}) {
	p.add(events.TopicNotice, model.Notice{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (e *Engine) publish(out pending) {
	for _, event := range out {
		e.bus.Publish(event.Topic, event.Data)
	}
}

// New creates a new Engine object.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("%s: nil", "api")
	}
	if deps.Toggle == nil {
		return nil, fmt.Errorf("%s: nil", "toggle")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("%s: nil", "identity")
	}
	if cfg.ChestPrice < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "chestPrice")
	}

	e := &Engine{
		id:       uuid.NewString(),
		cfg:      cfg,
		api:      deps.API,
		store:    deps.Toggle,
		identity: deps.Identity,
		policy:   deps.Policy,
		bus:      events.NewBus(),
		clock:    clock.NewSync(nil),
		registry: storage.NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine").With(zap.String("engineId", e.id))
	e.monitor = NewMonitor(cfg.MonitorPeriod, e.logger)

	sched, err := scheduler.NewScheduler(e.logger,
		scheduler.TaskConfig{Kind: scheduler.TaskState, Interval: cfg.StatePeriod, Fn: e.pollState, Immediate: true},
		scheduler.TaskConfig{Kind: scheduler.TaskOnline, Interval: cfg.OnlinePeriod, Fn: e.pollOnline, Immediate: true},
		scheduler.TaskConfig{Kind: scheduler.TaskRender, Interval: cfg.RenderPeriod, Fn: e.renderTick},
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	e.scheduler = sched

	return e, nil
}
