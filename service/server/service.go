package server

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
)

type (
	// Config is the DropService configuration.
	Config struct {
		// Endpoint path serving every action
		Path string
		// Drop spawn period
		SpawnPeriod time.Duration
		// Spawned drop lifetime
		DropTTL        time.Duration
		AllowedOrigins []string
		Policy         access.Policy
		MonitorPeriod  time.Duration
	}

	// Option configures a DropService.
	Option func(s *DropService)
)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *DropService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the server clock.
func WithClock(nowFn func() time.Time) Option {
	return func(s *DropService) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

// WithRand sets the random source used for spawns and chest rewards.
func WithRand(rnd *rand.Rand) Option {
	return func(s *DropService) {
		s.rnd = rnd
	}
}

// DropService implements the sandbox action endpoint.
type DropService struct {
	// Config
	cfg    Config
	policy access.Policy
	nowFn  func() time.Time
	rnd    *rand.Rand
	// State
	state    *State
	handlers map[model.Action]action
	monitor  *Monitor
	logger   *zap.Logger
	//
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// State returns the in-memory economy (fixtures and inspection).
func (s *DropService) State() *State {
	return s.state
}

// Monitor returns the service monitor.
func (s *DropService) Monitor() *Monitor {
	return s.monitor
}

// Handler builds the HTTP handler with the middleware stack.
func (s *DropService) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recovery(s.logger))
	r.Use(middleware.RequestID)
	r.Use(logging(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get(s.cfg.Path, s.serveAction)
	r.Post(s.cfg.Path, s.serveAction)

	return r
}

// SpawnDrop spawns one drop now.
func (s *DropService) SpawnDrop() (model.Drop, bool) {
	drop, ok := s.state.SpawnDrop(s.nowFn(), s.cfg.DropTTL)
	if ok {
		s.monitor.DropsSpawned(1)
		s.logger.Debug("drop spawned", zap.String("dropId", string(drop.Id)), zap.String("title", drop.Title))
	}

	return drop, ok
}

// Start starts the service worker.
func (s *DropService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	s.monitor.Start()
	s.wg.Add(1)
	go s.worker(s.stopCh)
}

// Stop stops the service worker.
func (s *DropService) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.monitor.Stop()
}

// worker spawns new drops and expires old ones.
func (s *DropService) worker(stopCh <-chan struct{}) {
	defer s.wg.Done()

	s.logger.Info("start", zap.Duration("spawnPeriod", s.cfg.SpawnPeriod), zap.Duration("dropTTL", s.cfg.DropTTL))

	ticker := time.NewTicker(s.cfg.SpawnPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Service stop
			s.logger.Info("stop")
			return
		case <-ticker.C:
			// Expire, then spawn
			if expired := s.state.ExpireDrops(s.nowFn()); expired > 0 {
				s.monitor.DropsExpired(expired)
			}
			s.SpawnDrop()
		}
	}
}

// NewDropService creates a new DropService object.
func NewDropService(cfg Config, catalog Catalog, opts ...Option) (*DropService, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s: empty", "path")
	}
	if cfg.SpawnPeriod <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "spawnPeriod")
	}
	if cfg.DropTTL <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "dropTTL")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &DropService{
		cfg:    cfg,
		policy: cfg.Policy,
		nowFn:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")

	state, err := NewState(catalog, s.rnd)
	if err != nil {
		return nil, err
	}
	s.state = state
	s.handlers = s.actions()
	s.monitor = NewMonitor(cfg.MonitorPeriod, s.logger)

	return s, nil
}
