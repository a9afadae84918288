package server

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"go.uber.org/zap"
)

// Monitor keeps DropService stats.
type Monitor struct {
	sync.Mutex
	period       time.Duration
	logger       *zap.Logger
	dropsSpawned int
	dropsExpired int
	claimsWon    int
	served       map[string]int
	reqDur       *movingaverage.MovingAverage
	stopCh       chan struct{}
}

// ActionServed updates the action handling metrics.
func (m *Monitor) ActionServed(action string, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.reqDur.Add(float64(dur/time.Microsecond) / 1000.0)
	m.served[action]++
}

// DropsSpawned increments the spawned drops metric.
func (m *Monitor) DropsSpawned(count int) {
	m.Lock()
	defer m.Unlock()

	m.dropsSpawned += count
}

// DropsExpired increments the expired drops metric.
func (m *Monitor) DropsExpired(count int) {
	m.Lock()
	defer m.Unlock()

	m.dropsExpired += count
}

// ClaimWon increments the won claims metric.
func (m *Monitor) ClaimWon() {
	m.Lock()
	defer m.Unlock()

	m.claimsWon++
}

// Served returns the number of served requests for action since the last report.
func (m *Monitor) Served(action string) int {
	m.Lock()
	defer m.Unlock()

	return m.served[action]
}

// Start starts the Monitor worker.
func (m *Monitor) Start() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	go m.worker(m.stopCh)
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	m.stopCh = nil
}

// worker does the actual job.
func (m *Monitor) worker(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-ticker.C:
			// Print the report
			m.report()
		}
	}
}

func (m *Monitor) report() {
	m.Lock()
	defer m.Unlock()

	secs := float64(m.period) / float64(time.Second)
	total := 0
	for _, cnt := range m.served {
		total += cnt
	}

	m.logger.Info("report",
		zap.Float64("requestsPerSec", float64(total)/secs),
		zap.Float64("requestDurMs", m.reqDur.Avg()),
		zap.Int("dropsSpawned", m.dropsSpawned),
		zap.Int("dropsExpired", m.dropsExpired),
		zap.Int("claimsWon", m.claimsWon),
	)

	m.dropsSpawned, m.dropsExpired, m.claimsWon = 0, 0, 0
	m.served = make(map[string]int)
}

// NewMonitor creates a new Monitor object.
func NewMonitor(period time.Duration, logger *zap.Logger) *Monitor {
	if period <= 0 {
		period = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		period: period,
		logger: logger.Named("monitor"),
		served: make(map[string]int),
		reqDur: movingaverage.New(5),
	}
}
