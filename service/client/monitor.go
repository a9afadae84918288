package client

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"go.uber.org/zap"
)

// Monitor keeps per request kind Engine stats.
type Monitor struct {
	sync.Mutex
	period time.Duration
	logger *zap.Logger
	kinds  map[string]*kindStats
	stopCh chan struct{}
}

type kindStats struct {
	reqDur   *movingaverage.MovingAverage
	reqSend  int
	failures int
}

// MonitorStats is the current report window of one request kind.
type MonitorStats struct {
	Requests int
	Failures int
	AvgDurMs float64
}

// Observe records one request of a kind.
func (m *Monitor) Observe(kind string, dur time.Duration, err error) {
	m.Lock()
	defer m.Unlock()

	stats, found := m.kinds[kind]
	if !found {
		stats = &kindStats{reqDur: movingaverage.New(3)}
		m.kinds[kind] = stats
	}

	stats.reqSend++
	if err != nil {
		stats.failures++
	}
	stats.reqDur.Add(float64(dur/time.Microsecond) / 1000.0)
}

// Stats returns the current window of a kind.
func (m *Monitor) Stats(kind string) MonitorStats {
	m.Lock()
	defer m.Unlock()

	stats, found := m.kinds[kind]
	if !found {
		return MonitorStats{}
	}

	return MonitorStats{
		Requests: stats.reqSend,
		Failures: stats.failures,
		AvgDurMs: stats.reqDur.Avg(),
	}
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
func (m *Monitor) worker(stopCh chan struct{}) {
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

	periodSec := float64(m.period) / float64(time.Second)
	for kind, stats := range m.kinds {
		if stats.reqSend == 0 {
			continue
		}
		m.logger.Info("requests",
			zap.String("kind", kind),
			zap.Float64("perSec", float64(stats.reqSend)/periodSec),
			zap.Int("failures", stats.failures),
			zap.Float64("avgDurMs", stats.reqDur.Avg()),
		)
		stats.reqSend = 0
		stats.failures = 0
	}
}

// NewMonitor creates a new stopped Monitor object.
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
		kinds:  make(map[string]*kindStats),
	}
}
