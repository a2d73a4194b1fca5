// Package health probes a running jarvis gateway and classifies the result.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

// Probe outcomes. Unknown is only ever the pre-first-probe state.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe timing bounds. Aggressive callers get clamped; a sub-second timeout
// or sub-2s interval just burns CPU on a local process.
const (
	DefaultInterval = 5 * time.Second
	MinInterval     = 2 * time.Second
	DefaultTimeout  = 2500 * time.Millisecond
	MinTimeout      = time.Second
)

const maxDetailBytes = 64 * 1024

// Report is the outcome of one health probe.
type Report struct {
	Status    string         `json:"status"`
	CheckedAt time.Time      `json:"checked_at"`
	LatencyMs int64          `json:"latency_ms"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Poller periodically probes one gateway's /health endpoint and hands each
// report to a callback. Probes never overlap: the next tick is only consumed
// after the previous probe returns.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	onReport func(Report)
	log      *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu   sync.Mutex
	last Report
}

// New creates a poller for the gateway at baseURL. Interval and timeout are
// clamped to their floors; zero values take the defaults. onReport runs on
// the poller goroutine and must not block.
func New(baseURL string, interval, timeout time.Duration, onReport func(Report), log *logger.Logger) *Poller {
	return &Poller{
		url:      strings.TrimRight(baseURL, "/") + "/health",
		interval: clampInterval(interval),
		client:   &http.Client{Timeout: clampTimeout(timeout)},
		onReport: onReport,
		log:      log.WithFields(zap.String("component", "health_poller")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		last:     Report{Status: StatusUnknown},
	}
}

// Start launches the poll loop: one immediate probe, then one per interval.
func (p *Poller) Start() {
	go p.run()
}

// Stop ends the poll loop. Safe to call more than once, and safe to call
// from inside the report callback.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Last returns the most recent report.
func (p *Poller) Last() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) run() {
	defer close(p.done)

	p.probe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Poller) probe() {
	start := time.Now()
	report := Report{CheckedAt: start.UTC()}

	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		report.Status = StatusUnhealthy
		report.Error = err.Error()
		p.deliver(report)
		return
	}

	resp, err := p.client.Do(req)
	report.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		// The process is not answering at all.
		report.Status = StatusUnhealthy
		report.Error = err.Error()
		p.deliver(report)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Listening but refusing: degraded, not dead.
		report.Status = StatusDegraded
		report.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		p.deliver(report)
		return
	}

	report.Status = StatusHealthy
	var detail map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDetailBytes)).Decode(&detail); err == nil {
		report.Detail = detail
	}
	p.deliver(report)
}

func (p *Poller) deliver(report Report) {
	p.mu.Lock()
	p.last = report
	p.mu.Unlock()

	select {
	case <-p.stopCh:
		return
	default:
	}

	p.log.Debug("Health probe",
		zap.String("status", report.Status),
		zap.Int64("latency_ms", report.LatencyMs),
		zap.String("error", report.Error))

	if p.onReport != nil {
		p.onReport(report)
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return d
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}
