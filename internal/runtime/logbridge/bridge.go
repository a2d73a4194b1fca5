// Package logbridge turns raw runtime process output into classified events.
// Child processes interleave plain text and structured JSON lines on stdout
// and stderr; the bridge reassembles lines across read boundaries, appends
// them to the deployment's log file, and forwards classified events.
package logbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/stringutil"
)

// Severity levels assigned to events.
const (
	SeverityDebug   = "debug"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

const logTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// maxEventMessageLen caps event messages before they reach the store and the
// websocket fan-out. The log file keeps the full line.
const maxEventMessageLen = 4096

// Event is one classified line of runtime output.
type Event struct {
	DeploymentID string         `json:"deployment_id"`
	EventType    string         `json:"event_type"`
	Severity     string         `json:"severity"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Bridge collects one deployment's process output. Chunks arriving on the
// same stream are buffered until a newline completes the line; stdout and
// stderr carry separate buffers so their fragments never interleave.
type Bridge struct {
	deploymentID string
	onEvent      func(Event)
	log          *logger.Logger

	mu     sync.Mutex
	file   *os.File
	carry  map[string][]byte
	closed bool
}

// New opens (or creates) the deployment log file at logPath and returns a
// bridge forwarding classified events to onEvent.
func New(deploymentID, logPath string, onEvent func(Event), log *logger.Logger) (*Bridge, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Bridge{
		deploymentID: deploymentID,
		onEvent:      onEvent,
		log:          log.WithFields(zap.String("component", "logbridge"), zap.String("deployment_id", deploymentID)),
		file:         file,
		carry:        make(map[string][]byte),
	}, nil
}

// Ingest feeds a chunk of raw output from one stream. Complete lines are
// processed immediately; a trailing partial line waits for the next chunk.
func (b *Bridge) Ingest(stream string, data []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	buf := append(b.carry[stream], data...)
	var events []Event
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		buf = buf[idx+1:]
		if ev, ok := b.processLine(stream, line); ok {
			events = append(events, ev)
		}
	}
	b.carry[stream] = buf
	b.mu.Unlock()

	b.deliver(events)
}

// Pump reads r until EOF, feeding every chunk into Ingest. The supervisor
// runs one Pump goroutine per pipe.
func (b *Bridge) Pump(stream string, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.Ingest(stream, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Close flushes any buffered partial lines as final events and closes the
// log file. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var events []Event
	for stream, buf := range b.carry {
		if len(bytes.TrimSpace(buf)) == 0 {
			continue
		}
		if ev, ok := b.processLine(stream, string(buf)); ok {
			events = append(events, ev)
		}
	}
	b.carry = make(map[string][]byte)
	err := b.file.Close()
	b.mu.Unlock()

	b.deliver(events)
	return err
}

// processLine classifies one complete line and appends it to the log file.
// Called with the bridge lock held.
func (b *Bridge) processLine(stream, line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}

	now := time.Now().UTC()
	if _, err := fmt.Fprintf(b.file, "[%s] %s: %s\n", now.Format(logTimeLayout), stream, line); err != nil {
		b.log.Warn("Failed to append to deployment log", zap.Error(err))
	}

	ev := Event{
		DeploymentID: b.deploymentID,
		EventType:    stream,
		Severity:     defaultSeverity(stream),
		Message:      line,
		OccurredAt:   now,
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
			b.classifyJSON(&ev, obj)
		}
	}
	ev.Message = stringutil.TruncateStringWithEllipsis(ev.Message, maxEventMessageLen)
	return ev, true
}

// classifyJSON maps a structured log object onto the event. Runtime builds
// disagree on field names, so both the tracing-style (message/target/level)
// and app-style (msg/event) spellings are accepted.
func (b *Bridge) classifyJSON(ev *Event, obj map[string]any) {
	ev.Payload = obj

	if s := stringField(obj, "message"); s != "" {
		ev.Message = s
	} else if s := stringField(obj, "msg"); s != "" {
		ev.Message = s
	}

	if s := stringField(obj, "event"); s != "" {
		ev.EventType = s
	} else if s := stringField(obj, "target"); s != "" {
		ev.EventType = s
	}

	if s := stringField(obj, "level"); s != "" {
		ev.Severity = normalizeSeverity(s)
	}
}

func (b *Bridge) deliver(events []Event) {
	if b.onEvent == nil {
		return
	}
	for _, ev := range events {
		b.onEvent(ev)
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func defaultSeverity(stream string) string {
	if stream == "stderr" {
		return SeverityError
	}
	return SeverityInfo
}

func normalizeSeverity(level string) string {
	switch stringutil.NormalizeToken(level) {
	case "trace", "debug":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "warn", "warning":
		return SeverityWarning
	case "error", "fatal", "panic":
		return SeverityError
	default:
		return stringutil.NormalizeToken(level)
	}
}
