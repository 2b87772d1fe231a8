package relay

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xff16/relay/internal/metric"
)

type EventType string

const (
	EventTransactionStarted EventType = "transaction.started"
	EventTransactionMessage EventType = "transaction.message"
	EventTransactionEnded   EventType = "transaction.ended"
)

// StatusClassError marks a transaction that produced no upstream response.
const StatusClassError = "ERR"

// Direction tells the two transaction.message events of a transaction apart.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Event describes one step of a proxied transaction.
type Event struct {
	Type        EventType     `json:"type"`
	Transaction string        `json:"transaction"`
	Proxy       string        `json:"proxy"`
	Endpoint    string        `json:"endpoint,omitempty"`
	Direction   Direction     `json:"direction,omitempty"`
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	StatusCode  int           `json:"status_code,omitempty"`
	StatusClass string        `json:"status_class,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// StatusClass returns the coarse class of an HTTP status, "2xx" through "5xx".
// Anything outside 100..599 is reported as ERR.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return StatusClassError
	}

	return strconv.Itoa(status/100) + "xx"
}

// EventSink receives transaction events. Emit must not block the request path.
type EventSink interface {
	Emit(Event)
}

type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev Event) {
	s.log.Debug(string(ev.Type),
		zap.String("transaction", ev.Transaction),
		zap.String("proxy", ev.Proxy),
		zap.String("endpoint", ev.Endpoint),
		zap.String("direction", string(ev.Direction)),
		zap.String("method", ev.Method),
		zap.String("path", ev.Path),
		zap.Int("status", ev.StatusCode),
		zap.String("status_class", ev.StatusClass),
		zap.Duration("elapsed", ev.Elapsed),
		zap.String("error", ev.Error),
	)
}

// MetricsSink records response counts and upstream latency from ended transactions.
type MetricsSink struct {
	metrics metric.Metrics
}

func NewMetricsSink(m metric.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Emit(ev Event) {
	switch ev.Type {
	case EventTransactionEnded:
		s.metrics.IncResponsesTotal(ev.Proxy, ev.StatusCode)
	case EventTransactionMessage:
		if ev.Direction == DirectionResponse {
			s.metrics.UpdateUpstreamLatency(ev.Proxy, ev.Elapsed)
		}
	case EventTransactionStarted:
	}
}

// MultiSink fans every event out to its sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// HistorySink keeps the most recent ended transactions in memory.
type HistorySink struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

func NewHistorySink(maxEvents int) *HistorySink {
	if maxEvents <= 0 {
		maxEvents = 100
	}

	return &HistorySink{
		events: make([]Event, 0, maxEvents),
		max:    maxEvents,
	}
}

func (s *HistorySink) Emit(ev Event) {
	if ev.Type != EventTransactionEnded {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.max {
		copy(s.events, s.events[1:])
		s.events[len(s.events)-1] = ev

		return
	}

	s.events = append(s.events, ev)
}

// Recent returns up to limit ended transactions, oldest first. A limit <= 0 returns all of them.
func (s *HistorySink) Recent(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}

	out := make([]Event, limit)
	copy(out, s.events[len(s.events)-limit:])

	return out
}
