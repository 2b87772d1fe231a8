package relay

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xff16/relay/internal/metric"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "1xx", StatusClass(101))
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "4xx", StatusClass(499))
	assert.Equal(t, "5xx", StatusClass(526))
	assert.Equal(t, StatusClassError, StatusClass(0))
	assert.Equal(t, StatusClassError, StatusClass(600))
}

func TestHistorySink_KeepsLastEnded(t *testing.T) {
	s := NewHistorySink(3)

	for i := range 5 {
		s.Emit(Event{Type: EventTransactionStarted, Transaction: "ignored"})
		s.Emit(Event{Type: EventTransactionEnded, Transaction: strconv.Itoa(i)})
	}

	all := s.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "2", all[0].Transaction)
	assert.Equal(t, "4", all[2].Transaction)

	last := s.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "4", last[0].Transaction)

	assert.Len(t, s.Recent(10), 3)
}

func TestHistorySink_DefaultSize(t *testing.T) {
	s := NewHistorySink(0)

	for range 150 {
		s.Emit(Event{Type: EventTransactionEnded})
	}

	assert.Len(t, s.Recent(0), 100)
}

type countingMetrics struct {
	metric.Metrics

	mu        sync.Mutex
	responses map[int]int
	latencies []time.Duration
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{Metrics: metric.NewNop(), responses: make(map[int]int)}
}

func (m *countingMetrics) IncResponsesTotal(_ string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[status]++
}

func (m *countingMetrics) UpdateUpstreamLatency(_ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, d)
}

func TestMultiSink_FansOut(t *testing.T) {
	m := newCountingMetrics()
	history := NewHistorySink(10)

	sink := MultiSink{NopSink{}, NewMetricsSink(m), history}

	sink.Emit(Event{Type: EventTransactionStarted})
	sink.Emit(Event{Type: EventTransactionMessage, Direction: DirectionRequest})
	sink.Emit(Event{Type: EventTransactionMessage, Direction: DirectionResponse, Elapsed: 5 * time.Millisecond})
	sink.Emit(Event{Type: EventTransactionEnded, StatusCode: 200})

	assert.Equal(t, map[int]int{200: 1}, m.responses)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, m.latencies)
	assert.Len(t, history.Recent(0), 1)
}
