// Package metrics tracks gateway-wide request statistics: per-endpoint
// counts, a rolling response-time history, and recent errors. It is a
// pure observability add-on — nothing here feeds back into routing or
// health decisions, which live entirely in internal/pool.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Snapshot is the JSON shape served by Handler.
type Snapshot struct {
	TotalRequests       int64                   `json:"totalRequests"`
	RequestsPerEndpoint map[string]int64        `json:"requestsPerEndpoint"`
	AvgResponseTimeMs   float64                 `json:"avgResponseTimeMs"`
	ResponseTimeHistory []ResponseTimeDataPoint `json:"responseTimeHistory"`
	ErrorRate           float64                 `json:"errorRate"`
	LastErrors          []ErrorEvent            `json:"lastErrors"`
}

// ResponseTimeDataPoint is one point in the rolling latency history.
type ResponseTimeDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	ValueMs   float64   `json:"valueMs"`
}

// ErrorEvent records one failed forward for the recent-errors list.
type ErrorEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EndpointID string    `json:"endpointId"`
	Message    string    `json:"message"`
}

// Manager accumulates request counts, a rolling latency history, and
// recent errors behind a single mutex.
type Manager struct {
	mutex sync.RWMutex

	totalRequests       int64
	requestsPerEndpoint map[string]int64
	responseTimeHistory []ResponseTimeDataPoint
	lastErrors          []ErrorEvent

	maxHistoryPoints int
	maxErrors        int
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		requestsPerEndpoint: make(map[string]int64),
		responseTimeHistory: make([]ResponseTimeDataPoint, 0, 100),
		lastErrors:          make([]ErrorEvent, 0, 10),
		maxHistoryPoints:    100,
		maxErrors:           10,
	}
}

// RecordForward records the outcome of one Pool.Forward call. errMsg is
// empty on success.
func (mm *Manager) RecordForward(endpointID string, latencyMs float64, errMsg string) {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	mm.totalRequests++
	mm.requestsPerEndpoint[endpointID]++

	point := ResponseTimeDataPoint{Timestamp: time.Now(), ValueMs: latencyMs}
	if len(mm.responseTimeHistory) >= mm.maxHistoryPoints {
		mm.responseTimeHistory = append(mm.responseTimeHistory[1:], point)
	} else {
		mm.responseTimeHistory = append(mm.responseTimeHistory, point)
	}

	if errMsg != "" {
		evt := ErrorEvent{Timestamp: time.Now(), EndpointID: endpointID, Message: errMsg}
		if len(mm.lastErrors) >= mm.maxErrors {
			mm.lastErrors = append(mm.lastErrors[1:], evt)
		} else {
			mm.lastErrors = append(mm.lastErrors, evt)
		}
	}
}

// Snapshot returns the current aggregate view.
func (mm *Manager) Snapshot() Snapshot {
	mm.mutex.RLock()
	defer mm.mutex.RUnlock()

	var total float64
	for _, p := range mm.responseTimeHistory {
		total += p.ValueMs
	}
	avg := 0.0
	if len(mm.responseTimeHistory) > 0 {
		avg = total / float64(len(mm.responseTimeHistory))
	}

	errorRate := 0.0
	if mm.maxHistoryPoints > 0 {
		errorRate = float64(len(mm.lastErrors)) / float64(mm.maxHistoryPoints)
	}

	perEndpoint := make(map[string]int64, len(mm.requestsPerEndpoint))
	for k, v := range mm.requestsPerEndpoint {
		perEndpoint[k] = v
	}
	history := make([]ResponseTimeDataPoint, len(mm.responseTimeHistory))
	copy(history, mm.responseTimeHistory)
	errs := make([]ErrorEvent, len(mm.lastErrors))
	copy(errs, mm.lastErrors)

	return Snapshot{
		TotalRequests:       mm.totalRequests,
		RequestsPerEndpoint: perEndpoint,
		AvgResponseTimeMs:   avg,
		ResponseTimeHistory: history,
		ErrorRate:           errorRate,
		LastErrors:          errs,
	}
}

// Handler serves the current Snapshot as JSON.
func (mm *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(mm.Snapshot()); err != nil {
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
		}
	}
}
