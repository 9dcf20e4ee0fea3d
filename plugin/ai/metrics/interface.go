// Package metrics aggregates in-memory request and generation statistics
// for the chat service.
package metrics

import (
	"context"
	"time"
)

// Recorder records chat metrics. Consumed by server/chat.
type Recorder interface {
	// RecordMessage records one processed message of the given type.
	// code is empty on success.
	RecordMessage(ctx context.Context, messageType string, latency time.Duration, success bool, code string)

	// RecordGeneration records one backend call for model.
	RecordGeneration(ctx context.Context, model string, latency time.Duration, success bool)
}

// Snapshot is a point-in-time view of the retained metrics.
type Snapshot struct {
	RequestCount int64            `json:"request_count"`
	SuccessCount int64            `json:"success_count"`
	LatencyP50   time.Duration    `json:"latency_p50"`
	LatencyP95   time.Duration    `json:"latency_p95"`
	MessageStats map[string]*Stat `json:"message_stats"`
	ModelStats   map[string]*Stat `json:"model_stats"`
	ErrorsByCode map[string]int64 `json:"errors_by_code"`
}

// Stat holds statistics for a single message type or model.
type Stat struct {
	Count       int64         `json:"count"`
	SuccessRate float32       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordMessage(context.Context, string, time.Duration, bool, string) {}
func (Nop) RecordGeneration(context.Context, string, time.Duration, bool)      {}
