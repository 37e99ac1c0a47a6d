package app

import (
	"time"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Delivery outcomes reported to Metrics.Delivered.
const (
	OutcomeSent    = "sent"
	OutcomeEdited  = "edited"
	OutcomeClosed  = "closed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics receives dispatch and sweep observations.
type Metrics interface {
	Delivered(state domain.StreamState, outcome string)
	Forwarded(err error)
	StaleRecordHealed()
	SweepCompleted(deleted int, took time.Duration, err error)
}

type NopMetrics struct{}

func (NopMetrics) Delivered(domain.StreamState, string) {}

func (NopMetrics) Forwarded(error) {}

func (NopMetrics) StaleRecordHealed() {}

func (NopMetrics) SweepCompleted(int, time.Duration, error) {}
