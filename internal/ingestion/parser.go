package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

// DelayReport is a validated oracle observation of a flight's departure
// delay. ReportID is the dedup key; Flight plus ScheduledTime identify the
// covered event.
type DelayReport struct {
	ReportID      uuid.UUID
	Flight        string
	ScheduledTime time.Time
	DelayHours    uint64
	ReportedAt    time.Time
}

// Wire format published by oracle adapters. Field names use snake_case to
// match upstream producers; timestamps are Unix seconds.
type delayReportJSON struct {
	ReportID      string `json:"report_id"`
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
	DelayHours    uint64 `json:"delay_hours"`
	ReportedUnix  int64  `json:"reported_at_unix"`
}

// ParseDelayReport validates and converts raw oracle bytes into a
// DelayReport. Malformed reports fail with ErrInvalidInput so the caller can
// terminate redelivery instead of retrying a report that will never parse.
func ParseDelayReport(data []byte) (DelayReport, error) {
	var j delayReportJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return DelayReport{}, fmt.Errorf("parse delay report: %v: %w", err, ledger.ErrInvalidInput)
	}

	reportID, err := uuid.Parse(j.ReportID)
	if err != nil {
		return DelayReport{}, fmt.Errorf("parse report_id %q: %v: %w", j.ReportID, err, ledger.ErrInvalidInput)
	}
	if j.Flight == "" {
		return DelayReport{}, fmt.Errorf("delay report %s: empty flight: %w", reportID, ledger.ErrInvalidInput)
	}
	if j.ScheduledUnix <= 0 {
		return DelayReport{}, fmt.Errorf("delay report %s: non-positive scheduled time %d: %w",
			reportID, j.ScheduledUnix, ledger.ErrInvalidInput)
	}

	return DelayReport{
		ReportID:      reportID,
		Flight:        j.Flight,
		ScheduledTime: time.Unix(j.ScheduledUnix, 0).UTC(),
		DelayHours:    j.DelayHours,
		ReportedAt:    time.Unix(j.ReportedUnix, 0).UTC(),
	}, nil
}
