// Package sla derives a ticket's time-in-area compliance status.
package sla

import (
	"time"

	"github.com/tallerflow/ticket-service/internal/domain"
)

// Status is the traffic-light classification of a ticket's dwell time.
type Status string

const (
	StatusOK            Status = "ok"
	StatusWarning       Status = "warning"
	StatusDanger        Status = "danger"
	StatusNotApplicable Status = "na"
)

// WarningThreshold is the fraction of the limit past which a ticket is in
// warning.
const WarningThreshold = 0.8

// Result is valid only for the instant it was computed at. Remaining is
// negative once a ticket is overdue.
type Result struct {
	Status    Status        `json:"status"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Limit     time.Duration `json:"limit"`
}

// Calculate reports the SLA status of ticket at now.
func Calculate(ticket domain.Ticket, table domain.SLATable, now time.Time) Result {
	limit, ok := table[ticket.CurrentArea]
	if !ok || limit <= 0 {
		return Result{Status: StatusNotApplicable}
	}

	elapsed := now.Sub(ticket.SLAClockStart())
	result := Result{
		Status:    StatusOK,
		Elapsed:   elapsed,
		Remaining: limit - elapsed,
		Limit:     limit,
	}
	switch {
	case elapsed > limit:
		result.Status = StatusDanger
	case float64(elapsed)/float64(limit) > WarningThreshold:
		result.Status = StatusWarning
	}
	return result
}
