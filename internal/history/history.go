// Package history records every route resolution for the admin statistics
// endpoint.
package history

import (
	"context"
	"time"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
)

// Entry is one finished route resolution.
type Entry struct {
	RequestID   string
	SessionID   string
	Start       *geo.Point
	End         *geo.Point
	Profile     string
	Method      string
	Success     bool
	IsDirect    bool
	Cached      bool
	DistanceKm  float64
	DurationSec float64
	Attempts    []string
	Error       string
	Elapsed     time.Duration
}

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Stats aggregates the entries recorded since a point in time.
type Stats struct {
	Since        time.Time        `json:"since"`
	Total        int64            `json:"total" db:"total"`
	Successful   int64            `json:"successful" db:"successful"`
	Direct       int64            `json:"direct" db:"direct"`
	Cached       int64            `json:"cached" db:"cached"`
	AvgElapsedMs float64          `json:"avg_elapsed_ms" db:"avg_elapsed_ms"`
	ByMethod     map[string]int64 `json:"by_method"`
}

// NewEntry builds an Entry from a request and the result it produced.
func NewEntry(sessionID string, req routing.RouteRequest, res *routing.RouteResult, elapsed time.Duration) Entry {
	e := Entry{
		SessionID: sessionID,
		Start:     req.Start,
		End:       req.End,
		Profile:   string(req.Options.Profile),
		Elapsed:   elapsed,
	}
	if e.Profile == "" {
		e.Profile = string(routing.ProfileDriving)
	}
	if res == nil {
		return e
	}
	e.RequestID = res.RequestID
	e.Method = string(res.Method)
	e.Success = res.Success
	e.IsDirect = res.IsDirect
	e.Cached = res.Cached
	e.DistanceKm = res.DistanceKm
	e.DurationSec = res.DurationSec
	e.Attempts = res.Attempts
	e.Error = res.Error
	return e
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) error { return nil }
