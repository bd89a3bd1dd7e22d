// Package httpapi serves persisted backtest runs over a JSON REST API and
// accepts new runs, alongside the Prometheus scrape endpoint.
package httpapi

import (
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/store"
)

// RunSummaryJSON is the JSON representation of one listed run.
type RunSummaryJSON struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"createdAt"`
	Strategy     string                 `json:"strategy"`
	Symbols      []string               `json:"symbols"`
	FinalCapital float64                `json:"finalCapital"`
	Metrics      domain.BacktestMetrics `json:"metrics"`
	Halted       bool                   `json:"halted,omitempty"`
}

// RunJSON is the full JSON representation of a run.
type RunJSON struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"createdAt"`
	Strategy  string                `json:"strategy"`
	Params    map[string]float64    `json:"params,omitempty"`
	Symbols   []string              `json:"symbols"`
	Result    domain.BacktestResult `json:"result"`
}

// RunRequest is the body of POST /api/runs. Unset fields fall back to the
// server's defaults.
type RunRequest struct {
	Strategy       string             `json:"strategy"`
	Params         map[string]float64 `json:"params,omitempty"`
	Symbols        []string           `json:"symbols"`
	Auxiliary      []string           `json:"auxiliary,omitempty"`
	Start          string             `json:"start"` // YYYY-MM-DD
	End            string             `json:"end"`   // YYYY-MM-DD, inclusive
	InitialCapital float64            `json:"initialCapital,omitempty"`
	NoRisk         bool               `json:"noRisk,omitempty"`
}

func summaryJSON(s store.RunSummary) RunSummaryJSON {
	return RunSummaryJSON{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Strategy:     s.Strategy,
		Symbols:      s.Symbols,
		FinalCapital: s.FinalCapital,
		Metrics:      s.Metrics,
		Halted:       s.Halted,
	}
}

func runJSON(r *store.RunRecord) RunJSON {
	return RunJSON{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Strategy:  r.Strategy,
		Params:    r.Params,
		Symbols:   r.Symbols,
		Result:    r.Result,
	}
}
