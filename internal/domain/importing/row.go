package importing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type RowStatus string

const (
	RowPending   RowStatus = "pending"
	RowValidated RowStatus = "validated"
	RowEnriched  RowStatus = "enriched"
	RowSyncing   RowStatus = "syncing"
	RowSynced    RowStatus = "synced"
	RowFailed    RowStatus = "failed"
)

// AllRowStatuses lists row statuses in pipeline order.
var AllRowStatuses = []RowStatus{RowPending, RowValidated, RowEnriched, RowSyncing, RowSynced, RowFailed}

// SyncEligibleStatuses are the statuses picked up by a sync pass. A row found
// in syncing at the start of a pass was left behind by an interrupted run.
var SyncEligibleStatuses = []RowStatus{RowEnriched, RowFailed, RowSyncing}

var rowTransitions = map[RowStatus][]RowStatus{
	RowPending:   {RowValidated, RowFailed},
	RowValidated: {RowEnriched, RowFailed},
	RowEnriched:  {RowSyncing, RowFailed},
	RowSyncing:   {RowSynced, RowFailed, RowSyncing},
	RowFailed:    {RowSyncing},
	RowSynced:    {},
}

func (s RowStatus) Valid() bool {
	_, ok := rowTransitions[s]
	return ok
}

func (s RowStatus) CanTransitionTo(next RowStatus) bool {
	for _, allowed := range rowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RowStatus) TransitionTo(next RowStatus) (RowStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: row %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

type Row struct {
	ID              string
	SessionID       string
	RowIndex        int64
	RawData         map[string]string
	EnrichedData    map[string]string
	Status          RowStatus
	ContactID       string
	CompanyID       string
	TaskID          string
	MatchType       MatchType
	MatchConfidence float64
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Merged returns raw data overlaid with enriched data. Enrichment wins on
// key collisions.
func (r Row) Merged() map[string]string {
	merged := make(map[string]string, len(r.RawData)+len(r.EnrichedData))
	for k, v := range r.RawData {
		merged[k] = v
	}
	for k, v := range r.EnrichedData {
		merged[k] = v
	}
	return merged
}

// Properties maps raw columns to their target fields and overlays enriched
// data. Unmapped columns keep their own name; blank targets drop the column.
func (r Row) Properties(mappings map[string]string) map[string]string {
	props := make(map[string]string, len(r.RawData)+len(r.EnrichedData))
	for column, value := range r.RawData {
		target, mapped := mappings[column]
		if !mapped {
			target = column
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		props[target] = value
	}
	for k, v := range r.EnrichedData {
		props[k] = v
	}
	return props
}

// Columns returns the export header for rows: raw keys sorted, followed by
// enrichment-only keys sorted.
func Columns(rows []Row) []string {
	raw := map[string]struct{}{}
	for _, row := range rows {
		for k := range row.RawData {
			raw[k] = struct{}{}
		}
	}
	extra := map[string]struct{}{}
	for _, row := range rows {
		for k := range row.EnrichedData {
			if _, ok := raw[k]; !ok {
				extra[k] = struct{}{}
			}
		}
	}
	return append(sortedKeys(raw), sortedKeys(extra)...)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RowQuery selects rows of one session by status using keyset pagination on
// RowIndex.
type RowQuery struct {
	SessionID  string
	Statuses   []RowStatus
	AfterIndex int64
	Limit      int
}
