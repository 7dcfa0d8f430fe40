package session

import (
	"strings"
)

// RepairPolicy configures how legacy session records are upgraded to the
// current schema on load.
//
// The marker match is best-effort inference: a topic containing one of the
// markers selects the large-context model and budget instead of the generic
// default. It exists for records written before the model was stored with
// the session and guarantees nothing about the topic's actual size.
type RepairPolicy struct {
	DefaultModel        string
	DefaultContextLines int
	LargeContextModel   string
	LargeContextLines   int
	LargeContextMarkers []string
}

// DefaultRepairPolicy mirrors the deployment the legacy records came from.
func DefaultRepairPolicy() RepairPolicy {
	return RepairPolicy{
		DefaultModel:        "grok-code-fast",
		DefaultContextLines: 180000,
		LargeContextModel:   "grok-4-fast-reasoning",
		LargeContextLines:   1800000,
		LargeContextMarkers: []string{"VSO"},
	}
}

// Fallbacks for pagination fields absent on legacy records.
const (
	repairTurnsPerPage    = 2
	repairMaxTurns        = 5
	repairMaxContextLines = 1000
	repairContextType     = "code"
)

// Repair fills every absent pagination field with a default, in place.
// It is idempotent: repairing a repaired session changes nothing, and a
// record that already has all fields is returned untouched.
func (p RepairPolicy) Repair(s *Session) (changed bool) {
	if s.Pagination == nil {
		s.Pagination = &PaginationConfig{}
		changed = true
	}
	pg := s.Pagination

	if pg.TurnsPerPage <= 0 {
		pg.TurnsPerPage = repairTurnsPerPage
		changed = true
	}
	if pg.MaxTurns <= 0 {
		pg.MaxTurns = repairMaxTurns
		changed = true
	}
	if pg.Paginate == nil {
		enabled := true
		pg.Paginate = &enabled
		changed = true
	}
	if pg.Model == "" {
		pg.Model = p.inferModel(s.Topic)
		changed = true
	}
	if pg.MaxTotalContextLines <= 0 {
		if pg.Model == p.LargeContextModel {
			pg.MaxTotalContextLines = p.LargeContextLines
		} else {
			pg.MaxTotalContextLines = p.DefaultContextLines
		}
		changed = true
	}
	if pg.MaxContextLines <= 0 {
		pg.MaxContextLines = repairMaxContextLines
		changed = true
	}
	if pg.ContextType == "" {
		pg.ContextType = repairContextType
		changed = true
	}

	if s.MaxIterations <= 0 {
		s.MaxIterations = pg.MaxTurns
		changed = true
	}

	return changed
}

// inferModel picks the model default for a record that stored none.
func (p RepairPolicy) inferModel(topic string) string {
	for _, marker := range p.LargeContextMarkers {
		if marker != "" && strings.Contains(topic, marker) {
			return p.LargeContextModel
		}
	}
	return p.DefaultModel
}
