// Package oncall resolves who is responsible for an on-call schedule
// at a point in time. Resolution is a pure function of (schedule,
// timestamp): no cached "current" pointer exists, so the responder for
// any past escalation can be recomputed exactly for audit or replay.
package oncall

import (
	"fmt"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
)

// ResolveAt returns the member(s) on call at ts. The current member is
// members[elapsedPeriods mod len(members)] where elapsedPeriods floors
// toward negative infinity, so timestamps before the anchor still
// resolve deterministically. When the schedule has a hand-off overlap
// and ts falls within it, the outgoing member is included too.
func ResolveAt(schedule *models.OnCallSchedule, ts time.Time) ([]string, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("resolve on-call: %w", err)
	}

	periods := elapsedPeriods(ts.Sub(schedule.Anchor), schedule.RotationPeriod)
	current := schedule.Members[memberIndex(periods, len(schedule.Members))]

	members := []string{current}

	if schedule.HandoffOverlap > 0 {
		periodStart := schedule.Anchor.Add(time.Duration(periods) * schedule.RotationPeriod)
		if ts.Sub(periodStart) < schedule.HandoffOverlap {
			previous := schedule.Members[memberIndex(periods-1, len(schedule.Members))]
			if previous != current {
				members = append(members, previous)
			}
		}
	}

	return members, nil
}

// elapsedPeriods divides elapsed by period flooring toward negative
// infinity, in integer arithmetic to stay exact for large durations.
func elapsedPeriods(elapsed, period time.Duration) int64 {
	periods := int64(elapsed / period)
	if elapsed%period != 0 && elapsed < 0 {
		periods--
	}
	return periods
}

// memberIndex maps a (possibly negative) period count onto a valid
// member slot.
func memberIndex(periods int64, n int) int {
	idx := int(periods % int64(n))
	if idx < 0 {
		idx += n
	}
	return idx
}
