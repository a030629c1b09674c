//go:build property
// +build property

package availability

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// TestAvailableSlotsNeverOverlap adds random windows and checks the slots
// that survive are pairwise disjoint per day.
func TestAvailableSlotsNeverOverlap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("available slots of a day are disjoint", prop.ForAll(
		func(days, starts, lengths []int) bool {
			m, _ := newManager(t)
			ctx := context.Background()
			n := min(len(days), len(starts), len(lengths))
			for i := 0; i < n; i++ {
				start := market.TimeOfDay(starts[i])
				end := start + market.TimeOfDay(lengths[i])
				_, _ = m.AddSlot(ctx, pat, time.Weekday(days[i]), start, end)
			}
			all, err := m.WeeklySchedule(ctx, pat.ID)
			if err != nil {
				return false
			}
			for i := range all {
				for j := i + 1; j < len(all); j++ {
					if all[i].DayOfWeek == all[j].DayOfWeek && all[i].Window().Overlaps(all[j].Window()) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 6)),
		gen.SliceOf(gen.IntRange(0, 22*60)),
		gen.SliceOf(gen.IntRange(1, 120)),
	))

	properties.TestingRun(t)
}
