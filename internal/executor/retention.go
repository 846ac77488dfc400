package executor

import (
	"sort"
	"time"

	"github.com/edvin/backhaul/internal/model"
)

// ComputeDeletions returns the paths of versions the policy no longer
// retains. Versions are considered newest-first by CreatedTime; ties break
// arbitrarily since adapters give no stable secondary order.
//
// Hybrid policies keep a version if it is within the newest-count set OR
// within the day window: whichever retention is more permissive wins.
func ComputeDeletions(versions []model.BackupVersion, policy model.RetentionPolicy, now time.Time) []string {
	sorted := make([]model.BackupVersion, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedTime.After(sorted[j].CreatedTime)
	})

	var deletions []string
	for i, v := range sorted {
		switch policy.Type {
		case model.RetentionVersionCount:
			if i >= policy.Count {
				deletions = append(deletions, v.Path)
			}
		case model.RetentionDays:
			if olderThan(v, now, policy.Days) {
				deletions = append(deletions, v.Path)
			}
		case model.RetentionHybrid:
			if i >= policy.Count && olderThan(v, now, policy.Days) {
				deletions = append(deletions, v.Path)
			}
		}
	}
	return deletions
}

func olderThan(v model.BackupVersion, now time.Time, days int) bool {
	cutoff := now.AddDate(0, 0, -days)
	return v.CreatedTime.Before(cutoff)
}
