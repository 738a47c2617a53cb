package storage

import (
	"time"

	"github.com/fgeck/gobucket-homelab/internal/models"
)

// Tier boundaries. The weekly window ends at 28 days; a month is always 30 days.
const (
	weeklyWindowDays = 28
	daysPerWeek      = 7
	daysPerMonth     = 30
)

// Tier names the retention window an object falls into.
type Tier string

// Retention tiers.
const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

const day = 24 * time.Hour

// AgeDays returns floor((now - lastModified) / 1 day).
func AgeDays(now, lastModified time.Time) int {
	d := now.Sub(lastModified)
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}

// Classify returns the tier for an object of the given age and whether it has expired.
func Classify(ageDays int, policy models.RetentionPolicy) (Tier, bool) {
	switch {
	case ageDays <= policy.KeepDaily:
		return TierDaily, false
	case ageDays <= weeklyWindowDays:
		return TierWeekly, ageDays/daysPerWeek > policy.KeepWeekly
	default:
		return TierMonthly, ageDays/daysPerMonth > policy.KeepMonthly
	}
}

// Expired returns the objects under prefix that policy no longer retains, in input order.
func Expired(objects []models.RemoteObject, prefix string, policy models.RetentionPolicy, now time.Time) []models.RemoteObject {
	var expired []models.RemoteObject
	for _, obj := range objects {
		if !hasPrefix(obj.Key, prefix) {
			continue
		}
		if _, gone := Classify(AgeDays(now, obj.LastModified), policy); gone {
			expired = append(expired, obj)
		}
	}
	return expired
}

func hasPrefix(key, prefix string) bool {
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}
