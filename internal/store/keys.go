package store

import "fmt"

// Redis key namespace for this module, following the teacher's
// "<app>:<resource>:<id>" convention (control_plane/store/keys.go).
const keyPrefix = "scheduler"

func scheduleKey(id string) string {
	return fmt.Sprintf("%s:schedules:%s", keyPrefix, id)
}

func scheduleIndexKey() string {
	return fmt.Sprintf("%s:schedules:index", keyPrefix)
}

// scheduleEnabledIndexKey holds a Redis Set of ids currently enabled, kept
// in sync by IncrementFailureCount's auto-disable transition and by
// whatever writes ScheduledCall rows, so CountEnabled stays an O(1) SCARD
// instead of a full scan (spec.md §4.5: "cheap indexed queries").
func scheduleEnabledIndexKey() string {
	return fmt.Sprintf("%s:schedules:enabled", keyPrefix)
}

// scheduleUpdatedZKey holds a Redis ZSET of id -> last_updated, so
// GetUpdatedSince/CountUpdatedSince are ZRANGEBYSCORE/ZCOUNT instead of a
// full scan.
func scheduleUpdatedZKey() string {
	return fmt.Sprintf("%s:schedules:updated", keyPrefix)
}

func workerKey(name string) string {
	return fmt.Sprintf("%s:workers:%s", keyPrefix, name)
}

func workerIndexKey() string {
	return fmt.Sprintf("%s:workers:index", keyPrefix)
}
