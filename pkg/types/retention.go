package types

// RetentionRules maps a memory type to its retention period in days.
// A value of 0 (or an absent type) means records of that type never expire.
type RetentionRules map[string]int

// DefaultRetentionRules returns the out-of-the-box retention policy:
// facts and preferences are kept forever, episodes expire after a year.
func DefaultRetentionRules() RetentionRules {
	return RetentionRules{
		MemoryTypeFact:       0,
		MemoryTypePreference: 0,
		MemoryTypeEpisode:    365,
	}
}

// Days returns the retention period for the given memory type, or 0 when the
// type has no rule.
func (r RetentionRules) Days(memoryType string) int {
	if r == nil {
		return 0
	}
	return r[memoryType]
}

// Expired reports whether a record of the given type with the given age is
// past retention. The boundary is strict: a record aged exactly the rule's
// number of days is not expired.
func (r RetentionRules) Expired(memoryType string, ageDays float64) bool {
	days := r.Days(memoryType)
	if days <= 0 {
		return false
	}
	return ageDays > float64(days)
}
