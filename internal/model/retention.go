package model

import "fmt"

// Retention policy kinds.
const (
	RetentionVersionCount = "version_count"
	RetentionDays         = "days"
	RetentionHybrid       = "hybrid"
)

// RetentionPolicy decides which past backup versions survive after a run.
// Count and Days are required depending on Type; Validate is called before
// any deletion logic runs.
type RetentionPolicy struct {
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
	Days  int    `json:"days,omitempty"`
}

func (p *RetentionPolicy) Validate() error {
	switch p.Type {
	case RetentionVersionCount:
		if p.Count <= 0 {
			return fmt.Errorf("retention policy %s requires a positive count", p.Type)
		}
	case RetentionDays:
		if p.Days <= 0 {
			return fmt.Errorf("retention policy %s requires a positive days value", p.Type)
		}
	case RetentionHybrid:
		if p.Count <= 0 || p.Days <= 0 {
			return fmt.Errorf("retention policy %s requires positive count and days", p.Type)
		}
	default:
		return fmt.Errorf("unknown retention policy type %q", p.Type)
	}
	return nil
}
