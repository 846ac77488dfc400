package executor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RenderName substitutes the supported placeholders in a backup folder name
// pattern. Unknown placeholders pass through unchanged so a literal brace
// pattern never breaks a run.
func RenderName(pattern string, now time.Time) string {
	replacer := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{datetime}", now.Format("2006-01-02_15-04-05"),
		"{timestamp}", fmt.Sprintf("%d", now.Unix()),
		"{year}", now.Format("2006"),
		"{month}", now.Format("01"),
		"{day}", now.Format("02"),
		"{hour}", now.Format("15"),
		"{minute}", now.Format("04"),
		"{hash}", shortHash(),
	)
	return replacer.Replace(pattern)
}

// shortHash returns 6 hex characters of randomness, enough to keep two runs
// in the same minute from colliding on a folder name.
func shortHash() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to the clock; collisions here only mean a folder name
		// conflict surfaced by the adapter.
		return fmt.Sprintf("%06x", time.Now().UnixNano()&0xffffff)
	}
	return hex.EncodeToString(b[:])
}
