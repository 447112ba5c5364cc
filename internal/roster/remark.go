package roster

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var remarkStamp = regexp.MustCompile(`\s*\(reported by [^()]*\)\s*$`)

// StripStamp removes a trailing attribution stamp from a remark.
func StripStamp(remark string) string {
	return strings.TrimSpace(remarkStamp.ReplaceAllString(remark, ""))
}

// StampRemark replaces any attribution stamp on remark with a fresh one for
// name. An empty remark stays empty.
func StampRemark(remark, name string, at time.Time) string {
	text := StripStamp(remark)
	if text == "" {
		return ""
	}
	return fmt.Sprintf("%s (reported by %s %d %s)", text, name, at.Day(), at.Month())
}
