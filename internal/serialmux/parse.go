package serialmux

import "strings"

// Line kinds emitted by sensor firmware.
const (
	LineSnapshot = "snapshot"
	LineLog      = "log"
	LineEmpty    = "empty"
)

// ClassifyLine tells snapshot JSON apart from firmware log chatter. Only
// object lines mentioning targets or room geometry count as snapshots.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineEmpty
	case strings.HasPrefix(line, "{") &&
		(strings.Contains(line, `"targets"`) || strings.Contains(line, `"room_`)):
		return LineSnapshot
	default:
		return LineLog
	}
}
