package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// ColorizeStatus applies color styling to an upload status.
// Handles statuses like "uploading", "paused", "completed", "error", "cancelled".
func ColorizeStatus(status string) string {
	displayStatus := status
	if len(status) > 0 {
		displayStatus = strings.ToUpper(status[:1]) + strings.ToLower(status[1:])
	}

	switch strings.ToLower(status) {
	case "completed":
		return GreenStyle.Render(displayStatus)
	case "uploading":
		return CyanStyle.Render(displayStatus)
	case "paused":
		return YellowStyle.Render(displayStatus)
	case "cancelled":
		return PendingStyle.Render(displayStatus)
	default:
		if strings.Contains(strings.ToLower(status), "error") {
			return RedStyle.Render(displayStatus)
		}
		return BoldStyle.Render(displayStatus)
	}
}

// FormatSize renders a byte count in binary units ("4.5MiB").
func FormatSize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// FormatSpeed renders a transfer rate in binary units per second.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "--"
	}
	return units.BytesSize(bytesPerSecond) + "/s"
}

// FormatETA renders a remaining-time estimate, rounded to the second.
func FormatETA(eta time.Duration) string {
	if eta <= 0 {
		return "--"
	}
	return eta.Round(time.Second).String()
}

// FormatError formats an error message with styling.
// NOTE: Adds a new line manually. Use strings.TrimSpace if you want to strip it.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return ErrorStyle.Render(fmt.Sprintf("✗ Error: %s", err.Error())) + "\n"
}
