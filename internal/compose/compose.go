// Package compose renders the SMS bodies sent ahead of a class.
package compose

import "fmt"

// ImminentThreshold is the largest lead time, in minutes, that gets the
// urgent template instead of the reminder.
const ImminentThreshold = 10

// Reminder renders the advance notice sent minutesBefore a class.
func Reminder(unit, start, end string, minutesBefore int) string {
	return fmt.Sprintf("📚 Class Reminder!\n\n"+
		"Subject: %s\n"+
		"Time: %s - %s\n"+
		"Starts in %s\n\n"+
		"Please be prepared and on time. 👨‍🏫", unit, start, end, leadText(minutesBefore))
}

// Imminent renders the urgent notice for a class about to start.
func Imminent(unit, start, end string) string {
	return fmt.Sprintf("🚨 URGENT: Class Starting Soon!\n\n"+
		"Subject: %s\n"+
		"Time: %s - %s\n\n"+
		"Please head to class immediately! ⏰", unit, start, end)
}

// IsImminent reports whether a lead time uses the urgent template.
func IsImminent(minutesBefore int) bool {
	return minutesBefore <= ImminentThreshold
}

// ForLead picks the template for minutesBefore.
func ForLead(unit, start, end string, minutesBefore int) string {
	if IsImminent(minutesBefore) {
		return Imminent(unit, start, end)
	}
	return Reminder(unit, start, end, minutesBefore)
}

func leadText(minutes int) string {
	if minutes >= 60 {
		return plural(minutes/60, "hour")
	}
	return plural(minutes, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
