package scheduler

import "strings"

var calendarKeywords = []string{
	"meeting", "call", "appointment", "appt", "reminder",
	"event", "schedule", "deadline", "due date", "task",
	"conference", "webinar", "workshop", "seminar", "interview",
	"lunch", "dinner", "breakfast", "coffee", "hangout",
	"check-in", "catch-up", "review", "planning", "discussion",
	"presentation", "demo", "training", "session", "consultation",
	"reservation", "booking", "party", "celebration", "anniversary",
	"birthday", "holiday", "vacation", "trip", "travel",
	"flight", "doctor", "dentist", "therapy", "exam",
	"test", "audition", "rehearsal", "submission", "delivery",
	"launch", "release", "milestone", "goal", "target", "checkpoint",
}

// RequiresCalendar reports whether a task description mentions something
// that belongs on the calendar. Other tasks are stored without an event.
func RequiresCalendar(what string) bool {
	what = strings.ToLower(what)
	for _, k := range calendarKeywords {
		if strings.Contains(what, k) {
			return true
		}
	}
	return false
}
