// Package trigger fires named frame actions on wall-clock schedules.
//
// Schedules are parsed with ParseSchedule and run by robfig/cron. A trigger
// never touches frame state from the cron goroutine: it posts the action to
// the frame thread and the action runs between two ticks.
package trigger
