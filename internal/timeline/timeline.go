// Package timeline assembles the day-view schedule: internal tasks and cached
// external events positioned on a fixed grid of 30-minute slots. It derives
// screen positions only; it never mutates its inputs.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"lifesprint/api/internal/calendar"
	"lifesprint/api/internal/store"
)

const (
	// SlotMinutes is the grid resolution.
	SlotMinutes = 30
	// SlotsPerDay covers 0:00 through 23:30.
	SlotsPerDay = 48
	// SlotHeight is the pixel height of one slot.
	SlotHeight = 40
)

// Block kinds. External events render behind tasks, so they carry a lower
// z-index.
const (
	KindTask  = "task"
	KindEvent = "event"

	zEvent = 0
	zTask  = 1
)

// Block is one positioned rectangle on the timed grid.
type Block struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Color       string `json:"color,omitempty"`
	StartMinute int    `json:"startMinute"`
	EndMinute   int    `json:"endMinute"`
	Top         int    `json:"top"`
	Height      int    `json:"height"`
	ZIndex      int    `json:"zIndex"`
}

// DayView is the assembled schedule for one calendar day.
type DayView struct {
	Date         string           `json:"date"`
	Blocks       []Block          `json:"blocks"`
	AllDayEvents []calendar.Event `json:"allDayEvents"`
	AllDayTasks  []store.Task     `json:"allDayTasks"`
	// NowOffset is the exact-minute pixel offset of the current-time marker.
	// It is set only when the viewed day is today.
	NowOffset *int `json:"nowOffset,omitempty"`
}

// ParseClock parses an HH:mm string into minutes from midnight.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hours*60 + minutes, nil
}

// TaskOccursOn reports whether a task belongs on the given day. Non-recurring
// tasks are shown unconditionally: the enclosing sprint filter has already
// scoped them. Recurring tasks match by frequency:
// daily always, weekly/biweekly by day-of-week, monthly by day-of-month,
// yearly by month+day of the anchor date regardless of year.
func TaskOccursOn(task store.Task, day time.Time) bool {
	r := task.Recurrence
	if r == nil {
		return true
	}
	switch r.Frequency {
	case store.FreqDaily:
		return true
	case store.FreqWeekly, store.FreqBiweekly:
		return int(day.Weekday()) == r.DayOfWeek
	case store.FreqMonthly:
		return day.Day() == r.DayOfMonth
	case store.FreqYearly:
		anchor, err := calendar.ParseDate(r.YearlyDate)
		if err != nil {
			return false
		}
		return day.Month() == anchor.Month() && day.Day() == anchor.Day()
	}
	return true
}

// BuildDay assembles the day view for one date. Events come in whatever order
// the cache returned them and tasks in list order; within each source that
// order is preserved. now drives the current-time marker and may be any
// instant.
func BuildDay(day time.Time, now time.Time, tasks []store.Task, events []calendar.Event) DayView {
	view := DayView{
		Date:         day.Format("2006-01-02"),
		Blocks:       make([]Block, 0),
		AllDayEvents: make([]calendar.Event, 0),
		AllDayTasks:  make([]store.Task, 0),
	}

	// External events first so they sit behind tasks.
	for _, ev := range events {
		if !calendar.OnDay(ev.StartDate, day) {
			continue
		}
		if ev.IsAllDay {
			view.AllDayEvents = append(view.AllDayEvents, ev)
			continue
		}
		view.Blocks = append(view.Blocks, eventBlock(ev))
	}

	for _, task := range tasks {
		if !TaskOccursOn(task, day) {
			continue
		}
		block, ok := taskBlock(task)
		if !ok {
			view.AllDayTasks = append(view.AllDayTasks, task)
			continue
		}
		view.Blocks = append(view.Blocks, block)
	}

	if calendar.OnDay(now, day) {
		offset := nowOffset(now)
		view.NowOffset = &offset
	}
	return view
}

// BuildWeek assembles seven consecutive day views starting at start.
func BuildWeek(start time.Time, now time.Time, tasks []store.Task, events []calendar.Event) []DayView {
	days := make([]DayView, 0, 7)
	for i := 0; i < 7; i++ {
		days = append(days, BuildDay(start.AddDate(0, 0, i), now, tasks, events))
	}
	return days
}

// taskBlock positions a task on the grid from its scheduled clock times. A
// task without a scheduled time is all-day and excluded from the grid.
func taskBlock(task store.Task) (Block, bool) {
	if task.Recurrence == nil || task.Recurrence.ScheduledTime == "" {
		return Block{}, false
	}
	startMin, err := ParseClock(task.Recurrence.ScheduledTime)
	if err != nil {
		return Block{}, false
	}

	endMin := startMin + SlotMinutes
	if task.Recurrence.ScheduledEndTime != "" {
		if parsed, err := ParseClock(task.Recurrence.ScheduledEndTime); err == nil && parsed > startMin {
			endMin = parsed
		}
	}

	block := positionBlock(startMin, endMin)
	block.Kind = KindTask
	block.ID = task.ID
	block.Title = task.Title
	block.ZIndex = zTask
	return block, true
}

func eventBlock(ev calendar.Event) Block {
	startMin := ev.StartDate.Hour()*60 + ev.StartDate.Minute()
	endMin := startMin + int(ev.EndDate.Sub(ev.StartDate).Minutes())
	if endMin <= startMin {
		endMin = startMin + SlotMinutes
	}
	// Clamp to the end of the grid; midnight-spanning events belong to their
	// start day only.
	if endMin > SlotsPerDay*SlotMinutes {
		endMin = SlotsPerDay * SlotMinutes
	}

	block := positionBlock(startMin, endMin)
	block.Kind = KindEvent
	block.ID = ev.ID
	block.Title = ev.Title
	block.Color = ev.ContextColor
	block.ZIndex = zEvent
	return block
}

// positionBlock computes slot-snapped pixel geometry: top is the floor of the
// start slot, height spans at least one slot.
func positionBlock(startMin, endMin int) Block {
	startSlot := startMin / SlotMinutes
	endSlot := (endMin + SlotMinutes - 1) / SlotMinutes
	slots := endSlot - startSlot
	if slots < 1 {
		slots = 1
	}
	return Block{
		StartMinute: startMin,
		EndMinute:   endMin,
		Top:         startSlot * SlotHeight,
		Height:      slots * SlotHeight,
	}
}

// nowOffset is exact-minute, not slot-snapped, so the marker moves within a
// slot.
func nowOffset(now time.Time) int {
	minutes := now.Hour()*60 + now.Minute()
	return minutes * SlotHeight / SlotMinutes
}
