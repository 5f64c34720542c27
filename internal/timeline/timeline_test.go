package timeline

import (
	"testing"
	"time"

	"lifesprint/api/internal/calendar"
	"lifesprint/api/internal/store"
)

func scheduledTask(id, start, end string) store.Task {
	return store.Task{
		ID:    id,
		Title: "task " + id,
		Recurrence: &store.Recurrence{
			Frequency:        store.FreqDaily,
			ScheduledTime:    start,
			ScheduledEndTime: end,
		},
	}
}

func timedEvent(id string, start time.Time, duration time.Duration) calendar.Event {
	return calendar.Event{
		ID:        id,
		Title:     "event " + id,
		StartDate: start,
		EndDate:   start.Add(duration),
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:00", 540, false},
		{"23:30", 1410, false},
		{"9:15", 555, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestWeeklyTaskScenario(t *testing.T) {
	// 2026-01-20 is a Tuesday; dayOfWeek 2 is Tuesday.
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	task := store.Task{
		ID:    "t1",
		Title: "Morning review",
		Recurrence: &store.Recurrence{
			Frequency:        store.FreqWeekly,
			DayOfWeek:        2,
			ScheduledTime:    "09:00",
			ScheduledEndTime: "10:00",
		},
	}

	view := BuildDay(day, day.AddDate(0, 0, 1), []store.Task{task}, nil)
	if len(view.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(view.Blocks))
	}

	block := view.Blocks[0]
	if block.Top != 18*SlotHeight {
		t.Errorf("top = %d, want %d", block.Top, 18*SlotHeight)
	}
	if block.Height != 2*SlotHeight {
		t.Errorf("height = %d, want %d", block.Height, 2*SlotHeight)
	}

	// Monday: no match.
	monday := day.AddDate(0, 0, -1)
	if got := BuildDay(monday, day, []store.Task{task}, nil); len(got.Blocks) != 0 {
		t.Errorf("weekly task leaked onto Monday: %v", got.Blocks)
	}
}

func TestTopOffsetIsFloorOfHalfHourSlot(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		start   string
		wantTop int
	}{
		{"00:00", 0},
		{"00:29", 0},
		{"00:30", SlotHeight},
		{"09:45", 19 * SlotHeight},
		{"23:30", 47 * SlotHeight},
	}
	for _, tt := range tests {
		view := BuildDay(day, day, []store.Task{scheduledTask("t", tt.start, "")}, nil)
		if len(view.Blocks) != 1 {
			t.Fatalf("start %s: expected 1 block", tt.start)
		}
		if view.Blocks[0].Top != tt.wantTop {
			t.Errorf("start %s: top = %d, want %d", tt.start, view.Blocks[0].Top, tt.wantTop)
		}
		if view.Blocks[0].Height < SlotHeight {
			t.Errorf("start %s: height %d below one slot", tt.start, view.Blocks[0].Height)
		}
	}
}

func TestUnscheduledTaskIsAllDay(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	tasks := []store.Task{
		{ID: "bare", Title: "no recurrence"},
		{ID: "sched", Title: "scheduled", Recurrence: &store.Recurrence{Frequency: store.FreqDaily, ScheduledTime: "14:00"}},
	}

	view := BuildDay(day, day, tasks, nil)
	if len(view.AllDayTasks) != 1 || view.AllDayTasks[0].ID != "bare" {
		t.Errorf("unscheduled task not in all-day list: %v", view.AllDayTasks)
	}
	if len(view.Blocks) != 1 || view.Blocks[0].ID != "sched" {
		t.Errorf("scheduled task not on grid: %v", view.Blocks)
	}
}

func TestYearlyRecurrenceMatchesAnchorMonthDay(t *testing.T) {
	task := store.Task{
		ID: "y1",
		Recurrence: &store.Recurrence{
			Frequency:  store.FreqYearly,
			YearlyDate: "2024-03-15",
		},
	}

	for _, year := range []int{2024, 2025, 2026, 2031} {
		day := time.Date(year, 3, 15, 0, 0, 0, 0, time.UTC)
		if !TaskOccursOn(task, day) {
			t.Errorf("yearly task should occur on %v", day)
		}
	}
	if TaskOccursOn(task, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Error("yearly task matched wrong day")
	}
	if TaskOccursOn(task, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Error("yearly task matched wrong month")
	}
}

func TestRecurrenceMatching(t *testing.T) {
	tuesday := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	fifteenth := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  *store.Recurrence
		day  time.Time
		want bool
	}{
		{"non-recurring always", nil, tuesday, true},
		{"daily always", &store.Recurrence{Frequency: store.FreqDaily}, tuesday, true},
		{"weekly match", &store.Recurrence{Frequency: store.FreqWeekly, DayOfWeek: 2}, tuesday, true},
		{"weekly mismatch", &store.Recurrence{Frequency: store.FreqWeekly, DayOfWeek: 3}, tuesday, false},
		{"biweekly uses day of week", &store.Recurrence{Frequency: store.FreqBiweekly, DayOfWeek: 2}, tuesday, true},
		{"monthly match", &store.Recurrence{Frequency: store.FreqMonthly, DayOfMonth: 15}, fifteenth, true},
		{"monthly mismatch", &store.Recurrence{Frequency: store.FreqMonthly, DayOfMonth: 14}, fifteenth, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TaskOccursOn(store.Task{Recurrence: tt.rec}, tt.day); got != tt.want {
				t.Errorf("TaskOccursOn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSameDayEventFilter(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	events := []calendar.Event{
		timedEvent("on-day", time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC), time.Hour),
		timedEvent("other-day", time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC), time.Hour),
		// Starts 23:30, ends 00:30 next day: included on start day only.
		timedEvent("spans-midnight", time.Date(2026, 1, 20, 23, 30, 0, 0, time.UTC), time.Hour),
	}

	view := BuildDay(day, day, nil, events)
	if len(view.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(view.Blocks))
	}
	if view.Blocks[0].ID != "on-day" || view.Blocks[1].ID != "spans-midnight" {
		t.Errorf("wrong events or order: %v", view.Blocks)
	}

	// The spanning event is clamped to the end of its start day's grid.
	span := view.Blocks[1]
	if span.EndMinute != SlotsPerDay*SlotMinutes {
		t.Errorf("spanning event end = %d, want %d", span.EndMinute, SlotsPerDay*SlotMinutes)
	}

	next := BuildDay(day.AddDate(0, 0, 1), day, nil, events)
	for _, b := range next.Blocks {
		if b.ID == "spans-midnight" {
			t.Error("midnight-spanning event must not render on its end day")
		}
	}
}

func TestAllDayTimedPartitionIsExact(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	events := []calendar.Event{
		timedEvent("t1", time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC), time.Hour),
		{ID: "a1", Title: "holiday", IsAllDay: true, StartDate: day, EndDate: day.AddDate(0, 0, 1)},
		timedEvent("t2", time.Date(2026, 1, 20, 13, 0, 0, 0, time.UTC), 30*time.Minute),
		{ID: "a2", Title: "birthday", IsAllDay: true, StartDate: day, EndDate: day.AddDate(0, 0, 1)},
	}

	view := BuildDay(day, day, nil, events)

	seen := map[string]int{}
	for _, b := range view.Blocks {
		seen[b.ID]++
	}
	for _, ev := range view.AllDayEvents {
		seen[ev.ID]++
	}

	if len(seen) != len(events) {
		t.Errorf("partition dropped events: %v", seen)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("event %s appeared %d times", id, count)
		}
	}
	if len(view.AllDayEvents) != 2 || len(view.Blocks) != 2 {
		t.Errorf("partition sizes wrong: %d all-day, %d timed", len(view.AllDayEvents), len(view.Blocks))
	}
}

func TestEventsRenderBehindTasks(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	tasks := []store.Task{scheduledTask("t1", "09:00", "10:00")}
	events := []calendar.Event{timedEvent("e1", time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC), time.Hour)}

	view := BuildDay(day, day, tasks, events)
	if len(view.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(view.Blocks))
	}

	var taskZ, eventZ int
	for _, b := range view.Blocks {
		switch b.Kind {
		case KindTask:
			taskZ = b.ZIndex
		case KindEvent:
			eventZ = b.ZIndex
		}
	}
	if eventZ >= taskZ {
		t.Errorf("event z %d should be below task z %d", eventZ, taskZ)
	}
}

func TestNowMarkerOnlyToday(t *testing.T) {
	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 20, 9, 15, 0, 0, time.UTC)

	today := BuildDay(day, now, nil, nil)
	if today.NowOffset == nil {
		t.Fatal("expected now marker on today's view")
	}
	// 9:15 = 555 minutes; exact-minute position, not slot-snapped.
	want := 555 * SlotHeight / SlotMinutes
	if *today.NowOffset != want {
		t.Errorf("now offset = %d, want %d", *today.NowOffset, want)
	}

	other := BuildDay(day.AddDate(0, 0, 1), now, nil, nil)
	if other.NowOffset != nil {
		t.Error("now marker must not appear on non-today views")
	}
}

func TestBuildWeek(t *testing.T) {
	start := time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC) // Monday
	now := time.Date(2026, 1, 21, 12, 0, 0, 0, time.UTC)

	task := store.Task{
		ID:         "w1",
		Recurrence: &store.Recurrence{Frequency: store.FreqWeekly, DayOfWeek: 2, ScheduledTime: "09:00"},
	}

	week := BuildWeek(start, now, []store.Task{task}, nil)
	if len(week) != 7 {
		t.Fatalf("expected 7 days, got %d", len(week))
	}
	if week[0].Date != "2026-01-19" || week[6].Date != "2026-01-25" {
		t.Errorf("wrong week bounds: %s .. %s", week[0].Date, week[6].Date)
	}

	// The weekly Tuesday task appears only on day index 1.
	for i, dayView := range week {
		wantBlocks := 0
		if i == 1 {
			wantBlocks = 1
		}
		if len(dayView.Blocks) != wantBlocks {
			t.Errorf("day %s: %d blocks, want %d", dayView.Date, len(dayView.Blocks), wantBlocks)
		}
	}

	// Now marker only on Wednesday (index 2).
	for i, dayView := range week {
		if (dayView.NowOffset != nil) != (i == 2) {
			t.Errorf("day %s: unexpected now marker state", dayView.Date)
		}
	}
}
