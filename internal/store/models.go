package store

import (
	"time"

	"lifesprint/api/internal/calendar"
)

// Task statuses.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
	TaskDraft      = "draft"
)

// Recurrence frequencies.
const (
	FreqDaily    = "daily"
	FreqWeekly   = "weekly"
	FreqBiweekly = "biweekly"
	FreqMonthly  = "monthly"
	FreqYearly   = "yearly"
)

// Icon kinds for life-wheel areas. The kind is decided when the area is
// created, so renderers never have to sniff whether a string is an emoji.
const (
	IconGlyph = "glyph"
	IconEmoji = "emoji"
)

// ProviderAccount is a connected calendar provider account. Tokens grant
// read-only calendar scopes; Apple accounts carry an ICS subscription URL
// instead.
type ProviderAccount struct {
	ID           string                `json:"id"`
	Provider     calendar.ProviderKind `json:"provider"`
	AccountEmail string                `json:"accountEmail"`
	AccessToken  string                `json:"-"`
	RefreshToken string                `json:"-"`
	ICSURL       string                `json:"-"`
	TokenExpiry  *time.Time            `json:"tokenExpiry,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// ExternalCalendar is one discovered provider calendar plus the user's
// overrides: an alias, a life-context color, and whether it participates in
// sync.
type ExternalCalendar struct {
	ID           string                `json:"id"`
	AccountID    string                `json:"accountId"`
	Provider     calendar.ProviderKind `json:"provider"`
	CalendarID   string                `json:"calendarId"`
	AccountEmail string                `json:"accountEmail"`
	DisplayName  string                `json:"displayName"`
	Alias        string                `json:"alias,omitempty"`
	ContextColor string                `json:"contextColor,omitempty"`
	IsSelected   bool                  `json:"isSelected"`
}

// Recurrence describes when a recurring task repeats and at what time of day
// it is scheduled. ScheduledTime/ScheduledEndTime are HH:mm; a task without a
// scheduled time is treated as all-day by the timeline.
type Recurrence struct {
	Frequency        string `json:"frequency"`
	DayOfWeek        int    `json:"dayOfWeek,omitempty"`  // 0=Sunday .. 6=Saturday
	DayOfMonth       int    `json:"dayOfMonth,omitempty"` // 1..31
	YearlyDate       string `json:"yearlyDate,omitempty"` // anchor date, 2006-01-02
	ScheduledTime    string `json:"scheduledTime,omitempty"`
	ScheduledEndTime string `json:"scheduledEndTime,omitempty"`
}

// Task is a sprint-planned unit of work.
type Task struct {
	ID                   string      `json:"id"`
	Title                string      `json:"title"`
	Status               string      `json:"status"`
	StoryPoints          int         `json:"storyPoints"`
	EpicID               string      `json:"epicId,omitempty"`
	SprintID             string      `json:"sprintId,omitempty"`
	LifeWheelAreaID      string      `json:"lifeWheelAreaId,omitempty"`
	EisenhowerQuadrantID string      `json:"eisenhowerQuadrantId,omitempty"`
	Recurrence           *Recurrence `json:"recurrence,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

// Sprint is a fixed weekly planning window tasks are scheduled into.
type Sprint struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// LifeWheelArea is a user-defined life category used to tag tasks and goals.
type LifeWheelArea struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
	IconKind string `json:"iconKind"` // glyph | emoji
}
