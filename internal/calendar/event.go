// Package calendar defines the normalized external-event model and the
// read-only provider clients that produce it (Google Calendar, Microsoft
// Graph, Apple ICS subscriptions).
package calendar

import "time"

// ProviderKind identifies a connected calendar provider.
type ProviderKind string

const (
	ProviderApple     ProviderKind = "apple"
	ProviderGoogle    ProviderKind = "google"
	ProviderMicrosoft ProviderKind = "microsoft"
)

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p ProviderKind) bool {
	switch p {
	case ProviderApple, ProviderGoogle, ProviderMicrosoft:
		return true
	}
	return false
}

// Account carries the credentials needed to read one provider account.
// Google and Microsoft use AccessToken; Apple uses an ICS subscription URL.
type Account struct {
	ID          string
	Provider    ProviderKind
	Email       string
	AccessToken string
	ICSURL      string
}

// Calendar is a provider-side calendar as discovered from the account.
type Calendar struct {
	ID           string       `json:"id"`
	Provider     ProviderKind `json:"provider"`
	AccountEmail string       `json:"accountEmail"`
	DisplayName  string       `json:"displayName"`
	Color        string       `json:"color,omitempty"`
	Primary      bool         `json:"primary,omitempty"`
}

// Event is the normalized snapshot of one external calendar event. Events are
// read-only: they are replaced wholesale on every sync and never written back
// to the source calendar.
type Event struct {
	ID            string       `json:"id"`
	Provider      ProviderKind `json:"provider"`
	CalendarID    string       `json:"calendarId"`
	Title         string       `json:"title"`
	StartDate     time.Time    `json:"startDate"`
	EndDate       time.Time    `json:"endDate"`
	IsAllDay      bool         `json:"isAllDay"`
	Location      string       `json:"location,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	Recurring     bool         `json:"recurring,omitempty"`
	CalendarAlias string       `json:"calendarAlias,omitempty"`
	ContextColor  string       `json:"calendarContextColor,omitempty"`
	AccountEmail  string       `json:"accountEmail"`
}

// OnDay reports whether t falls on the same calendar day as day, compared by
// wall-clock date. Events spanning midnight belong to their start day only, so
// callers compare start times.
func OnDay(t, day time.Time) bool {
	return t.Year() == day.Year() && t.Month() == day.Month() && t.Day() == day.Day()
}
