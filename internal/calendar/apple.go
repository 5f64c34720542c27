package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// Apple has no public REST calendar API; connected Apple calendars are
// read through their published ICS subscription URL. Recurrences are expanded
// into concrete instances within the requested window.
type AppleClient struct {
	client *http.Client
}

func NewAppleClient() *AppleClient {
	return &AppleClient{client: &http.Client{Timeout: 15 * time.Second}}
}

func (a *AppleClient) Calendars(ctx context.Context, account Account) ([]Calendar, error) {
	cal, err := a.fetch(ctx, account)
	if err != nil {
		return nil, err
	}

	name := calendarName(cal)
	if name == "" {
		name = account.Email
	}
	return []Calendar{{
		ID:           account.ICSURL,
		Provider:     ProviderApple,
		AccountEmail: account.Email,
		DisplayName:  name,
	}}, nil
}

func (a *AppleClient) Events(ctx context.Context, account Account, calendarIDs []string, from, to time.Time) ([]Event, error) {
	cal, err := a.fetch(ctx, account)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0)
	for _, ve := range cal.Events() {
		expanded, err := expandVEvent(ve, account, from, to)
		if err != nil {
			uid := ""
			if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
				uid = p.Value
			}
			log.Printf("calendar: skipping malformed apple event %s: %v", uid, err)
			continue
		}
		events = append(events, expanded...)
	}
	return events, nil
}

func (a *AppleClient) fetch(ctx context.Context, account Account) (*ical.Calendar, error) {
	if account.ICSURL == "" {
		return nil, errors.New("apple account has no subscription URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.ICSURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apple feed fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		return nil, ErrReauthRequired
	default:
		return nil, fmt.Errorf("apple feed returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apple feed parse: %w", err)
	}
	return cal, nil
}

func calendarName(cal *ical.Calendar) string {
	for _, prop := range cal.CalendarProperties {
		if prop.IANAToken == "X-WR-CALNAME" {
			return prop.Value
		}
	}
	return ""
}

// expandVEvent turns one VEVENT into zero or more normalized events within
// [from, to): a single instance for plain events, one instance per occurrence
// for RRULE events.
func expandVEvent(ve *ical.VEvent, account Account, from, to time.Time) ([]Event, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	uid := uidProp.Value

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	end, endErr := ve.GetEndAt()
	if endErr != nil {
		end = start.Add(time.Hour)
	}

	base := Event{
		Provider:     ProviderApple,
		CalendarID:   account.ICSURL,
		AccountEmail: account.Email,
		IsAllDay:     isDateOnly(ve),
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		base.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		base.Notes = p.Value
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil {
		if start.Before(from) || !start.Before(to) {
			return nil, nil
		}
		ev := base
		ev.ID = uid
		ev.StartDate = start
		ev.EndDate = end
		return []Event{ev}, nil
	}

	rule, err := rrule.StrToRRule(rruleProp.Value)
	if err != nil {
		return nil, fmt.Errorf("event %s rrule: %w", uid, err)
	}
	rule.DTStart(start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(start.Location()))
	}

	duration := end.Sub(start)
	occurrences := set.Between(from.In(start.Location()), to.In(start.Location()), true)

	events := make([]Event, 0, len(occurrences))
	for _, occStart := range occurrences {
		ev := base
		ev.ID = uid + "/" + occStart.Format(time.RFC3339)
		ev.StartDate = occStart
		ev.EndDate = occStart.Add(duration)
		ev.Recurring = true
		events = append(events, ev)
	}
	return events, nil
}

// isDateOnly detects all-day events from the DTSTART value form: either an
// explicit VALUE=DATE parameter or a value with no time component.
func isDateOnly(ve *ical.VEvent) bool {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if params := prop.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(prop.Value, "T")
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSStamp(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseICSStamp(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
