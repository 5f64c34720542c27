package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleClient reads calendars through the Google Calendar API using the
// account's OAuth access token. Only read scopes are used; no write call is
// ever issued.
type GoogleClient struct {
	opts []option.ClientOption
}

// NewGoogleClient creates a Google Calendar client. Extra options are passed
// through to the API client (tests use option.WithEndpoint).
func NewGoogleClient(extra ...option.ClientOption) *GoogleClient {
	return &GoogleClient{opts: extra}
}

func (g *GoogleClient) service(ctx context.Context, account Account) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.opts...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar service: %w", err)
	}
	return srv, nil
}

func (g *GoogleClient) Calendars(ctx context.Context, account Account) ([]Calendar, error) {
	srv, err := g.service(ctx, account)
	if err != nil {
		return nil, err
	}

	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, googleError("list calendars", err)
	}

	calendars := make([]Calendar, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, Calendar{
			ID:           item.Id,
			Provider:     ProviderGoogle,
			AccountEmail: account.Email,
			DisplayName:  item.Summary,
			Color:        item.BackgroundColor,
			Primary:      item.Primary,
		})
	}
	return calendars, nil
}

func (g *GoogleClient) Events(ctx context.Context, account Account, calendarIDs []string, from, to time.Time) ([]Event, error) {
	srv, err := g.service(ctx, account)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0)
	for _, calendarID := range calendarIDs {
		res, err := srv.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			Context(ctx).
			Do()
		if err != nil {
			return nil, googleError(fmt.Sprintf("list events for %s", calendarID), err)
		}

		for _, item := range res.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := googleEvent(item, calendarID, account)
			if err != nil {
				log.Printf("calendar: skipping malformed google event %s: %v", item.Id, err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func googleEvent(item *gcal.Event, calendarID string, account Account) (Event, error) {
	if item.Start == nil || item.End == nil {
		return Event{}, fmt.Errorf("event %s missing start or end", item.Id)
	}

	allDay := item.Start.Date != ""

	var start, end time.Time
	var err error
	if allDay {
		if start, err = ParseDate(item.Start.Date); err != nil {
			return Event{}, err
		}
		if end, err = ParseDate(item.End.Date); err != nil {
			return Event{}, err
		}
	} else {
		if start, err = ParseStamp(item.Start.DateTime); err != nil {
			return Event{}, err
		}
		if end, err = ParseStamp(item.End.DateTime); err != nil {
			return Event{}, err
		}
	}

	return Event{
		ID:           item.Id,
		Provider:     ProviderGoogle,
		CalendarID:   calendarID,
		Title:        item.Summary,
		StartDate:    start,
		EndDate:      end,
		IsAllDay:     allDay,
		Location:     item.Location,
		Notes:        item.Description,
		Recurring:    item.RecurringEventId != "" || len(item.Recurrence) > 0,
		AccountEmail: account.Email,
	}, nil
}

// googleError maps expired/revoked grants to ErrReauthRequired so the syncer
// can surface a per-account reconnect prompt.
func googleError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("google %s: %w", op, ErrReauthRequired)
		}
	}
	return fmt.Errorf("google %s: %w", op, err)
}
