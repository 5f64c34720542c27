package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphClient reads calendars through the Microsoft Graph REST API. Graph
// returns event date-times in the requested timezone without a zone suffix
// (e.g. "2026-01-31T19:30:00.0000000"), which ParseStamp handles via the
// UTC-append fallback.
type GraphClient struct {
	baseURL string
	client  *http.Client
}

// NewGraphClient creates a Graph client. baseURL may be empty to use the
// production endpoint; tests point it at a local server.
func NewGraphClient(baseURL string) *GraphClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &GraphClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type graphCalendar struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	HexColor          string `json:"hexColor"`
	IsDefaultCalendar bool   `json:"isDefaultCalendar"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string        `json:"id"`
	Subject     string        `json:"subject"`
	BodyPreview string        `json:"bodyPreview"`
	IsAllDay    bool          `json:"isAllDay"`
	Type        string        `json:"type"`
	IsCancelled bool          `json:"isCancelled"`
	Start       graphDateTime `json:"start"`
	End         graphDateTime `json:"end"`
	Location    struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
}

func (m *GraphClient) Calendars(ctx context.Context, account Account) ([]Calendar, error) {
	var payload struct {
		Value []graphCalendar `json:"value"`
	}
	if err := m.get(ctx, account, "/me/calendars", &payload); err != nil {
		return nil, fmt.Errorf("graph list calendars: %w", err)
	}

	calendars := make([]Calendar, 0, len(payload.Value))
	for _, item := range payload.Value {
		calendars = append(calendars, Calendar{
			ID:           item.ID,
			Provider:     ProviderMicrosoft,
			AccountEmail: account.Email,
			DisplayName:  item.Name,
			Color:        item.HexColor,
			Primary:      item.IsDefaultCalendar,
		})
	}
	return calendars, nil
}

func (m *GraphClient) Events(ctx context.Context, account Account, calendarIDs []string, from, to time.Time) ([]Event, error) {
	events := make([]Event, 0)
	for _, calendarID := range calendarIDs {
		path := fmt.Sprintf("/me/calendars/%s/calendarView?startDateTime=%s&endDateTime=%s&$top=500",
			url.PathEscape(calendarID),
			url.QueryEscape(from.UTC().Format(time.RFC3339)),
			url.QueryEscape(to.UTC().Format(time.RFC3339)))

		// Graph pages calendarView responses; nextLink is absolute and must be
		// followed until exhausted or busy calendars silently lose events.
		next := m.baseURL + path
		for next != "" {
			var payload struct {
				Value    []graphEvent `json:"value"`
				NextLink string       `json:"@odata.nextLink"`
			}
			if err := m.getURL(ctx, account, next, &payload); err != nil {
				return nil, fmt.Errorf("graph list events for %s: %w", calendarID, err)
			}

			for _, item := range payload.Value {
				if item.IsCancelled {
					continue
				}
				ev, err := m.normalize(item, calendarID, account)
				if err != nil {
					log.Printf("calendar: skipping malformed graph event %s: %v", item.ID, err)
					continue
				}
				events = append(events, ev)
			}
			next = payload.NextLink
		}
	}
	return events, nil
}

func (m *GraphClient) normalize(item graphEvent, calendarID string, account Account) (Event, error) {
	start, err := ParseStamp(item.Start.DateTime)
	if err != nil {
		return Event{}, err
	}
	end, err := ParseStamp(item.End.DateTime)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:           item.ID,
		Provider:     ProviderMicrosoft,
		CalendarID:   calendarID,
		Title:        item.Subject,
		StartDate:    start,
		EndDate:      end,
		IsAllDay:     item.IsAllDay,
		Location:     item.Location.DisplayName,
		Notes:        item.BodyPreview,
		Recurring:    item.Type == "occurrence" || item.Type == "seriesMaster",
		AccountEmail: account.Email,
	}, nil
}

func (m *GraphClient) get(ctx context.Context, account Account, path string, target any) error {
	return m.getURL(ctx, account, m.baseURL+path, target)
}

func (m *GraphClient) getURL(ctx context.Context, account Account, fullURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(target)
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrReauthRequired
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, string(body))
	}
}
