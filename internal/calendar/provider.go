package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrReauthRequired indicates the account's calendar grant is expired or
// revoked. The syncer maps this to a per-account "reconnect" status instead of
// failing the whole sync.
var ErrReauthRequired = errors.New("calendar: provider authorization expired or revoked")

// Client reads calendars and events from one provider. Implementations are
// read-only by contract: the interface has no write methods and none may issue
// mutating calls against the provider API.
type Client interface {
	// Calendars discovers the calendars visible to the account.
	Calendars(ctx context.Context, account Account) ([]Calendar, error)

	// Events fetches events from the given calendars within [from, to),
	// normalized into the canonical Event shape. Individual events that fail
	// to parse are skipped, not fatal.
	Events(ctx context.Context, account Account, calendarIDs []string, from, to time.Time) ([]Event, error)
}
