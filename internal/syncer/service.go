// Package syncer pulls events from connected provider accounts into the local
// event cache. Syncs are read-only against the providers and replace the
// cached set wholesale; the timeline only ever reads the cache.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"lifesprint/api/internal/calendar"
	"lifesprint/api/internal/store"
	"lifesprint/api/internal/synccache"
)

type accountStore interface {
	ListProviderAccounts(ctx context.Context) ([]store.ProviderAccount, error)
	ListAccountCalendars(ctx context.Context, accountID string) ([]store.ExternalCalendar, error)
	UpsertExternalCalendar(ctx context.Context, cal store.ExternalCalendar) error
}

type eventCache interface {
	NextGeneration(ctx context.Context, accountID string) (int64, error)
	ReplaceEvents(ctx context.Context, accountID string, generation int64, events []calendar.Event) error
	SaveMetadata(ctx context.Context, meta synccache.Metadata) error
	Metadata(ctx context.Context, accountID string) (synccache.Metadata, error)
}

type idGenerator interface {
	NewID() string
}

// Options tunes a sync service.
type Options struct {
	// WindowDays bounds the fetch window around now: WindowDays back and
	// WindowDays forward.
	WindowDays int
	// Timeout caps one account's fetch. A slow provider never stalls the
	// others.
	Timeout time.Duration
	// FrequencyMinutes is the default interval between automatic syncs of an
	// account.
	FrequencyMinutes int
}

// Service syncs provider accounts into the event cache.
type Service struct {
	accounts accountStore
	cache    eventCache
	clients  map[calendar.ProviderKind]calendar.Client
	ids      idGenerator
	opts     Options
	now      func() time.Time
}

// NewService creates a sync service over the given provider clients.
func NewService(accounts accountStore, cache eventCache, clients map[calendar.ProviderKind]calendar.Client, ids idGenerator, opts Options) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FrequencyMinutes <= 0 {
		opts.FrequencyMinutes = 15
	}
	return &Service{
		accounts: accounts,
		cache:    cache,
		clients:  clients,
		ids:      ids,
		opts:     opts,
		now:      time.Now,
	}
}

// SyncAll syncs every connected account concurrently. One account failing
// never blocks or fails the others; per-account outcome lands in that
// account's sync metadata.
func (s *Service) SyncAll(ctx context.Context) error {
	accounts, err := s.accounts.ListProviderAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list provider accounts: %w", err)
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account store.ProviderAccount) {
			defer wg.Done()
			if err := s.SyncAccount(ctx, account); err != nil {
				log.Printf("syncer: account %s (%s): %v", account.ID, account.Provider, err)
			}
		}(account)
	}
	wg.Wait()
	return nil
}

// SyncDue syncs the accounts whose sync interval has elapsed. Accounts that
// have never synced are always due.
func (s *Service) SyncDue(ctx context.Context) error {
	accounts, err := s.accounts.ListProviderAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list provider accounts: %w", err)
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		due, err := s.accountDue(ctx, account.ID)
		if err != nil {
			log.Printf("syncer: read metadata for %s: %v", account.ID, err)
			continue
		}
		if !due {
			continue
		}
		wg.Add(1)
		go func(account store.ProviderAccount) {
			defer wg.Done()
			if err := s.SyncAccount(ctx, account); err != nil {
				log.Printf("syncer: account %s (%s): %v", account.ID, account.Provider, err)
			}
		}(account)
	}
	wg.Wait()
	return nil
}

func (s *Service) accountDue(ctx context.Context, accountID string) (bool, error) {
	meta, err := s.cache.Metadata(ctx, accountID)
	if err != nil {
		return false, err
	}
	if meta.ConnectionStatus == synccache.StatusNever {
		return true, nil
	}
	freq := meta.SyncFrequencyMinutes
	if freq <= 0 {
		freq = s.opts.FrequencyMinutes
	}
	return s.now().Sub(meta.LastSyncedAt) >= time.Duration(freq)*time.Minute, nil
}

// SyncAccount performs one full sync for one account: refresh the discovered
// calendar list, fetch events for the selected calendars, and commit them to
// the cache under a fresh generation. The cache keeps serving the previous
// set until the commit.
func (s *Service) SyncAccount(ctx context.Context, account store.ProviderAccount) error {
	generation, err := s.cache.NextGeneration(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("reserve sync generation: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	events, syncErr := s.fetch(fetchCtx, account)
	if syncErr == nil {
		syncErr = s.cache.ReplaceEvents(fetchCtx, account.ID, generation, events)
		if errors.Is(syncErr, synccache.ErrStaleGeneration) {
			// A newer sync committed first; its result stands.
			log.Printf("syncer: account %s generation %d superseded", account.ID, generation)
			return nil
		}
	}

	meta := synccache.Metadata{
		AccountID:            account.ID,
		Provider:             account.Provider,
		LastSyncedAt:         s.now().UTC(),
		SyncFrequencyMinutes: s.opts.FrequencyMinutes,
		ConnectionStatus:     synccache.StatusOK,
		Generation:           generation,
	}
	switch {
	case errors.Is(syncErr, calendar.ErrReauthRequired):
		meta.ConnectionStatus = synccache.StatusReauthRequired
		meta.LastError = syncErr.Error()
	case syncErr != nil:
		meta.ConnectionStatus = synccache.StatusError
		meta.LastError = syncErr.Error()
	}
	// The outcome must be recorded even when the fetch burned the whole
	// timeout, so the metadata write gets its own deadline instead of the
	// possibly-expired fetch context.
	metaCtx, metaCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer metaCancel()
	if err := s.cache.SaveMetadata(metaCtx, meta); err != nil {
		return fmt.Errorf("save sync metadata: %w", err)
	}
	return syncErr
}

func (s *Service) fetch(ctx context.Context, account store.ProviderAccount) ([]calendar.Event, error) {
	client, ok := s.clients[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no client for provider %q", account.Provider)
	}

	providerAccount := calendar.Account{
		ID:          account.ID,
		Provider:    account.Provider,
		Email:       account.AccountEmail,
		AccessToken: account.AccessToken,
		ICSURL:      account.ICSURL,
	}

	discovered, err := client.Calendars(ctx, providerAccount)
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}
	if err := s.refreshCalendars(ctx, account, discovered); err != nil {
		return nil, err
	}

	known, err := s.accounts.ListAccountCalendars(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list account calendars: %w", err)
	}

	var selected []string
	settings := make(map[string]store.ExternalCalendar, len(known))
	for _, cal := range known {
		settings[cal.CalendarID] = cal
		if cal.IsSelected {
			selected = append(selected, cal.CalendarID)
		}
	}
	if len(selected) == 0 {
		return []calendar.Event{}, nil
	}

	now := s.now()
	from := now.AddDate(0, 0, -s.opts.WindowDays)
	to := now.AddDate(0, 0, s.opts.WindowDays)
	events, err := client.Events(ctx, providerAccount, selected, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	// Stamp each event with the calendar's user-facing settings so the
	// timeline renders aliases and context colors without a store lookup.
	for i := range events {
		events[i].AccountEmail = account.AccountEmail
		cal, ok := settings[events[i].CalendarID]
		if !ok {
			continue
		}
		if cal.Alias != "" {
			events[i].CalendarAlias = cal.Alias
		}
		events[i].ContextColor = cal.ContextColor
	}
	return events, nil
}

// refreshCalendars upserts the discovered calendar list. New calendars start
// selected; user overrides on known calendars are preserved by the store.
func (s *Service) refreshCalendars(ctx context.Context, account store.ProviderAccount, discovered []calendar.Calendar) error {
	for _, cal := range discovered {
		record := store.ExternalCalendar{
			ID:           s.ids.NewID(),
			AccountID:    account.ID,
			Provider:     account.Provider,
			CalendarID:   cal.ID,
			AccountEmail: account.AccountEmail,
			DisplayName:  cal.DisplayName,
			IsSelected:   true,
		}
		if err := s.accounts.UpsertExternalCalendar(ctx, record); err != nil {
			return fmt.Errorf("upsert calendar %s: %w", cal.ID, err)
		}
	}
	return nil
}
