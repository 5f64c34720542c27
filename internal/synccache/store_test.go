package synccache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lifesprint/api/internal/calendar"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewWithClient(client)
}

func testEvent(id string, provider calendar.ProviderKind, start time.Time) calendar.Event {
	return calendar.Event{
		ID:           id,
		Provider:     provider,
		CalendarID:   "cal-" + id,
		Title:        "event " + id,
		StartDate:    start,
		EndDate:      start.Add(time.Hour),
		AccountEmail: "me@example.com",
	}
}

func TestReplaceEventsOverwritesWholesale(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	gen, err := store.NextGeneration(ctx, "acc-1")
	if err != nil {
		t.Fatalf("NextGeneration failed: %v", err)
	}
	first := []calendar.Event{testEvent("a", calendar.ProviderGoogle, start), testEvent("b", calendar.ProviderGoogle, start)}
	if err := store.ReplaceEvents(ctx, "acc-1", gen, first); err != nil {
		t.Fatalf("ReplaceEvents failed: %v", err)
	}

	// Second sync no longer contains "b": it must disappear from the cache.
	gen2, _ := store.NextGeneration(ctx, "acc-1")
	second := []calendar.Event{testEvent("a", calendar.ProviderGoogle, start)}
	if err := store.ReplaceEvents(ctx, "acc-1", gen2, second); err != nil {
		t.Fatalf("second ReplaceEvents failed: %v", err)
	}

	events, err := store.Events(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "a" {
		t.Errorf("expected only event a after overwrite, got %v", events)
	}
}

func TestReplaceEventsRejectsStaleGeneration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	genOld, _ := store.NextGeneration(ctx, "acc-1")
	genNew, _ := store.NextGeneration(ctx, "acc-1")

	// The newer sync resolves first.
	fresh := []calendar.Event{testEvent("fresh", calendar.ProviderGoogle, start)}
	if err := store.ReplaceEvents(ctx, "acc-1", genNew, fresh); err != nil {
		t.Fatalf("ReplaceEvents(new) failed: %v", err)
	}

	// The older in-flight sync must not clobber it.
	stale := []calendar.Event{testEvent("stale", calendar.ProviderGoogle, start)}
	err := store.ReplaceEvents(ctx, "acc-1", genOld, stale)
	if !errors.Is(err, ErrStaleGeneration) {
		t.Fatalf("expected ErrStaleGeneration, got %v", err)
	}

	events, _ := store.Events(ctx, "acc-1")
	if len(events) != 1 || events[0].ID != "fresh" {
		t.Errorf("stale write leaked into cache: %v", events)
	}
}

func TestReplaceEventsConcurrentWritesKeepNewestGeneration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	// A manual sync racing the scheduled one: every writer holds a reserved
	// generation and they all commit at once. Whatever the interleaving, the
	// highest generation's set must be the one left in the cache.
	const writers = 8
	gens := make([]int64, writers)
	for i := range gens {
		gen, err := store.NextGeneration(ctx, "acc-1")
		if err != nil {
			t.Fatalf("NextGeneration failed: %v", err)
		}
		gens[i] = gen
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range gens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set := []calendar.Event{testEvent(fmt.Sprintf("gen-%d", gens[i]), calendar.ProviderGoogle, start)}
			errs[i] = store.ReplaceEvents(ctx, "acc-1", gens[i], set)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrStaleGeneration) {
			t.Fatalf("writer %d failed: %v", i, err)
		}
	}
	// The top generation can never be stale, so its write must have landed.
	if errs[writers-1] != nil {
		t.Fatalf("newest generation was rejected: %v", errs[writers-1])
	}

	events, err := store.Events(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	want := fmt.Sprintf("gen-%d", gens[writers-1])
	if len(events) != 1 || events[0].ID != want {
		t.Errorf("cache holds %v, want single event %q", events, want)
	}
}

func TestAccountIsolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	gen1, _ := store.NextGeneration(ctx, "google-acc")
	_ = store.ReplaceEvents(ctx, "google-acc", gen1, []calendar.Event{testEvent("g", calendar.ProviderGoogle, start)})
	gen2, _ := store.NextGeneration(ctx, "ms-acc")
	_ = store.ReplaceEvents(ctx, "ms-acc", gen2, []calendar.Event{testEvent("m", calendar.ProviderMicrosoft, start)})

	// Purging one account leaves the other untouched.
	if err := store.PurgeAccount(ctx, "google-acc"); err != nil {
		t.Fatalf("PurgeAccount failed: %v", err)
	}

	googleEvents, _ := store.Events(ctx, "google-acc")
	if len(googleEvents) != 0 {
		t.Errorf("purged account still has events: %v", googleEvents)
	}
	msEvents, _ := store.Events(ctx, "ms-acc")
	if len(msEvents) != 1 || msEvents[0].ID != "m" {
		t.Errorf("other account's cache was affected: %v", msEvents)
	}
}

func TestEventsOnFiltersByStartDay(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	onDay := testEvent("on", calendar.ProviderGoogle, time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC))
	otherDay := testEvent("off", calendar.ProviderGoogle, time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC))
	// Starts late on the 20th and spans midnight: attributed to the 20th only.
	spansMidnight := testEvent("span", calendar.ProviderGoogle, time.Date(2026, 1, 20, 23, 30, 0, 0, time.UTC))

	gen, _ := store.NextGeneration(ctx, "acc-1")
	if err := store.ReplaceEvents(ctx, "acc-1", gen, []calendar.Event{onDay, otherDay, spansMidnight}); err != nil {
		t.Fatalf("ReplaceEvents failed: %v", err)
	}

	events, err := store.EventsOn(ctx, []string{"acc-1"}, day)
	if err != nil {
		t.Fatalf("EventsOn failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events on day, got %d", len(events))
	}
	if events[0].ID != "on" || events[1].ID != "span" {
		t.Errorf("wrong selection or order: %v", events)
	}

	next := day.AddDate(0, 0, 1)
	nextEvents, _ := store.EventsOn(ctx, []string{"acc-1"}, next)
	if len(nextEvents) != 1 || nextEvents[0].ID != "off" {
		t.Errorf("midnight-spanning event must not appear on its end day: %v", nextEvents)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	meta, err := store.Metadata(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.ConnectionStatus != StatusNever {
		t.Errorf("unsynced account status = %q, want %q", meta.ConnectionStatus, StatusNever)
	}

	saved := Metadata{
		AccountID:            "acc-1",
		Provider:             calendar.ProviderGoogle,
		LastSyncedAt:         time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC),
		SyncFrequencyMinutes: 30,
		ConnectionStatus:     StatusOK,
		Generation:           3,
	}
	if err := store.SaveMetadata(ctx, saved); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	got, err := store.Metadata(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Metadata after save failed: %v", err)
	}
	if got.ConnectionStatus != StatusOK || got.Generation != 3 || !got.LastSyncedAt.Equal(saved.LastSyncedAt) {
		t.Errorf("metadata round trip mismatch: %+v", got)
	}
}

func TestEventsEmptyForUnknownAccount(t *testing.T) {
	store := setupTestStore(t)

	events, err := store.Events(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected empty slice, got %v", events)
	}
}
