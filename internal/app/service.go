package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"lifesprint/api/internal/calendar"
	"lifesprint/api/internal/search"
	"lifesprint/api/internal/store"
	"lifesprint/api/internal/synccache"
	"lifesprint/api/internal/timeline"
	"lifesprint/api/internal/util"
)

type ConnectAccountInput struct {
	Provider     string `json:"provider"`
	AccountEmail string `json:"accountEmail"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ICSURL       string `json:"icsUrl"`
}

type UpdateCalendarInput struct {
	Alias        *string `json:"alias"`
	ContextColor *string `json:"contextColor"`
	IsSelected   *bool   `json:"isSelected"`
}

type TaskInput struct {
	Title                string            `json:"title"`
	Status               string            `json:"status"`
	StoryPoints          int               `json:"storyPoints"`
	EpicID               string            `json:"epicId"`
	SprintID             string            `json:"sprintId"`
	LifeWheelAreaID      string            `json:"lifeWheelAreaId"`
	EisenhowerQuadrantID string            `json:"eisenhowerQuadrantId"`
	Recurrence           *store.Recurrence `json:"recurrence"`
}

type SprintInput struct {
	Title     string `json:"title"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type AreaInput struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
	IconKind string `json:"iconKind"`
}

// AccountStatus pairs a connected account with its sync metadata.
type AccountStatus struct {
	Account store.ProviderAccount `json:"account"`
	Sync    synccache.Metadata    `json:"sync"`
}

var allowedTaskStatuses = map[string]struct{}{
	store.TaskTodo:       {},
	store.TaskInProgress: {},
	store.TaskDone:       {},
	store.TaskBlocked:    {},
	store.TaskDraft:      {},
}

var allowedFrequencies = map[string]struct{}{
	store.FreqDaily:    {},
	store.FreqWeekly:   {},
	store.FreqBiweekly: {},
	store.FreqMonthly:  {},
	store.FreqYearly:   {},
}

var allowedIconKinds = map[string]struct{}{
	store.IconGlyph: {},
	store.IconEmoji: {},
}

type dataStore interface {
	InsertProviderAccount(ctx context.Context, account store.ProviderAccount) error
	GetProviderAccount(ctx context.Context, accountID string) (store.ProviderAccount, error)
	ListProviderAccounts(ctx context.Context) ([]store.ProviderAccount, error)
	DeleteProviderAccount(ctx context.Context, accountID string) error
	GetExternalCalendar(ctx context.Context, id string) (store.ExternalCalendar, error)
	ListExternalCalendars(ctx context.Context) ([]store.ExternalCalendar, error)
	ListAccountCalendars(ctx context.Context, accountID string) ([]store.ExternalCalendar, error)
	UpdateCalendarSettings(ctx context.Context, id string, alias, contextColor *string, isSelected *bool) error
	InsertTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	ListTasks(ctx context.Context, sprintID string) ([]store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) error
	DeleteTask(ctx context.Context, taskID string) error
	InsertSprint(ctx context.Context, sprint store.Sprint) error
	ListSprints(ctx context.Context) ([]store.Sprint, error)
	CurrentSprint(ctx context.Context, day time.Time) (store.Sprint, error)
	InsertLifeWheelArea(ctx context.Context, area store.LifeWheelArea) error
	ListLifeWheelAreas(ctx context.Context) ([]store.LifeWheelArea, error)
	Ping(ctx context.Context) error
}

type eventCache interface {
	Events(ctx context.Context, accountID string) ([]calendar.Event, error)
	EventsOn(ctx context.Context, accountIDs []string, day time.Time) ([]calendar.Event, error)
	Metadata(ctx context.Context, accountID string) (synccache.Metadata, error)
	PurgeAccount(ctx context.Context, accountID string) error
	Ping(ctx context.Context) error
}

type syncRunner interface {
	SyncAll(ctx context.Context) error
	SyncAccount(ctx context.Context, account store.ProviderAccount) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	IndexArea(a search.AreaRecord)
	DeleteTask(id string)
	ReindexAllFromPG(ctx context.Context)
}

type Service struct {
	db     dataStore
	cache  eventCache
	syncer syncRunner
	search searcher
	now    func() time.Time
}

func NewService(db dataStore, cache eventCache, syncer syncRunner, search searcher) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		syncer: syncer,
		search: search,
		now:    time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Service) CachePing(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Bootstrap runs startup work that needs the stores online: a full search
// reindex from Postgres.
func (s *Service) Bootstrap(ctx context.Context) {
	s.search.ReindexAllFromPG(ctx)
}

// Provider accounts

// ConnectAccount registers a provider account and runs its first sync so the
// discovered calendar list comes back in the same call. A failed first sync
// does not fail the connect: the outcome lands in the account's sync status.
func (s *Service) ConnectAccount(ctx context.Context, input ConnectAccountInput) (store.ProviderAccount, []store.ExternalCalendar, error) {
	provider := calendar.ProviderKind(strings.ToLower(strings.TrimSpace(input.Provider)))
	if !calendar.KnownProvider(provider) {
		return store.ProviderAccount{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "provider must be apple, google, or microsoft", nil)
	}
	email := strings.TrimSpace(input.AccountEmail)
	if email == "" {
		return store.ProviderAccount{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "accountEmail is required", nil)
	}
	if provider == calendar.ProviderApple {
		if strings.TrimSpace(input.ICSURL) == "" {
			return store.ProviderAccount{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "icsUrl is required for apple accounts", nil)
		}
	} else if strings.TrimSpace(input.AccessToken) == "" {
		return store.ProviderAccount{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "accessToken is required", nil)
	}

	account := store.ProviderAccount{
		ID:           util.NewID("acct"),
		Provider:     provider,
		AccountEmail: email,
		AccessToken:  strings.TrimSpace(input.AccessToken),
		RefreshToken: strings.TrimSpace(input.RefreshToken),
		ICSURL:       strings.TrimSpace(input.ICSURL),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.InsertProviderAccount(ctx, account); err != nil {
		return store.ProviderAccount{}, nil, fmt.Errorf("insert provider account: %w", err)
	}

	if err := s.syncer.SyncAccount(ctx, account); err != nil {
		log.Printf("app: initial sync for account %s: %v", account.ID, err)
	}

	calendars, err := s.db.ListAccountCalendars(ctx, account.ID)
	if err != nil {
		return store.ProviderAccount{}, nil, fmt.Errorf("list account calendars: %w", err)
	}
	return account, calendars, nil
}

func (s *Service) Accounts(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := s.db.ListProviderAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider accounts: %w", err)
	}
	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		meta, err := s.cache.Metadata(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("read sync metadata: %w", err)
		}
		statuses = append(statuses, AccountStatus{Account: account, Sync: meta})
	}
	return statuses, nil
}

// DisconnectAccount removes the account, its calendars, and its cached
// events. Provider data is never touched.
func (s *Service) DisconnectAccount(ctx context.Context, accountID string) error {
	if _, err := s.db.GetProviderAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.db.DeleteProviderAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete provider account: %w", err)
	}
	if err := s.cache.PurgeAccount(ctx, accountID); err != nil {
		return fmt.Errorf("purge cached events: %w", err)
	}
	return nil
}

// Calendars

func (s *Service) Calendars(ctx context.Context) ([]store.ExternalCalendar, error) {
	return s.db.ListExternalCalendars(ctx)
}

func (s *Service) UpdateCalendar(ctx context.Context, id string, input UpdateCalendarInput) (store.ExternalCalendar, error) {
	if _, err := s.db.GetExternalCalendar(ctx, id); err != nil {
		return store.ExternalCalendar{}, err
	}
	if input.Alias == nil && input.ContextColor == nil && input.IsSelected == nil {
		return store.ExternalCalendar{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "nothing to update", nil)
	}
	if err := s.db.UpdateCalendarSettings(ctx, id, input.Alias, input.ContextColor, input.IsSelected); err != nil {
		return store.ExternalCalendar{}, fmt.Errorf("update calendar settings: %w", err)
	}
	return s.db.GetExternalCalendar(ctx, id)
}

// Sync

func (s *Service) SyncNow(ctx context.Context) error {
	return s.syncer.SyncAll(ctx)
}

func (s *Service) SyncStatus(ctx context.Context) ([]synccache.Metadata, error) {
	accounts, err := s.db.ListProviderAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider accounts: %w", err)
	}
	statuses := make([]synccache.Metadata, 0, len(accounts))
	for _, account := range accounts {
		meta, err := s.cache.Metadata(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("read sync metadata: %w", err)
		}
		if meta.Provider == "" {
			meta.Provider = account.Provider
		}
		statuses = append(statuses, meta)
	}
	return statuses, nil
}

// Timeline

func (s *Service) DayTimeline(ctx context.Context, date string) (timeline.DayView, error) {
	day, err := calendar.ParseDate(date)
	if err != nil {
		return timeline.DayView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be YYYY-MM-DD", nil)
	}

	tasks, err := s.timelineTasks(ctx, day, day)
	if err != nil {
		return timeline.DayView{}, err
	}
	events, err := s.selectedEvents(ctx, &day)
	if err != nil {
		return timeline.DayView{}, err
	}
	return timeline.BuildDay(day, s.now(), tasks, events), nil
}

func (s *Service) WeekTimeline(ctx context.Context, start string) ([]timeline.DayView, error) {
	first, err := calendar.ParseDate(start)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "start must be YYYY-MM-DD", nil)
	}

	tasks, err := s.timelineTasks(ctx, first, first.AddDate(0, 0, 6))
	if err != nil {
		return nil, err
	}
	events, err := s.selectedEvents(ctx, nil)
	if err != nil {
		return nil, err
	}
	return timeline.BuildWeek(first, s.now(), tasks, events), nil
}

// timelineTasks returns the tasks the timeline may show between from and to:
// every recurring task plus the tasks of sprints overlapping the range.
func (s *Service) timelineTasks(ctx context.Context, from, to time.Time) ([]store.Task, error) {
	sprints, err := s.db.ListSprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	active := make(map[string]struct{})
	for _, sprint := range sprints {
		if !sprint.StartDate.After(to) && !sprint.EndDate.Before(from) {
			active[sprint.ID] = struct{}{}
		}
	}

	tasks, err := s.db.ListTasks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	visible := make([]store.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Recurrence != nil {
			visible = append(visible, task)
			continue
		}
		if _, ok := active[task.SprintID]; ok {
			visible = append(visible, task)
		}
	}
	return visible, nil
}

// selectedEvents reads cached events for every account, keeping only events
// from calendars that are currently selected. Deselecting a calendar hides
// its events immediately, ahead of the next sync. day == nil skips the
// per-day filter.
func (s *Service) selectedEvents(ctx context.Context, day *time.Time) ([]calendar.Event, error) {
	accounts, err := s.db.ListProviderAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider accounts: %w", err)
	}

	merged := make([]calendar.Event, 0)
	for _, account := range accounts {
		calendars, err := s.db.ListAccountCalendars(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list account calendars: %w", err)
		}
		selected := make(map[string]struct{})
		for _, cal := range calendars {
			if cal.IsSelected {
				selected[cal.CalendarID] = struct{}{}
			}
		}

		var events []calendar.Event
		if day != nil {
			events, err = s.cache.EventsOn(ctx, []string{account.ID}, *day)
		} else {
			events, err = s.cache.Events(ctx, account.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("read cached events: %w", err)
		}
		for _, event := range events {
			if _, ok := selected[event.CalendarID]; ok {
				merged = append(merged, event)
			}
		}
	}
	return merged, nil
}

// Tasks

func (s *Service) CreateTask(ctx context.Context, input TaskInput) (store.Task, error) {
	task, err := s.taskFromInput(store.Task{ID: util.NewID("task")}, input)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.db.InsertTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("insert task: %w", err)
	}
	created, err := s.db.GetTask(ctx, task.ID)
	if err != nil {
		return store.Task{}, fmt.Errorf("reload task: %w", err)
	}
	s.search.IndexTask(taskRecord(created))
	return created, nil
}

func (s *Service) Tasks(ctx context.Context, sprintID string) ([]store.Task, error) {
	return s.db.ListTasks(ctx, sprintID)
}

func (s *Service) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	return s.db.GetTask(ctx, taskID)
}

func (s *Service) UpdateTask(ctx context.Context, taskID string, input TaskInput) (store.Task, error) {
	existing, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.taskFromInput(existing, input)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.db.UpdateTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("update task: %w", err)
	}
	updated, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, fmt.Errorf("reload task: %w", err)
	}
	s.search.IndexTask(taskRecord(updated))
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.db.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.search.DeleteTask(taskID)
	return nil
}

func (s *Service) taskFromInput(base store.Task, input TaskInput) (store.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = store.TaskTodo
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid task status", map[string]any{"status": status})
	}
	if err := validateRecurrence(input.Recurrence); err != nil {
		return store.Task{}, err
	}

	base.Title = title
	base.Status = status
	base.StoryPoints = input.StoryPoints
	base.EpicID = input.EpicID
	base.SprintID = input.SprintID
	base.LifeWheelAreaID = input.LifeWheelAreaID
	base.EisenhowerQuadrantID = input.EisenhowerQuadrantID
	base.Recurrence = input.Recurrence
	return base, nil
}

func validateRecurrence(r *store.Recurrence) error {
	if r == nil {
		return nil
	}
	if _, ok := allowedFrequencies[r.Frequency]; !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid recurrence frequency", map[string]any{"frequency": r.Frequency})
	}
	switch r.Frequency {
	case store.FreqWeekly, store.FreqBiweekly:
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dayOfWeek must be 0-6", nil)
		}
	case store.FreqMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dayOfMonth must be 1-31", nil)
		}
	case store.FreqYearly:
		if _, err := calendar.ParseDate(r.YearlyDate); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "yearlyDate must be YYYY-MM-DD", nil)
		}
	}
	if r.ScheduledTime != "" {
		if _, err := timeline.ParseClock(r.ScheduledTime); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduledTime must be HH:mm", nil)
		}
	}
	if r.ScheduledEndTime != "" {
		if _, err := timeline.ParseClock(r.ScheduledEndTime); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduledEndTime must be HH:mm", nil)
		}
	}
	return nil
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:              task.ID,
		Title:           task.Title,
		Status:          task.Status,
		SprintID:        task.SprintID,
		LifeWheelAreaID: task.LifeWheelAreaID,
	}
}

// Sprints

func (s *Service) CreateSprint(ctx context.Context, input SprintInput) (store.Sprint, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Sprint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	start, err := calendar.ParseDate(input.StartDate)
	if err != nil {
		return store.Sprint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startDate must be YYYY-MM-DD", nil)
	}
	end, err := calendar.ParseDate(input.EndDate)
	if err != nil {
		return store.Sprint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "endDate must be YYYY-MM-DD", nil)
	}
	if end.Before(start) {
		return store.Sprint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "endDate must not precede startDate", nil)
	}

	sprint := store.Sprint{
		ID:        util.NewID("sprint"),
		Title:     title,
		StartDate: start,
		EndDate:   end,
	}
	if err := s.db.InsertSprint(ctx, sprint); err != nil {
		return store.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	return sprint, nil
}

func (s *Service) Sprints(ctx context.Context) ([]store.Sprint, error) {
	return s.db.ListSprints(ctx)
}

// CurrentSprint returns the sprint containing the given date, or today's when
// date is empty. No active sprint is a NOT_FOUND, not a server error.
func (s *Service) CurrentSprint(ctx context.Context, date string) (store.Sprint, error) {
	day := s.now()
	if date != "" {
		parsed, err := calendar.ParseDate(date)
		if err != nil {
			return store.Sprint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be YYYY-MM-DD", nil)
		}
		day = parsed
	}
	sprint, err := s.db.CurrentSprint(ctx, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Sprint{}, err
		}
		return store.Sprint{}, fmt.Errorf("current sprint: %w", err)
	}
	return sprint, nil
}

// Life wheel areas

func (s *Service) CreateArea(ctx context.Context, input AreaInput) (store.LifeWheelArea, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.LifeWheelArea{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	iconKind := input.IconKind
	if iconKind == "" {
		iconKind = store.IconGlyph
	}
	if _, ok := allowedIconKinds[iconKind]; !ok {
		return store.LifeWheelArea{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "iconKind must be glyph or emoji", nil)
	}

	area := store.LifeWheelArea{
		ID:       util.NewID("area"),
		Name:     name,
		Color:    input.Color,
		Icon:     input.Icon,
		IconKind: iconKind,
	}
	if err := s.db.InsertLifeWheelArea(ctx, area); err != nil {
		return store.LifeWheelArea{}, fmt.Errorf("insert life wheel area: %w", err)
	}
	s.search.IndexArea(search.AreaRecord{ID: area.ID, Name: area.Name, Color: area.Color})
	return area, nil
}

func (s *Service) Areas(ctx context.Context) ([]store.LifeWheelArea, error) {
	return s.db.ListLifeWheelAreas(ctx)
}

// Search

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}
