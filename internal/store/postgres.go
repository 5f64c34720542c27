package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifesprint/api/internal/calendar"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Provider accounts

func (s *PostgresStore) InsertProviderAccount(ctx context.Context, account ProviderAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_accounts (id, provider, account_email, access_token, refresh_token, ics_url, token_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, string(account.Provider), account.AccountEmail, account.AccessToken,
		account.RefreshToken, account.ICSURL, account.TokenExpiry)
	if err != nil {
		return fmt.Errorf("insert provider account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProviderAccount(ctx context.Context, accountID string) (ProviderAccount, error) {
	var account ProviderAccount
	var provider string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, account_email, access_token, refresh_token, ics_url, token_expiry, created_at
		FROM provider_accounts
		WHERE id=$1
	`, accountID).Scan(&account.ID, &provider, &account.AccountEmail, &account.AccessToken,
		&account.RefreshToken, &account.ICSURL, &account.TokenExpiry, &account.CreatedAt)
	if err != nil {
		return ProviderAccount{}, err
	}
	account.Provider = calendar.ProviderKind(provider)
	return account, nil
}

func (s *PostgresStore) ListProviderAccounts(ctx context.Context) ([]ProviderAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, account_email, access_token, refresh_token, ics_url, token_expiry, created_at
		FROM provider_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list provider accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]ProviderAccount, 0)
	for rows.Next() {
		var account ProviderAccount
		var provider string
		if err := rows.Scan(&account.ID, &provider, &account.AccountEmail, &account.AccessToken,
			&account.RefreshToken, &account.ICSURL, &account.TokenExpiry, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan provider account: %w", err)
		}
		account.Provider = calendar.ProviderKind(provider)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider accounts: %w", err)
	}
	return accounts, nil
}

// DeleteProviderAccount removes an account; its calendars cascade away.
func (s *PostgresStore) DeleteProviderAccount(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provider_accounts WHERE id=$1`, accountID)
	if err != nil {
		return fmt.Errorf("delete provider account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// External calendars

// UpsertExternalCalendar records a discovered calendar, preserving existing
// user overrides (alias, color, selection) across re-discovery.
func (s *PostgresStore) UpsertExternalCalendar(ctx context.Context, cal ExternalCalendar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_calendars (id, account_id, provider, calendar_id, display_name, alias, context_color, is_selected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, calendar_id)
		DO UPDATE SET display_name=EXCLUDED.display_name
	`, cal.ID, cal.AccountID, string(cal.Provider), cal.CalendarID, cal.DisplayName,
		nullable(cal.Alias), nullable(cal.ContextColor), cal.IsSelected)
	if err != nil {
		return fmt.Errorf("upsert external calendar: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExternalCalendar(ctx context.Context, id string) (ExternalCalendar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.account_id, c.provider, c.calendar_id, a.account_email,
			c.display_name, COALESCE(c.alias, ''), COALESCE(c.context_color, ''), c.is_selected
		FROM external_calendars c
		JOIN provider_accounts a ON a.id = c.account_id
		WHERE c.id=$1
	`, id)
	return scanCalendar(row)
}

func (s *PostgresStore) ListExternalCalendars(ctx context.Context) ([]ExternalCalendar, error) {
	return s.queryCalendars(ctx, `
		SELECT c.id, c.account_id, c.provider, c.calendar_id, a.account_email,
			c.display_name, COALESCE(c.alias, ''), COALESCE(c.context_color, ''), c.is_selected
		FROM external_calendars c
		JOIN provider_accounts a ON a.id = c.account_id
		ORDER BY a.account_email, c.display_name
	`)
}

func (s *PostgresStore) ListAccountCalendars(ctx context.Context, accountID string) ([]ExternalCalendar, error) {
	return s.queryCalendars(ctx, `
		SELECT c.id, c.account_id, c.provider, c.calendar_id, a.account_email,
			c.display_name, COALESCE(c.alias, ''), COALESCE(c.context_color, ''), c.is_selected
		FROM external_calendars c
		JOIN provider_accounts a ON a.id = c.account_id
		WHERE c.account_id=$1
		ORDER BY c.display_name
	`, accountID)
}

func (s *PostgresStore) queryCalendars(ctx context.Context, query string, args ...any) ([]ExternalCalendar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list external calendars: %w", err)
	}
	defer rows.Close()

	calendars := make([]ExternalCalendar, 0)
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external calendars: %w", err)
	}
	return calendars, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCalendar(row rowScanner) (ExternalCalendar, error) {
	var cal ExternalCalendar
	var provider string
	err := row.Scan(&cal.ID, &cal.AccountID, &provider, &cal.CalendarID, &cal.AccountEmail,
		&cal.DisplayName, &cal.Alias, &cal.ContextColor, &cal.IsSelected)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExternalCalendar{}, err
		}
		return ExternalCalendar{}, fmt.Errorf("scan external calendar: %w", err)
	}
	cal.Provider = calendar.ProviderKind(provider)
	return cal, nil
}

// UpdateCalendarSettings applies user overrides to one calendar. Nil pointers
// leave the corresponding column untouched.
func (s *PostgresStore) UpdateCalendarSettings(ctx context.Context, id string, alias, contextColor *string, isSelected *bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_calendars
		SET alias = COALESCE($2, alias),
			context_color = COALESCE($3, context_color),
			is_selected = COALESCE($4, is_selected)
		WHERE id=$1
	`, id, alias, contextColor, isSelected)
	if err != nil {
		return fmt.Errorf("update calendar settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Tasks

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	recurrence, err := marshalRecurrence(task.Recurrence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, story_points, epic_id, sprint_id, life_wheel_area_id, eisenhower_quadrant_id, recurrence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.Title, task.Status, task.StoryPoints, nullable(task.EpicID), nullable(task.SprintID),
		nullable(task.LifeWheelAreaID), nullable(task.EisenhowerQuadrantID), recurrence)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, story_points, COALESCE(epic_id, ''), COALESCE(sprint_id, ''),
			COALESCE(life_wheel_area_id, ''), COALESCE(eisenhower_quadrant_id, ''), recurrence, created_at, updated_at
		FROM tasks
		WHERE id=$1
	`, taskID)
	return scanTask(row)
}

// ListTasks returns tasks, optionally filtered to one sprint.
func (s *PostgresStore) ListTasks(ctx context.Context, sprintID string) ([]Task, error) {
	query := `
		SELECT id, title, status, story_points, COALESCE(epic_id, ''), COALESCE(sprint_id, ''),
			COALESCE(life_wheel_area_id, ''), COALESCE(eisenhower_quadrant_id, ''), recurrence, created_at, updated_at
		FROM tasks
	`
	var args []any
	if sprintID != "" {
		query += ` WHERE sprint_id=$1`
		args = append(args, sprintID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var recurrence []byte
	err := row.Scan(&task.ID, &task.Title, &task.Status, &task.StoryPoints, &task.EpicID, &task.SprintID,
		&task.LifeWheelAreaID, &task.EisenhowerQuadrantID, &recurrence, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	if len(recurrence) > 0 {
		var r Recurrence
		if err := json.Unmarshal(recurrence, &r); err != nil {
			return Task{}, fmt.Errorf("unmarshal task recurrence: %w", err)
		}
		task.Recurrence = &r
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	recurrence, err := marshalRecurrence(task.Recurrence)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, status=$3, story_points=$4, epic_id=$5, sprint_id=$6,
			life_wheel_area_id=$7, eisenhower_quadrant_id=$8, recurrence=$9, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Title, task.Status, task.StoryPoints, nullable(task.EpicID), nullable(task.SprintID),
		nullable(task.LifeWheelAreaID), nullable(task.EisenhowerQuadrantID), recurrence)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Sprints

func (s *PostgresStore) InsertSprint(ctx context.Context, sprint Sprint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sprints (id, title, start_date, end_date)
		VALUES ($1, $2, $3, $4)
	`, sprint.ID, sprint.Title, sprint.StartDate, sprint.EndDate)
	if err != nil {
		return fmt.Errorf("insert sprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSprints(ctx context.Context) ([]Sprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, start_date, end_date, created_at
		FROM sprints
		ORDER BY start_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	sprints := make([]Sprint, 0)
	for rows.Next() {
		var sprint Sprint
		if err := rows.Scan(&sprint.ID, &sprint.Title, &sprint.StartDate, &sprint.EndDate, &sprint.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, sprint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sprints: %w", err)
	}
	return sprints, nil
}

// CurrentSprint returns the sprint containing the given day.
func (s *PostgresStore) CurrentSprint(ctx context.Context, day time.Time) (Sprint, error) {
	var sprint Sprint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, start_date, end_date, created_at
		FROM sprints
		WHERE start_date <= $1 AND end_date >= $1
		ORDER BY start_date DESC
		LIMIT 1
	`, day).Scan(&sprint.ID, &sprint.Title, &sprint.StartDate, &sprint.EndDate, &sprint.CreatedAt)
	if err != nil {
		return Sprint{}, err
	}
	return sprint, nil
}

// Life wheel areas

func (s *PostgresStore) InsertLifeWheelArea(ctx context.Context, area LifeWheelArea) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO life_wheel_areas (id, name, color, icon, icon_kind)
		VALUES ($1, $2, $3, $4, $5)
	`, area.ID, area.Name, area.Color, area.Icon, area.IconKind)
	if err != nil {
		return fmt.Errorf("insert life wheel area: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLifeWheelAreas(ctx context.Context) ([]LifeWheelArea, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, icon, icon_kind
		FROM life_wheel_areas
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list life wheel areas: %w", err)
	}
	defer rows.Close()

	areas := make([]LifeWheelArea, 0)
	for rows.Next() {
		var area LifeWheelArea
		if err := rows.Scan(&area.ID, &area.Name, &area.Color, &area.Icon, &area.IconKind); err != nil {
			return nil, fmt.Errorf("scan life wheel area: %w", err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate life wheel areas: %w", err)
	}
	return areas, nil
}

func marshalRecurrence(r *Recurrence) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal task recurrence: %w", err)
	}
	return data, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
