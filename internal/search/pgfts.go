package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across tasks and life_wheel_areas using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Tasks sub-query
	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := "t.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			taskWhere += fmt.Sprintf(" AND t.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		if q.FilterSprintID != "" {
			taskWhere += fmt.Sprintf(" AND t.sprint_id = $%d", argN)
			args = append(args, q.FilterSprintID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.title, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.status, coalesce(t.sprint_id, '') AS sprint_id,
				coalesce(t.life_wheel_area_id, '') AS life_wheel_area_id,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, taskWhere))
	}

	// Life-wheel areas sub-query
	if q.FilterType == "" || q.FilterType == ResultArea {
		areaWhere := "a.fts @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'area'::text AS type, a.id, a.name AS title,
				ts_headline('english', coalesce(a.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS status, ''::text AS sprint_id,
				''::text AS life_wheel_area_id,
				ts_rank(a.fts, %s) AS rank
			FROM life_wheel_areas a
			WHERE %s`, tsQuery, tsQuery, areaWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status, sprint_id, life_wheel_area_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status, &r.SprintID, &r.LifeWheelAreaID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []AreaRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, status, coalesce(sprint_id, ''), coalesce(life_wheel_area_id, '')
		FROM tasks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Status, &t.SprintID, &t.LifeWheelAreaID); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	areaRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, color
		FROM life_wheel_areas
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load areas: %w", err)
	}
	defer areaRows.Close()

	areas := make([]AreaRecord, 0)
	for areaRows.Next() {
		var a AreaRecord
		if err := areaRows.Scan(&a.ID, &a.Name, &a.Color); err != nil {
			return nil, nil, fmt.Errorf("scan area: %w", err)
		}
		areas = append(areas, a)
	}
	if err := areaRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate areas: %w", err)
	}

	return tasks, areas, nil
}
