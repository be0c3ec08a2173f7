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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across resources and announcements using
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

	if q.FilterType == "" || q.FilterType == ResultResource {
		resWhere := "r.fts @@ " + tsQuery
		if q.FilterCategory != "" {
			resWhere += fmt.Sprintf(" AND r.category = $%d", argN)
			args = append(args, q.FilterCategory)
			argN++
		}
		if !q.IncludePremium {
			resWhere += " AND r.category <> 'premium'"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'resource'::text AS type, r.id, r.title,
				ts_headline('english', coalesce(r.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.category, r.url,
				ts_rank(r.fts, %s) AS rank
			FROM resources r
			WHERE %s`, tsQuery, tsQuery, resWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnouncement {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'announcement'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS category, ''::text AS url,
				ts_rank(a.fts, %s) AS rank
			FROM announcements a
			WHERE a.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, category, url
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Category, &r.URL); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ResourceRecord, []AnnouncementRecord, error) {
	resRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, category, url
		FROM resources
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load resources: %w", err)
	}
	defer resRows.Close()

	resources := make([]ResourceRecord, 0)
	for resRows.Next() {
		var r ResourceRecord
		if err := resRows.Scan(&r.ID, &r.Title, &r.Description, &r.Category, &r.URL); err != nil {
			return nil, nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := resRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate resources: %w", err)
	}

	annRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description
		FROM announcements
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load announcements: %w", err)
	}
	defer annRows.Close()

	announcements := make([]AnnouncementRecord, 0)
	for annRows.Next() {
		var a AnnouncementRecord
		if err := annRows.Scan(&a.ID, &a.Title, &a.Description); err != nil {
			return nil, nil, fmt.Errorf("scan announcement: %w", err)
		}
		announcements = append(announcements, a)
	}
	if err := annRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate announcements: %w", err)
	}

	return resources, announcements, nil
}
