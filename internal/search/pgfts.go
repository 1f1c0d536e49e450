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

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; the site cannot serve anything without Postgres.
func (p *PgFTS) Healthy() bool {
	return true
}

// contentText unwraps values stored as a serialized JSON string.
const contentText = `CASE WHEN jsonb_typeof(c.value) = 'string' THEN c.value #>> '{}' ELSE c.value::text END`

// Search runs one UNION ALL over site_content and active gallery_images,
// ranked with ts_rank and snippeted with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('english', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultContent {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'content'::text AS type, c.key AS id,
				coalesce(substring(`+contentText+` from '"title": ?"([^"]*)"'), c.key) AS title,
				ts_headline('english', `+contentText+`, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS image_url,
				ts_rank(c.fts, %s) AS rank
			FROM site_content c
			WHERE c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultImage {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'image'::text AS type, g.id::text AS id, g.title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.image_url,
				ts_rank(g.fts, %s) AS rank
			FROM gallery_images g
			WHERE g.is_active AND g.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, image_url
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ImageURL); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}
