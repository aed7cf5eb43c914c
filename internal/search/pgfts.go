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

// Search executes a UNION ALL query across documents, rfis, and tenders
// using plainto_tsquery and ts_rank, with ts_headline for snippets. Every
// sub-query is bounded by the caller's project scope.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if len(q.ProjectIDs) == 0 {
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
	args := []any{q.Text, q.ProjectIDs}
	argN := 3

	var subQueries []string

	// Documents sub-query
	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery + " AND d.project_id = ANY($2)"
		if q.FilterProjectID != "" {
			docWhere += fmt.Sprintf(" AND d.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.file_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.project_id,
				''::text AS status,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	// RFIs sub-query
	if q.FilterType == "" || q.FilterType == ResultRFI {
		rfiWhere := "r.fts @@ " + tsQuery + " AND r.project_id = ANY($2)"
		if q.FilterProjectID != "" {
			rfiWhere += fmt.Sprintf(" AND r.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'rfi'::text AS type, r.id, r.subject AS title,
				ts_headline('english', coalesce(r.question, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.project_id,
				r.status,
				ts_rank(r.fts, %s) AS rank
			FROM rfis r
			WHERE %s`, tsQuery, tsQuery, rfiWhere))
	}

	// Tenders sub-query
	if q.FilterType == "" || q.FilterType == ResultTender {
		tenderWhere := "t.fts @@ " + tsQuery + " AND t.project_id = ANY($2)"
		if q.FilterProjectID != "" {
			tenderWhere += fmt.Sprintf(" AND t.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'tender'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id,
				t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tenders t
			WHERE %s`, tsQuery, tsQuery, tenderWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []RFIRecord, []TenderRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, file_name, category, project_id
		FROM documents
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.FileName, &d.Category, &d.ProjectID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	rfiRows, err := p.db.QueryContext(ctx, `
		SELECT id, number, subject, question, answer, project_id, status
		FROM rfis
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load rfis: %w", err)
	}
	defer rfiRows.Close()

	rfis := make([]RFIRecord, 0)
	for rfiRows.Next() {
		var r RFIRecord
		if err := rfiRows.Scan(&r.ID, &r.Number, &r.Subject, &r.Question, &r.Answer, &r.ProjectID, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan rfi: %w", err)
		}
		rfis = append(rfis, r)
	}
	if err := rfiRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate rfis: %w", err)
	}

	tenderRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, project_id, status
		FROM tenders
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tenders: %w", err)
	}
	defer tenderRows.Close()

	tenders := make([]TenderRecord, 0)
	for tenderRows.Next() {
		var t TenderRecord
		if err := tenderRows.Scan(&t.ID, &t.Title, &t.Description, &t.ProjectID, &t.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan tender: %w", err)
		}
		tenders = append(tenders, t)
	}
	if err := tenderRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tenders: %w", err)
	}

	return documents, rfis, tenders, nil
}
