package usage

import (
	"context"
	"database/sql"
	"fmt"
)

// MySQLReader implements Reader for MySQL databases.
type MySQLReader struct {
	db *sql.DB
}

// NewMySQLReader creates a new MySQL usage reader.
func NewMySQLReader(db *sql.DB) (*MySQLReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &MySQLReader{db: db}, nil
}

// Summary implements Reader.
func (r *MySQLReader) Summary(ctx context.Context, params QueryParams) (*Summary, error) {
	var conditions []string
	var args []any
	if !params.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.Since.UTC())
	}
	if params.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, params.Model)
	}

	query := "SELECT model, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0) " +
		"FROM `usage`" + whereClause(conditions) + " GROUP BY model ORDER BY model"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var models []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Requests, &m.PromptTokens, &m.CompletionTokens, &m.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary row: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary rows: %w", err)
	}

	return summarize(models), nil
}
