// Package relquery answers natural-language questions against a
// Postgres database. The live schema is introspected and handed to the
// model, which returns a single SQL statement that is then executed.
package relquery

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
)

const opRunQuery = "run_query"

// rowLimit caps how many rows a SELECT renders. The full count is still
// reported.
const rowLimit = 10

const systemPrompt = "You are a SQL expert. Convert natural language questions " +
	"into a single PostgreSQL statement. Return only the SQL statement without " +
	"any explanation or formatting."

// db is the subset of pgxpool.Pool the adapter uses.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Adapter converts free-text requests to SQL and runs them.
type Adapter struct {
	pool  db
	model llm.Model
}

// New connects to Postgres and returns the adapter. An unset URL
// returns an unavailable adapter rather than an error so the daemon can
// run without a database.
func New(ctx context.Context, cfg config.PostgresConfig, model llm.Model) (*Adapter, error) {
	if !cfg.URL.IsSet() {
		return &Adapter{model: model}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Value())
	if err != nil {
		return nil, fmt.Errorf("relquery: parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("relquery: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relquery: ping postgres: %w", err)
	}

	return &Adapter{pool: pool, model: model}, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *Adapter) Tag() capability.Tag { return capability.TagDatabase }

func (a *Adapter) Available(ctx context.Context) bool {
	return a.pool != nil && a.model != nil
}

func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	if a.pool == nil || a.model == nil {
		return capability.Failure(opRunQuery, "database service is not configured")
	}

	schema, err := a.introspectSchema(ctx)
	if err != nil {
		return capability.Failure(opRunQuery, fmt.Sprintf("schema introspection failed: %v", err))
	}

	raw, err := a.model.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: buildPrompt(schema, req.Text),
	})
	if err != nil {
		return capability.Failure(opRunQuery, fmt.Sprintf("sql generation failed: %v", err))
	}

	stmt := stripFences(raw)
	kind, err := classifyStatement(stmt)
	if err != nil {
		return capability.Failure(opRunQuery, err.Error())
	}

	switch kind {
	case kindQuery:
		return a.runQuery(ctx, stmt)
	default:
		return a.runExec(ctx, stmt)
	}
}

func buildPrompt(schema, text string) string {
	var b strings.Builder
	b.WriteString("Database schema:\n\n")
	b.WriteString(schema)
	b.WriteString("\nNatural language question: ")
	b.WriteString(text)
	return b.String()
}

// introspectSchema reads the public schema's tables and columns so the
// model sees real table and column names.
func (a *Adapter) introspectSchema(ctx context.Context) (string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("query information_schema: %w", err)
	}
	defer rows.Close()

	var tables []tableSchema
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return "", fmt.Errorf("scan column row: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != table {
			tables = append(tables, tableSchema{Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, columnSchema{Name: column, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate column rows: %w", err)
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("no tables in public schema")
	}

	return renderSchema(tables), nil
}

func (a *Adapter) runQuery(ctx context.Context, stmt string) capability.Outcome {
	rows, err := a.pool.Query(ctx, stmt)
	if err != nil {
		return capability.Failure(opRunQuery, fmt.Sprintf("query failed: %v", err))
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	var rendered [][]string
	total := 0
	for rows.Next() {
		total++
		if total > rowLimit {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return capability.Failure(opRunQuery, fmt.Sprintf("read row: %v", err))
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		rendered = append(rendered, cells)
	}
	if err := rows.Err(); err != nil {
		return capability.Failure(opRunQuery, fmt.Sprintf("query failed: %v", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Query executed\n\nSQL: %s\n\n", stmt)
	b.WriteString(renderTable(columns, rendered))
	if total > rowLimit {
		fmt.Fprintf(&b, "\n\n(showing first %d of %d rows)", rowLimit, total)
	} else {
		fmt.Fprintf(&b, "\n\n(%d rows)", total)
	}

	return capability.Outcome{
		Success:   true,
		Operation: opRunQuery,
		Payload:   b.String(),
		Data:      map[string]any{"sql": stmt, "rows": total},
	}
}

func (a *Adapter) runExec(ctx context.Context, stmt string) capability.Outcome {
	tag, err := a.pool.Exec(ctx, stmt)
	if err != nil {
		return capability.Failure(opRunQuery, fmt.Sprintf("statement failed: %v", err))
	}

	affected := tag.RowsAffected()
	payload := fmt.Sprintf("✅ Query executed\n\nSQL: %s\n\nRows affected: %d", stmt, affected)

	return capability.Outcome{
		Success:   true,
		Operation: opRunQuery,
		Payload:   payload,
		Data:      map[string]any{"sql": stmt, "affected": affected},
	}
}
