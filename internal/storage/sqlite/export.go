// Package sqlite persists a merged dataset snapshot into a local SQLite
// file so the joined table can be inspected with ordinary SQL tooling.
//
// The export is a replace-style snapshot: each run drops and recreates the
// data table, then records one row of merge statistics alongside it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nfpipe/internal/merge"
	"nfpipe/internal/schema"
	"nfpipe/internal/table"
)

// insertBatchRows caps how many rows go into one multi-row INSERT. SQLite
// limits bound parameters per statement, so batches stay well under it even
// for wide tables.
const insertBatchRows = 100

// Exporter writes snapshots into one SQLite database.
type Exporter struct {
	db *sql.DB
}

// Open connects to the SQLite database at dsn (a file path works) and
// verifies the connection.
func Open(ctx context.Context, dsn string) (*Exporter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Exporter{db: db}, nil
}

// Close releases the database handle.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// Export writes the merged table into tableName and appends one row of merge
// statistics to "<tableName>_stats".
//
// What it does:
//   - Drops and recreates tableName from the table's column list, so repeated
//     exports of the same archive replace the previous snapshot.
//   - Column types come from the canonical schema where the column is
//     declared, otherwise from the first non-nil cell: REAL for numbers,
//     TEXT for everything else. Dates are stored as RFC 3339 text.
//   - Inserts rows in multi-row batches inside one transaction.
func (e *Exporter) Export(ctx context.Context, tableName string, t *table.Table, stats merge.Stats) error {
	if len(t.Cols) == 0 {
		return fmt.Errorf("export %s: table has no columns", tableName)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", sqlIdent(tableName))); err != nil {
		return fmt.Errorf("drop %s: %w", tableName, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateTableSQL(tableName, t)); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	if err := insertRows(ctx, tx, tableName, t); err != nil {
		return err
	}
	if err := insertStats(ctx, tx, tableName+"_stats", stats); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// buildCreateTableSQL renders the CREATE TABLE statement for the snapshot.
func buildCreateTableSQL(tableName string, t *table.Table) string {
	cols := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		cols[i] = fmt.Sprintf("%s %s", sqlIdent(c), columnType(t, i))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		sqlIdent(tableName), strings.Join(cols, ",\n  "))
}

// columnType picks the SQLite type affinity for one column: the canonical
// schema wins, otherwise the first non-nil cell decides.
func columnType(t *table.Table, col int) string {
	if f, ok := schema.Merged().FieldByName(t.Cols[col]); ok {
		if f.Kind == schema.Numeric {
			return "REAL"
		}
		return "TEXT"
	}
	for _, row := range t.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		if _, isNum := row[col].(float64); isNum {
			return "REAL"
		}
		return "TEXT"
	}
	return "TEXT"
}

func insertRows(ctx context.Context, tx *sql.Tx, tableName string, t *table.Table) error {
	idents := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		idents[i] = sqlIdent(c)
	}
	rowPlaceholder := "(" + strings.TrimRight(strings.Repeat("?,", len(t.Cols)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", sqlIdent(tableName), strings.Join(idents, ", "))

	for start := 0; start < len(t.Rows); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		batch := t.Rows[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(t.Cols))
		for i, row := range batch {
			placeholders[i] = rowPlaceholder
			for ci := range t.Cols {
				var cell any
				if ci < len(row) {
					cell = row[ci]
				}
				args = append(args, sqlValue(cell))
			}
		}
		if _, err := tx.ExecContext(ctx, prefix+strings.Join(placeholders, ", "), args...); err != nil {
			return fmt.Errorf("insert %s rows %d-%d: %w", tableName, start, end, err)
		}
	}
	return nil
}

func insertStats(ctx context.Context, tx *sql.Tx, tableName string, stats merge.Stats) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  exported_at TEXT,
  notes_rows INTEGER,
  items_rows INTEGER,
  merged_rows INTEGER,
  keys TEXT
);`, sqlIdent(tableName))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (exported_at, notes_rows, items_rows, merged_rows, keys) VALUES (?, ?, ?, ?, ?)",
		sqlIdent(tableName))
	_, err := tx.ExecContext(ctx, q,
		formatSQLiteTime(time.Now().UTC()),
		stats.NotesRows, stats.ItemsRows, stats.MergedRows,
		strings.Join(stats.Keys, "+"))
	if err != nil {
		return fmt.Errorf("insert %s: %w", tableName, err)
	}
	return nil
}

// sqlValue maps a table cell onto a driver-friendly value. Times become
// RFC 3339 text so the column sorts and compares correctly in SQL.
func sqlValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return formatSQLiteTime(ts)
	}
	return v
}

// formatSQLiteTime renders timestamps in a lexicographically sortable form.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// sqlIdent quotes an identifier for SQLite, doubling embedded quotes.
func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
