// Package sqlite is the SQLite storage backend (pure-Go modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"synthetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - Dedupe uses INSERT OR IGNORE, which needs a UNIQUE or PRIMARY KEY
//     constraint covering the dedupe columns.
//   - Foreign keys are only enforced with PRAGMA foreign_keys=ON, which is
//     per connection, so the pool is pinned to one connection. That also keeps
//     ":memory:" databases alive for the life of the Repo.
type Repo struct {
	db      *sql.DB
	catalog storage.Catalog
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates missing tables. It is idempotent.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		r.catalog.Put(t)
	}
	return nil
}

// InsertRows inserts rows inside one transaction with a prepared statement.
// Rows ignored by OR IGNORE do not count.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (n int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := storage.ColumnIndexes(columns, dedupeColumns); err != nil {
		return 0, err
	}
	rows, err = storage.ConvertRows(r.catalog.Get(table), columns, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(table, columns, len(dedupeColumns) > 0))
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		k, _ := res.RowsAffected()
		n += k
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Join(fmt.Errorf("commit %s", table), err)
	}
	return n, nil
}

// buildInsertSQL returns a single-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, ignore bool) string {
	var b strings.Builder
	b.WriteString("INSERT ")
	if ignore {
		b.WriteString("OR IGNORE ")
	}
	b.WriteString("INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ident(c))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	b.WriteString(");")
	return b.String()
}

// buildCreateSQL returns CREATE TABLE IF NOT EXISTS for t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		def := ident(c.Name) + " " + sqliteType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.References != nil {
			// SQLite references may not be schema-qualified.
			def += fmt.Sprintf(" REFERENCES %s (%s)", ident(lastPart(c.References.Table)), ident(c.References.Column))
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+identList(t.PrimaryKey)+")")
	}
	for _, con := range t.Constraints {
		defs = append(defs, "UNIQUE ("+identList(con.Columns)+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func sqliteType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInteger:
		return "INTEGER"
	case storage.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}

func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = ident(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func lastPart(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return strings.TrimSpace(name[i+1:])
	}
	return name
}
