// Package postgres is the Postgres storage backend (pgx/v5 connection pool).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"synthetl/internal/storage"
)

// Postgres caps bind parameters per statement at 65535.
const maxParams = 65535

/*
Repo implements storage.Repository for Postgres.

Inserts without dedupe columns use the COPY protocol. Inserts with dedupe
columns use multi-row INSERT ... ON CONFLICT (...) DO NOTHING, which needs a
unique constraint or primary key on exactly those columns.
*/
type Repo struct {
	pool    *pgxpool.Pool
	catalog storage.Catalog
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates missing schemas and tables.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		r.catalog.Put(t)
	}
	return nil
}

// InsertRows writes rows to table.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	rows, err := storage.ConvertRows(r.catalog.Get(table), columns, rows)
	if err != nil {
		return 0, err
	}

	if len(dedupeColumns) == 0 {
		n, err := r.pool.CopyFrom(ctx, pgx.Identifier(splitName(table)), columns, pgx.CopyFromRows(rows))
		if err != nil {
			return n, fmt.Errorf("copy into %s: %w", table, err)
		}
		return n, nil
	}

	if _, err := storage.ColumnIndexes(columns, dedupeColumns); err != nil {
		return 0, err
	}

	var total int64
	for _, part := range storage.Chunks(rows, maxParams/max(1, len(columns))) {
		q, args := buildInsertSQL(table, columns, part, dedupeColumns)
		tag, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure and deterministic, so placeholder numbering and the ON CONFLICT
// clause are unit tested without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range dedupeColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

// buildCreateSQL returns the CREATE SCHEMA statement (empty for unqualified
// names) and the CREATE TABLE IF NOT EXISTS statement for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}

	if parts := splitName(t.Name); len(parts) > 1 {
		schemaSQL = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(parts[0]))
	}

	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		defs = append(defs, buildColumnDef(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+identList(t.PrimaryKey)+")")
	}
	for _, con := range t.Constraints {
		defs = append(defs, "UNIQUE ("+identList(con.Columns)+")")
	}

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(defs, ",\n  "))
	return schemaSQL, tableSQL, nil
}

// buildColumnDef renders a single column definition.
func buildColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteByte(' ')
	b.WriteString(pgType(c.Type))
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.References != nil {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", pgTableIdent(c.References.Table), pgIdent(c.References.Column))
	}
	return b.String()
}

func pgType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInteger:
		return "BIGINT"
	case storage.TypeReal:
		return "DOUBLE PRECISION"
	case storage.TypeKey:
		return "VARCHAR(64)"
	default:
		return "TEXT"
	}
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}

// pgIdent double-quotes an identifier, preserving case.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
//
//	"public.fact" -> "public"."fact"
func pgTableIdent(name string) string {
	parts := splitName(name)
	for i := range parts {
		parts[i] = pgIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

func splitName(name string) []string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
