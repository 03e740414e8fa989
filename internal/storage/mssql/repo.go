// Package mssql is the Microsoft SQL Server storage backend.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"synthetl/internal/storage"
)

// SQL Server has a hard limit of 2100 parameters per statement. We stay
// comfortably below that.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Inserts are multi-row VALUES statements chunked under the parameter limit.
// Dedupe inserts use INSERT ... SELECT ... WHERE NOT EXISTS, with duplicate
// keys inside a batch collapsed first (keep first occurrence), because the
// VALUES source is not deduplicated by the server.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The application
//     must register the "sqlserver" driver elsewhere (storage/all does).
type Repo struct {
	db      *sql.DB
	catalog storage.Catalog
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates missing tables guarded by OBJECT_ID checks.
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

// InsertRows writes rows to table in parameter-bounded chunks.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	rows, err := storage.ConvertRows(r.catalog.Get(table), columns, rows)
	if err != nil {
		return 0, err
	}
	if len(dedupeColumns) > 0 {
		rows, err = dedupeRowsByColumns(rows, columns, dedupeColumns)
		if err != nil {
			return 0, err
		}
	}

	var total int64
	for _, part := range storage.Chunks(rows, maxParams/max(1, len(columns))) {
		var q string
		var args []any
		if len(dedupeColumns) > 0 {
			q, args = buildInsertNotExistsSQL(table, columns, part, dedupeColumns)
		} else {
			q, args = buildBulkInsertSQL(table, columns, part)
		}

		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// dedupeRowsByColumns keeps the first row for each dedupe key, preserving
// order.
func dedupeRowsByColumns(rows [][]any, columns, dedupeColumns []string) ([][]any, error) {
	idx, err := storage.ColumnIndexes(columns, dedupeColumns)
	if err != nil {
		return nil, fmt.Errorf("dedupeRowsByColumns: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		k := storage.DedupeKey(row, idx)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, "", columns)
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(";")
	return b.String(), args
}

func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, "", columns)
	b.WriteString(") SELECT ")
	writeIdentList(&b, "v.", columns)
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	writeIdentList(&b, "", columns)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")

	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(");")

	return b.String(), args
}

func writeIdentList(b *strings.Builder, prefix string, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(mssqlIdent(c))
	}
}

// writeValues writes "(@p1, @p2), (@p3, @p4)" and returns the args.
func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
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
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// buildCreateSQL returns an idempotent CREATE TABLE for t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		def := mssqlIdent(c.Name) + " " + mssqlType(c.Type)
		if c.Nullable {
			def += " NULL"
		} else {
			def += " NOT NULL"
		}
		if c.References != nil {
			def += fmt.Sprintf(" REFERENCES %s (%s)", mssqlTableIdent(c.References.Table), mssqlIdent(c.References.Column))
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		var b strings.Builder
		writeIdentList(&b, "", t.PrimaryKey)
		defs = append(defs, "PRIMARY KEY ("+b.String()+")")
	}
	for _, con := range t.Constraints {
		var b strings.Builder
		writeIdentList(&b, "", con.Columns)
		defs = append(defs, "UNIQUE ("+b.String()+")")
	}

	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing guards CREATE TABLE with an OBJECT_ID check, since
// SQL Server has no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlType maps logical types. Text columns that take part in keys or
// unique constraints must be bounded, so text is NVARCHAR(450), the widest
// indexable NVARCHAR.
func mssqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInteger:
		return "BIGINT"
	case storage.TypeReal:
		return "FLOAT"
	case storage.TypeKey:
		return "NVARCHAR(64)"
	default:
		return "NVARCHAR(450)"
	}
}

// mssqlIdent returns a bracket-quoted identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.fact" -> [dbo].[fact]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
