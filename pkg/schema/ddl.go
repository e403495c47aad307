// Package schema generates dialect-aware DDL from the metadata sidecar's
// dialect-neutral table descriptions, and orders table creation so
// SQLite's on-CREATE foreign key validation is satisfied.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/mysql"

	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

// FormatTableName renders the schema-qualified table name for serverType.
// SQLite has no schema concept, so the schema qualifier is always
// dropped for it.
func FormatTableName(schema, table string, serverType sqlclient.ServerType) string {
	if serverType == sqlclient.ServerSQLite || schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnTypeSQL maps a dialect-neutral ColumnType to a concrete column
// type keyword. Decimal columns are created as DECIMAL for every dialect,
// MSSQL included; no text conversion is applied to them here or at
// insert time.
func columnTypeSQL(c sqlclient.ColumnDecl, serverType sqlclient.ServerType) string {
	switch c.Type {
	case sqlclient.TypeInt64:
		return "BIGINT"
	case sqlclient.TypeFloat64:
		return "DOUBLE PRECISION"
	case sqlclient.TypeDecimal:
		if c.Precision != nil && c.Scale != nil {
			return fmt.Sprintf("DECIMAL(%d,%d)", *c.Precision, *c.Scale)
		}
		return "DECIMAL"
	case sqlclient.TypeBool:
		if serverType == sqlclient.ServerMSSQL {
			return "BIT"
		}
		return "BOOLEAN"
	case sqlclient.TypeDate:
		return "DATE"
	case sqlclient.TypeDateTime:
		return "DATETIME"
	case sqlclient.TypeBinary:
		if size := c.Size; size != nil && *size > 0 {
			return "VARBINARY(" + strconv.Itoa(*size) + ")"
		}
		if serverType == sqlclient.ServerMSSQL {
			return "VARBINARY(MAX)"
		}
		return "BLOB"
	case sqlclient.TypeText:
		fallthrough
	default:
		if size := c.Size; size != nil && *size > 0 {
			return "VARCHAR(" + strconv.Itoa(*size) + ")"
		}
		return "TEXT"
	}
}

// BuildCreateTableSQL renders a CREATE TABLE statement for t. Foreign
// keys are only inlined when includeForeignKeys is true (SQLite's
// dependency-ordered creation inlines them; every other dialect adds
// them later via ALTER TABLE, once every table exists).
func BuildCreateTableSQL(schema string, t *sqlclient.Table, serverType sqlclient.ServerType, includeForeignKeys bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", FormatTableName(schema, t.Name, serverType))

	lines := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		line := "  " + quoteIdent(c.Name) + " " + columnTypeSQL(c, serverType)
		if !c.IsNullable {
			line += " NOT NULL"
		}
		if c.IsAutoIncrement {
			switch serverType {
			case sqlclient.ServerMSSQL:
				line += " IDENTITY(1,1)"
			case sqlclient.ServerSQLite:
				line += " AUTOINCREMENT"
			default:
				line += " AUTO_INCREMENT"
			}
		}
		if c.DefaultValue != nil {
			line += " DEFAULT " + *c.DefaultValue
		}
		lines = append(lines, line)
	}

	if len(t.PrimaryKeys) > 0 {
		quoted := make([]string, len(t.PrimaryKeys))
		for i, pk := range t.PrimaryKeys {
			quoted[i] = quoteIdent(pk)
		}
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	for _, c := range t.Columns {
		if c.IsUnique && !isSinglePK(t, c.Name) {
			lines = append(lines, fmt.Sprintf("  UNIQUE (%s)", quoteIdent(c.Name)))
		}
	}

	if includeForeignKeys {
		for _, fk := range t.ForeignKeys {
			lines = append(lines, "  "+foreignKeyClause(fk))
		}
	}

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func isSinglePK(t *sqlclient.Table, col string) bool {
	return len(t.PrimaryKeys) == 1 && t.PrimaryKeys[0] == col
}

func foreignKeyClause(fk sqlclient.ForeignKey) string {
	cols := make([]string, len(fk.Columns))
	for i, c := range fk.Columns {
		cols[i] = quoteIdent(c)
	}
	refCols := make([]string, len(fk.ReferencedColumns))
	for i, c := range fk.ReferencedColumns {
		refCols[i] = quoteIdent(c)
	}
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteIdent(fk.Name), strings.Join(cols, ", "), quoteIdent(fk.ReferencedTable), strings.Join(refCols, ", "))
}

// BuildAddForeignKeySQL renders one ALTER TABLE ... ADD CONSTRAINT ...
// FOREIGN KEY statement, for dialects that add FKs after every table has
// been created.
func BuildAddForeignKeySQL(schema, table string, fk sqlclient.ForeignKey, serverType sqlclient.ServerType) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", FormatTableName(schema, table, serverType), foreignKeyClause(fk))
}

// BuildCreateIndexSQL renders one CREATE INDEX statement. SQLite has no
// schema concept so the table name is never schema-qualified for it.
func BuildCreateIndexSQL(schema, table string, idx sqlclient.IndexDef, serverType sqlclient.ServerType) string {
	unique := ""
	if idx.IsUnique {
		unique = "UNIQUE "
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quoteIdent(c)
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quoteIdent(idx.Name), FormatTableName(schema, table, serverType), strings.Join(cols, ", "))
}

// BuildDropTableSQL renders a DROP TABLE IF EXISTS statement.
func BuildDropTableSQL(schema, table string, serverType sqlclient.ServerType) string {
	return "DROP TABLE IF EXISTS " + FormatTableName(schema, table, serverType)
}

// Validate parses sql with the TiDB grammar as a syntax sanity check
// before it is sent to the server, in ANSI_QUOTES mode because the
// generated DDL quotes identifiers with double quotes. This module
// generates DDL for multiple dialects and TiDB's parser is
// MySQL-compatible, so restore only lets a failed check block MySQL
// targets.
func Validate(sql string) error {
	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes)
	_, _, err := p.Parse(sql, "", "")
	if err != nil {
		return fmt.Errorf("schema: generated DDL failed parse check: %w", err)
	}
	return nil
}

// ComputeTableCreationOrder orders tables for CREATE TABLE. SQLite
// validates foreign key references at CREATE TABLE time even with
// foreign_keys pragma off, so referenced tables must already exist;
// every other dialect adds FKs later via ALTER TABLE and can use any
// deterministic order. A circular dependency falls back to appending the
// remaining tables in name order and lets the database reject what it
// must.
func ComputeTableCreationOrder(tables map[string]*sqlclient.Table, isSQLite bool) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	if !isSQLite {
		return names
	}

	remaining := make(map[string]bool, len(names))
	for _, n := range names {
		remaining[n] = true
	}

	var order []string
	for len(remaining) > 0 {
		progressed := false
		for _, name := range names {
			if !remaining[name] {
				continue
			}
			if canCreate(tables[name], name, remaining) {
				order = append(order, name)
				delete(remaining, name)
				progressed = true
			}
		}
		if !progressed {
			leftover := make([]string, 0, len(remaining))
			for _, n := range names {
				if remaining[n] {
					leftover = append(leftover, n)
				}
			}
			order = append(order, leftover...)
			break
		}
	}
	return order
}

func canCreate(t *sqlclient.Table, name string, remaining map[string]bool) bool {
	for _, fk := range t.ForeignKeys {
		if fk.ReferencedTable != name && remaining[fk.ReferencedTable] {
			return false
		}
	}
	return true
}
