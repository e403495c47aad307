// Package sqlclient declares the interface this module consumes from the
// SQL client layer (connections, prepared statements, the dialect query
// formatter, and the schema reader). That layer itself — concrete
// dialect drivers, connection pooling, prepared-statement machinery — is
// out of scope for this module; only the seam is defined here, plus the
// dialect-neutral schema types that cross it.
package sqlclient

import (
	"context"

	"github.com/dbarchive/sqlbackup/pkg/chunk"
)

// ServerType identifies the target dialect. The core treats MSSQL
// specially (forced single-worker concurrency, identity-column
// toggling) and SQLite specially (PRAGMA setup,
// intermediate commits, FK-aware table creation order); everything else
// follows the generic path.
type ServerType uint8

const (
	ServerUnknown ServerType = iota
	ServerMySQL
	ServerPostgres
	ServerSQLite
	ServerMSSQL
)

func (s ServerType) String() string {
	switch s {
	case ServerMySQL:
		return "mysql"
	case ServerPostgres:
		return "postgres"
	case ServerSQLite:
		return "sqlite"
	case ServerMSSQL:
		return "mssql"
	default:
		return "unknown"
	}
}

// ColumnType is a dialect-neutral column type tag, as recorded in the
// metadata sidecar. Unknown values encountered while parsing archived
// metadata fall back to TypeText (with a Warning progress event),
// matching the "unsupported type" handling required for best-effort
// restore.
type ColumnType string

const (
	TypeInt64    ColumnType = "int64"
	TypeFloat64  ColumnType = "float64"
	TypeDecimal  ColumnType = "decimal"
	TypeText     ColumnType = "text"
	TypeBinary   ColumnType = "binary"
	TypeBool     ColumnType = "bool"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
)

// KnownColumnTypes lists every ColumnType this module recognizes.
var KnownColumnTypes = map[ColumnType]bool{
	TypeInt64: true, TypeFloat64: true, TypeDecimal: true, TypeText: true,
	TypeBinary: true, TypeBool: true, TypeDate: true, TypeDateTime: true,
}

// ColumnDecl describes one column's declaration as recorded in, or read
// back from, the metadata sidecar.
type ColumnDecl struct {
	Name            string
	Type            ColumnType
	Size            *int
	Precision       *int
	Scale           *int
	IsPrimaryKey    bool
	IsAutoIncrement bool
	IsNullable      bool
	IsUnique        bool
	DefaultValue    *string
}

// ForeignKey describes one foreign-key constraint.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// IndexDef describes one non-primary-key index.
type IndexDef struct {
	Name     string
	Columns  []string
	IsUnique bool
}

// Table is the dialect-neutral description of one table's schema, as
// produced by the (out-of-scope) schema reader during backup, and as
// reconstructed from metadata.json during restore.
type Table struct {
	Schema      string
	Name        string
	Columns     []ColumnDecl
	ForeignKeys []ForeignKey
	Indexes     []IndexDef
	PrimaryKeys []string // authoritative PK column order
	RowCount    uint64
}

// IsBinaryColumn reports whether column i holds raw bytes, for callers
// building a parallel "is binary" mask the way the original engine does.
func (t *Table) IsBinaryColumn(i int) bool {
	return t.Columns[i].Type == TypeBinary
}

// HasIdentityColumn reports whether any column is an auto-increment
// primary key (MSSQL's IDENTITY), which restore must toggle
// IDENTITY_INSERT for.
func (t *Table) HasIdentityColumn() bool {
	for _, c := range t.Columns {
		if c.IsAutoIncrement && c.IsPrimaryKey {
			return true
		}
	}
	return false
}

// ServerInfo identifies the backed-up server, recorded in metadata.json.
type ServerInfo struct {
	Name        string
	Version     string
	Driver      string
	FullVersion *string
}

// Result is the outcome of a non-row-returning statement execution.
type Result struct {
	RowsAffected int64
}

// Row is a fetched row of chunk.Value cells, one per selected column.
type Row []chunk.Value

// QueryFormatter builds dialect-specific SQL fragments. The core never
// hand-builds dialect-sensitive SQL beyond what this interface exposes.
type QueryFormatter interface {
	QuoteIdentifier(name string) string
	Placeholder(index int) string
	// SelectWithOffset builds a deterministic, ORDER-BY'd, paginated
	// SELECT for table, wrapping decimal columns in CONVERT(VARCHAR, …)
	// where the dialect's driver loses precision otherwise (MSSQL).
	SelectWithOffset(schema string, table *Table, orderBy []string, limit, offset int) string
}

// Stmt is a prepared statement handle.
type Stmt interface {
	// ExecuteBatch binds columnar data (one slice of chunk.Value per
	// column, each of length rowCount) and executes the statement once
	// per row as a single bulk operation.
	ExecuteBatch(ctx context.Context, columns [][]chunk.Value, rowCount int) (Result, error)
	// FetchRow advances a result-set cursor by one row. ok is false at
	// end of results.
	FetchRow(ctx context.Context) (row Row, ok bool, err error)
	Close() error
}

// Conn is one database connection.
type Conn interface {
	ServerType() ServerType
	QueryFormatter() QueryFormatter
	Prepare(ctx context.Context, query string) (Stmt, error)
	ExecuteDirect(ctx context.Context, query string, args ...any) (Result, error)
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an open transaction.
type Tx interface {
	Conn
	Commit() error
	Rollback() error
}

// Connector opens a new Conn for the given DSN, matching the out-of-scope
// SQL client layer's connect(string) → Conn seam.
type Connector func(ctx context.Context, dsn string) (Conn, error)

// ScanProgressFunc is called once per table discovered while scanning the
// schema, before the table's full definition is available.
type ScanProgressFunc func(schema, table string)

// TableReadyFunc is called once a table's full definition has been read.
type TableReadyFunc func(t *Table)

// IncludeTablePredicate decides whether a discovered table should be
// included at all (the table filter, applied by the scanner).
type IncludeTablePredicate func(schema, table string) bool

// SchemaReader enumerates every table in a schema, invoking onScan as
// each table name is discovered and onReady once each table's full
// definition (columns, keys, indexes, row count) has been read. Only
// tables for which include returns true are reported via onReady.
type SchemaReader func(ctx context.Context, conn Conn, db, schema string, onScan ScanProgressFunc, onReady TableReadyFunc, include IncludeTablePredicate) error
