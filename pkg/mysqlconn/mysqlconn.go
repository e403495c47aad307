// Package mysqlconn is a concrete sqlclient implementation over MySQL,
// using database/sql and go-sql-driver/mysql. It is the one driver this
// module ships a real adapter for; every other dialect mentioned in the
// metadata sidecar (Postgres, SQLite, MSSQL) is reachable through the
// same sqlclient seam but needs its own adapter package, out of scope
// here.
package mysqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/sqlerr"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

// DatabaseNameFromDSN extracts the database name from a go-sql-driver/mysql
// DSN, for callers that need it as the default schema name without
// repeating it on the command line.
func DatabaseNameFromDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysqlconn: parse DSN: %w", err)
	}
	return cfg.DBName, nil
}

const (
	defaultLockWaitTimeout       = 30
	defaultInnodbLockWaitTimeout = 3
)

// Connect opens dsn (a go-sql-driver/mysql DSN) and returns it wrapped as
// a sqlclient.Conn. It matches sqlclient.Connector's shape so it can be
// passed directly as Options.Connector.
//
// Each Conn gets its own single-connection pool rather than sharing one
// *sql.DB across workers: backup and restore already distribute work
// across per-worker Conns, and pinning each to one physical connection
// lets the session-level settings below actually stick for that
// worker's lifetime instead of silently applying to whichever pooled
// connection happens to serve the next query.
func Connect(ctx context.Context, dsn string) (sqlclient.Conn, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, sqlerr.Adapt(err)
	}
	if err := standardizeSession(ctx, db); err != nil {
		db.Close()
		return nil, sqlerr.Adapt(err)
	}
	return &conn{db: db}, nil
}

// standardizeSession applies the same per-connection settings the
// upstream schema-change engine sets before doing any work: UTC time
// zone, an empty SQL mode (so restore can insert values a strict mode
// would reject, mirroring what mysqldump/mysqlimport do), binary
// character set (so column bytes pass through unreinterpreted), and
// bounded lock waits so a restore never blocks indefinitely behind
// another session's lock.
func standardizeSession(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		"SET time_zone='+00:00'",
		"SET sql_mode=''",
		"SET NAMES 'binary'",
		fmt.Sprintf("SET innodb_lock_wait_timeout=%d", defaultInnodbLockWaitTimeout),
		fmt.Sprintf("SET lock_wait_timeout=%d", defaultLockWaitTimeout),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type conn struct {
	db *sql.DB
}

func (c *conn) ServerType() sqlclient.ServerType         { return sqlclient.ServerMySQL }
func (c *conn) QueryFormatter() sqlclient.QueryFormatter { return formatter{} }

func (c *conn) Prepare(ctx context.Context, query string) (sqlclient.Stmt, error) {
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	return &sqlStmt{stmt: stmt}, nil
}

func (c *conn) ExecuteDirect(ctx context.Context, query string, args ...any) (sqlclient.Result, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return sqlclient.Result{}, sqlerr.Adapt(err)
	}
	n, _ := res.RowsAffected()
	return sqlclient.Result{RowsAffected: n}, nil
}

func (c *conn) Begin(ctx context.Context) (sqlclient.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	return &sqlTx{tx: tx}, nil
}

func (c *conn) Close() error { return c.db.Close() }

// sqlTx wraps *sql.Tx to satisfy sqlclient.Tx, which embeds Conn plus
// Commit/Rollback. A transaction reuses the same statement and query
// surface as a plain connection.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) ServerType() sqlclient.ServerType         { return sqlclient.ServerMySQL }
func (t *sqlTx) QueryFormatter() sqlclient.QueryFormatter { return formatter{} }

func (t *sqlTx) Prepare(ctx context.Context, query string) (sqlclient.Stmt, error) {
	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	return &sqlStmt{stmt: stmt}, nil
}

func (t *sqlTx) ExecuteDirect(ctx context.Context, query string, args ...any) (sqlclient.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return sqlclient.Result{}, sqlerr.Adapt(err)
	}
	n, _ := res.RowsAffected()
	return sqlclient.Result{RowsAffected: n}, nil
}

func (t *sqlTx) Begin(context.Context) (sqlclient.Tx, error) {
	return nil, fmt.Errorf("mysqlconn: nested transactions are not supported")
}

func (t *sqlTx) Close() error    { return nil } // a transaction has no connection of its own to close
func (t *sqlTx) Commit() error   { return sqlerr.Adapt(t.tx.Commit()) }
func (t *sqlTx) Rollback() error { return sqlerr.Adapt(t.tx.Rollback()) }

// sqlStmt wraps *sql.Stmt. FetchRow is used by backup (reading a query's
// result set); ExecuteBatch is used by restore (binding one row of
// arguments per call of a bulk INSERT).
type sqlStmt struct {
	stmt *sql.Stmt
	rows *sql.Rows
	cols []*sql.ColumnType
}

func (s *sqlStmt) ExecuteBatch(ctx context.Context, columns [][]chunk.Value, rowCount int) (sqlclient.Result, error) {
	var total int64
	for r := 0; r < rowCount; r++ {
		args := make([]any, len(columns))
		for c := range columns {
			args[c] = valueToArg(columns[c][r])
		}
		res, err := s.stmt.ExecContext(ctx, args...)
		if err != nil {
			return sqlclient.Result{}, sqlerr.Adapt(err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return sqlclient.Result{RowsAffected: total}, nil
}

func (s *sqlStmt) FetchRow(ctx context.Context) (sqlclient.Row, bool, error) {
	if s.rows == nil {
		rows, err := s.stmt.QueryContext(ctx)
		if err != nil {
			return nil, false, sqlerr.Adapt(err)
		}
		cols, err := rows.ColumnTypes()
		if err != nil {
			rows.Close()
			return nil, false, sqlerr.Adapt(err)
		}
		s.rows = rows
		s.cols = cols
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, false, sqlerr.Adapt(err)
		}
		return nil, false, nil
	}

	dest := make([]any, len(s.cols))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, false, sqlerr.Adapt(err)
	}

	row := make(sqlclient.Row, len(dest))
	for i, d := range dest {
		row[i] = scanValueToChunk(*(d.(*any)), s.cols[i])
	}
	return row, true, nil
}

func (s *sqlStmt) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	return s.stmt.Close()
}

// formatter renders MySQL-flavored SQL fragments: backtick-quoted
// identifiers and "?" placeholders.
type formatter struct{}

func (formatter) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (formatter) Placeholder(int) string { return "?" }

func (formatter) SelectWithOffset(schema string, t *sqlclient.Table, orderBy []string, limit, offset int) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = formatter{}.QuoteIdentifier(c.Name)
	}
	order := make([]string, len(orderBy))
	for i, c := range orderBy {
		order[i] = formatter{}.QuoteIdentifier(c)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), tableRef(schema, t.Name))
	if len(order) > 0 {
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(order, ", "))
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)
	return b.String()
}

func tableRef(schemaName, table string) string {
	f := formatter{}
	if schemaName == "" {
		return f.QuoteIdentifier(table)
	}
	return f.QuoteIdentifier(schemaName) + "." + f.QuoteIdentifier(table)
}

// valueToArg converts a chunk.Value back to a driver argument for bulk
// insert binding.
func valueToArg(v chunk.Value) any {
	switch v.Kind {
	case chunk.KindNull:
		return nil
	case chunk.KindBool:
		return v.Bool
	case chunk.KindInt64:
		return v.Int64
	case chunk.KindFloat64:
		return v.Float64
	case chunk.KindText:
		return v.Text
	case chunk.KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

// scanValueToChunk converts one scanned database/sql value (always
// boxed as `any` by the generic *any destination above) into a
// chunk.Value, using the column's declared database type name to
// distinguish binary columns (which arrive as []byte and must stay
// bytes) from textual ones (which arrive as []byte too, but should
// become a string so the chunk writer doesn't treat them as binary).
func scanValueToChunk(v any, col *sql.ColumnType) chunk.Value {
	if v == nil {
		return chunk.NullValue()
	}
	switch val := v.(type) {
	case int64:
		return chunk.Int64Value(val)
	case float64:
		return chunk.Float64Value(val)
	case bool:
		return chunk.BoolValue(val)
	case time.Time:
		return chunk.TextValue(val.Format("2006-01-02 15:04:05.999999999"))
	case string:
		return chunk.TextValue(val)
	case []byte:
		if isBinaryDBType(col.DatabaseTypeName()) {
			return chunk.BytesValue(append([]byte(nil), val...))
		}
		return chunk.TextValue(string(val))
	default:
		return chunk.TextValue(fmt.Sprint(val))
	}
}

func isBinaryDBType(name string) bool {
	switch strings.ToUpper(name) {
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY":
		return true
	default:
		return false
	}
}

// ScanSchema implements sqlclient.SchemaReader for MySQL's
// information_schema: it lists every base table, then reads each
// table's columns, primary key, foreign keys, indexes and row count.
func ScanSchema(ctx context.Context, c sqlclient.Conn, dbName, schemaName string, onScan sqlclient.ScanProgressFunc, onReady sqlclient.TableReadyFunc, include sqlclient.IncludeTablePredicate) error {
	mc, ok := c.(*conn)
	if !ok {
		return fmt.Errorf("mysqlconn: ScanSchema requires a mysqlconn connection")
	}
	if schemaName == "" {
		schemaName = dbName
	}

	names, err := listTables(ctx, mc.db, schemaName)
	if err != nil {
		return err
	}

	for _, name := range names {
		if include != nil && !include(schemaName, name) {
			continue
		}
		onScan(schemaName, name)

		t, err := describeTable(ctx, mc.db, schemaName, name)
		if err != nil {
			return fmt.Errorf("mysqlconn: describe table %s: %w", name, err)
		}
		onReady(t)
	}
	return nil
}

func listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, schemaName)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, sqlerr.Adapt(err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func describeTable(ctx context.Context, db *sql.DB, schemaName, table string) (*sqlclient.Table, error) {
	t := &sqlclient.Table{Schema: schemaName, Name: table}

	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY, EXTRA,
		       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, COLUMN_DEFAULT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schemaName, table)
	if err != nil {
		return nil, sqlerr.Adapt(err)
	}
	for rows.Next() {
		var (
			name, dataType, isNullable, columnKey, extra string
			size, precision, scale                       sql.NullInt64
			defaultValue                                 sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &isNullable, &columnKey, &extra, &size, &precision, &scale, &defaultValue); err != nil {
			rows.Close()
			return nil, sqlerr.Adapt(err)
		}
		decl := sqlclient.ColumnDecl{
			Name:            name,
			Type:            mapColumnType(dataType),
			IsNullable:      isNullable == "YES",
			IsPrimaryKey:    columnKey == "PRI",
			IsAutoIncrement: strings.Contains(extra, "auto_increment"),
			IsUnique:        columnKey == "UNI",
		}
		if size.Valid {
			v := int(size.Int64)
			decl.Size = &v
		}
		if precision.Valid {
			v := int(precision.Int64)
			decl.Precision = &v
		}
		if scale.Valid {
			v := int(scale.Int64)
			decl.Scale = &v
		}
		if defaultValue.Valid {
			v := defaultValue.String
			decl.DefaultValue = &v
		}
		t.Columns = append(t.Columns, decl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Adapt(err)
	}

	if err := loadPrimaryKey(ctx, db, schemaName, table, t); err != nil {
		return nil, err
	}
	if err := loadForeignKeys(ctx, db, schemaName, table, t); err != nil {
		return nil, err
	}
	if err := loadIndexes(ctx, db, schemaName, table, t); err != nil {
		return nil, err
	}

	var rowCount sql.NullInt64
	row := db.QueryRowContext(ctx, `
		SELECT TABLE_ROWS FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, schemaName, table)
	if err := row.Scan(&rowCount); err == nil && rowCount.Valid {
		t.RowCount = uint64(rowCount.Int64)
	}

	return t, nil
}

// loadPrimaryKey reads the primary key's column order from
// KEY_COLUMN_USAGE rather than inferring it from COLUMNS' declaration
// order: a composite key's column order (e.g. PRIMARY KEY (b, a)) need
// not match the order the columns were declared in.
func loadPrimaryKey(ctx context.Context, db *sql.DB, schemaName, table string, t *sqlclient.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, schemaName, table)
	if err != nil {
		return sqlerr.Adapt(err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return sqlerr.Adapt(err)
		}
		t.PrimaryKeys = append(t.PrimaryKeys, name)
	}
	return rows.Err()
}

func loadForeignKeys(ctx context.Context, db *sql.DB, schemaName, table string, t *sqlclient.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, schemaName, table)
	if err != nil {
		return sqlerr.Adapt(err)
	}
	defer rows.Close()

	byName := map[string]*sqlclient.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, column, refTable, refColumn string
		if err := rows.Scan(&name, &column, &refTable, &refColumn); err != nil {
			return sqlerr.Adapt(err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &sqlclient.ForeignKey{Name: name, ReferencedTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	for _, name := range order {
		t.ForeignKeys = append(t.ForeignKeys, *byName[name])
	}
	return rows.Err()
}

func loadIndexes(ctx context.Context, db *sql.DB, schemaName, table string, t *sqlclient.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, NOT NON_UNIQUE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME != 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, schemaName, table)
	if err != nil {
		return sqlerr.Adapt(err)
	}
	defer rows.Close()

	byName := map[string]*sqlclient.IndexDef{}
	var order []string
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return sqlerr.Adapt(err)
		}
		idx, ok := byName[name]
		if !ok {
			idx = &sqlclient.IndexDef{Name: name, IsUnique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	for _, name := range order {
		t.Indexes = append(t.Indexes, *byName[name])
	}
	return rows.Err()
}

func mapColumnType(dataType string) sqlclient.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "bigint", "year":
		return sqlclient.TypeInt64
	case "float", "double":
		return sqlclient.TypeFloat64
	case "decimal", "numeric":
		return sqlclient.TypeDecimal
	case "date":
		return sqlclient.TypeDate
	case "datetime", "timestamp":
		return sqlclient.TypeDateTime
	case "tinyblob", "blob", "mediumblob", "longblob", "binary", "varbinary":
		return sqlclient.TypeBinary
	default:
		return sqlclient.TypeText
	}
}

var (
	_ sqlclient.Conn         = (*conn)(nil)
	_ sqlclient.Tx           = (*sqlTx)(nil)
	_ sqlclient.Stmt         = (*sqlStmt)(nil)
	_ sqlclient.SchemaReader = ScanSchema
)
