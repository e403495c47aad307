// Package restore implements the restore pipeline: recreate a schema
// from the metadata sidecar, replay every data chunk back through a
// bulk-insert batch manager, then add foreign keys and indexes once
// every table is populated.
package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/dbarchive/sqlbackup/pkg/archivezip"
	"github.com/dbarchive/sqlbackup/pkg/batch"
	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/metadata"
	"github.com/dbarchive/sqlbackup/pkg/progress"
	"github.com/dbarchive/sqlbackup/pkg/queue"
	"github.com/dbarchive/sqlbackup/pkg/retry"
	"github.com/dbarchive/sqlbackup/pkg/schema"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
	"github.com/dbarchive/sqlbackup/pkg/tablefilter"
)

// Settings configures the bulk-insert path.
type Settings struct {
	BatchSize int
	// MaxRowsPerCommit, if non-zero, makes SQLite targets commit and
	// reopen a transaction partway through a chunk instead of holding
	// one transaction open for the whole chunk. Ignored for every other
	// dialect.
	MaxRowsPerCommit int
	// CacheSizeKB sets SQLite's page cache size in KB for the duration of
	// the restore. Ignored for every other dialect.
	CacheSizeKB int
}

// DefaultSettings mirrors backup's default page size as the insert batch
// size, with intermediate commits disabled.
func DefaultSettings() Settings {
	return Settings{BatchSize: 1000}
}

// Options is everything Run needs to perform one restore.
type Options struct {
	InputPath    string
	Connector    sqlclient.Connector
	DSN          string
	Concurrency  int
	Progress     progress.Manager
	Schema       string // overrides the archive's recorded schema name
	TableFilter  string
	Retry        retry.Settings
	Settings     Settings
}

type checksumsDoc struct {
	Algorithm string            `json:"algorithm"`
	Files     map[string]string `json:"files"`
}

// Run performs a complete restore from opts.InputPath: it recreates every
// selected table's schema, replays its data chunks, then adds foreign
// keys and secondary indexes.
func Run(ctx context.Context, opts Options) error {
	prog := opts.Progress
	if prog == nil {
		prog = &progress.NullManager{}
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	f, err := os.Open(opts.InputPath)
	if err != nil {
		return fmt.Errorf("restore: open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("restore: stat archive: %w", err)
	}
	archive, err := archivezip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("restore: open archive: %w", err)
	}

	metaBytes, err := archive.Entry(archivezip.MetadataEntryName)
	if err != nil {
		return fmt.Errorf("restore: read metadata: %w", err)
	}
	allTables, archiveSchema, err := metadata.Parse(metaBytes, prog)
	if err != nil {
		return fmt.Errorf("restore: parse metadata: %w", err)
	}

	schemaName := opts.Schema
	if schemaName == "" {
		schemaName = archiveSchema
	}

	filter := tablefilter.Parse(opts.TableFilter)
	tables := make(map[string]*sqlclient.Table, len(allTables))
	for name, t := range allTables {
		if filter.MatchesAll() || filter.Matches(schemaName, name) {
			tables[name] = t
		}
	}

	checksums := map[string]string{}
	if sumBytes, err := archive.Entry(archivezip.ChecksumsEntryName); err == nil {
		var doc checksumsDoc
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(sumBytes, &doc); err != nil {
			prog.Update(progress.Event{State: progress.Warning, Message: fmt.Sprintf("restore: ignoring unreadable checksums: %v", err)})
		} else {
			checksums = doc.Files
		}
	}

	mainConn, err := opts.Connector(ctx, opts.DSN)
	if err != nil {
		return fmt.Errorf("restore: connect: %w", err)
	}
	defer mainConn.Close()

	serverType := mainConn.ServerType()
	if serverType == sqlclient.ServerMSSQL {
		concurrency = 1
	}
	isSQLite := serverType == sqlclient.ServerSQLite

	order := schema.ComputeTableCreationOrder(tables, isSQLite)
	var maxNameLen int
	for _, name := range order {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}
	prog.SetMaxTableNameLength(maxNameLen)

	if err := recreateSchema(ctx, mainConn, schemaName, tables, order, serverType, isSQLite); err != nil {
		return err
	}

	entries, totalChunks, err := planDataEntries(archive, tables)
	if err != nil {
		return err
	}

	var totalRows uint64
	for _, t := range tables {
		totalRows += t.RowCount
	}
	prog.SetTotalItems(totalRows)

	if err := runWorkers(ctx, opts, prog, concurrency, entries, totalChunks, archive, tables, checksums, schemaName, serverType); err != nil {
		return err
	}

	if !isSQLite {
		applyDatabaseConstraints(ctx, mainConn, schemaName, tables, order, serverType, prog)
	}
	restoreIndexes(ctx, mainConn, schemaName, tables, order, serverType, prog)

	prog.AllDone()
	return nil
}

// recreateSchema drops and recreates every selected table, in dependency
// order. SQLite inlines foreign keys at CREATE TABLE time (it validates
// references immediately); every other dialect adds them later via
// applyDatabaseConstraints, once every table exists.
func recreateSchema(ctx context.Context, conn sqlclient.Conn, schemaName string, tables map[string]*sqlclient.Table, order []string, serverType sqlclient.ServerType, isSQLite bool) error {
	for _, name := range order {
		t := tables[name]
		if _, err := conn.ExecuteDirect(ctx, schema.BuildDropTableSQL(schemaName, name, serverType)); err != nil {
			return fmt.Errorf("restore: drop table %s: %w", name, err)
		}
		ddl := schema.BuildCreateTableSQL(schemaName, t, serverType, isSQLite)
		if err := schema.Validate(ddl); err != nil && serverType == sqlclient.ServerMySQL {
			return fmt.Errorf("restore: generated DDL for %s: %w", name, err)
		}
		if _, err := conn.ExecuteDirect(ctx, ddl); err != nil {
			return fmt.Errorf("restore: create table %s: %w", name, err)
		}
	}
	return nil
}

// applyDatabaseConstraints adds every table's foreign keys via ALTER
// TABLE, once every table has been created. A failing constraint is
// reported as an Error event but does not abort the restore; the
// upstream engine treats a missing constraint as a degraded restore, not
// a fatal one.
func applyDatabaseConstraints(ctx context.Context, conn sqlclient.Conn, schemaName string, tables map[string]*sqlclient.Table, order []string, serverType sqlclient.ServerType, prog progress.Manager) {
	for _, name := range order {
		t := tables[name]
		for _, fk := range t.ForeignKeys {
			sql := schema.BuildAddForeignKeySQL(schemaName, name, fk, serverType)
			if _, err := conn.ExecuteDirect(ctx, sql); err != nil {
				prog.Update(progress.Event{State: progress.Error, TableName: name, Message: fmt.Sprintf("adding foreign key %s: %v", fk.Name, err)})
			}
		}
	}
}

// restoreIndexes creates every table's secondary indexes. A failing
// index is reported as a Warning, not fatal, matching applyDatabaseConstraints'
// best-effort policy.
func restoreIndexes(ctx context.Context, conn sqlclient.Conn, schemaName string, tables map[string]*sqlclient.Table, order []string, serverType sqlclient.ServerType, prog progress.Manager) {
	for _, name := range order {
		t := tables[name]
		for _, idx := range t.Indexes {
			sql := schema.BuildCreateIndexSQL(schemaName, name, idx, serverType)
			if _, err := conn.ExecuteDirect(ctx, sql); err != nil {
				prog.Update(progress.Event{State: progress.Warning, TableName: name, Message: fmt.Sprintf("creating index %s: %v", idx.Name, err)})
			}
		}
	}
}

// dataEntry is one archive entry's parsed identity: which table it
// belongs to and its zero-based chunk index within that table.
type dataEntry struct {
	name       string
	table      string
	chunkIndex int
}

// planDataEntries collects and sorts every data/ entry that belongs to a
// selected table, and counts chunks per table so progress can report a
// per-table Finished event once the last chunk lands.
func planDataEntries(archive *archivezip.Reader, tables map[string]*sqlclient.Table) ([]dataEntry, map[string]int64, error) {
	var entries []dataEntry
	totals := map[string]int64{}
	for _, name := range archive.Names() {
		if !strings.HasPrefix(name, "data/") {
			continue
		}
		table, chunkIndex, err := parseDataEntryName(name)
		if err != nil {
			return nil, nil, fmt.Errorf("restore: %w", err)
		}
		if _, ok := tables[table]; !ok {
			continue // filtered out or unknown: skip silently
		}
		entries = append(entries, dataEntry{name: name, table: table, chunkIndex: chunkIndex})
		totals[table]++
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].table != entries[j].table {
			return entries[i].table < entries[j].table
		}
		return entries[i].chunkIndex < entries[j].chunkIndex
	})
	return entries, totals, nil
}

func parseDataEntryName(name string) (table string, chunkIndex int, err error) {
	rest := strings.TrimPrefix(name, "data/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed data entry %q", name)
	}
	table = parts[0]
	file := strings.TrimPrefix(strings.TrimSuffix(parts[1], ".msgpack"), "chunk_")
	idx, err := strconv.Atoi(file)
	if err != nil {
		return "", 0, fmt.Errorf("malformed data entry %q: %w", name, err)
	}
	return table, idx, nil
}

// tableTracker counts restored chunks and whether any of them failed,
// so the last chunk for a table can report a single Finished or Error
// progress event for it.
type tableTracker struct {
	total     int64
	processed int64
	failed    int32
	rows      uint64
}

func runWorkers(
	ctx context.Context,
	opts Options,
	prog progress.Manager,
	concurrency int,
	entries []dataEntry,
	totalChunks map[string]int64,
	archive *archivezip.Reader,
	tables map[string]*sqlclient.Table,
	checksums map[string]string,
	schemaName string,
	serverType sqlclient.ServerType,
) error {
	trackers := make(map[string]*tableTracker, len(totalChunks))
	for name, total := range totalChunks {
		trackers[name] = &tableTracker{total: total}
		prog.Update(progress.Event{State: progress.Started, TableName: name, TotalRows: rowCountPtr(tables[name])})
	}

	conns := make([]sqlclient.Conn, concurrency)
	for i := 0; i < concurrency; i++ {
		label := fmt.Sprintf("Worker %d", i+1)
		err := retry.On(ctx, opts.Retry, prog, label, func() error {
			c, err := opts.Connector(ctx, opts.DSN)
			if err != nil {
				return err
			}
			conns[i] = c
			return nil
		})
		if err != nil {
			return fmt.Errorf("restore: create worker connection %d: %w", i+1, err)
		}
	}
	defer func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}()

	dataQueue := queue.New[dataEntry]()
	for _, e := range entries {
		dataQueue.Push(e)
	}
	dataQueue.MarkFinished()

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		conn := conns[i]
		group.Go(func() error {
			return restoreWorker(gctx, dataQueue, conn, archive, tables, checksums, trackers, opts, prog, schemaName, serverType)
		})
	}
	return group.Wait()
}

func restoreWorker(
	ctx context.Context,
	dataQueue *queue.Queue[dataEntry],
	conn sqlclient.Conn,
	archive *archivezip.Reader,
	tables map[string]*sqlclient.Table,
	checksums map[string]string,
	trackers map[string]*tableTracker,
	opts Options,
	prog progress.Manager,
	schemaName string,
	serverType sqlclient.ServerType,
) error {
	if serverType == sqlclient.ServerSQLite {
		if err := applySQLitePragmas(ctx, conn, opts.Settings.CacheSizeKB); err != nil {
			return fmt.Errorf("restore: apply sqlite pragmas: %w", err)
		}
	}

	for {
		e, ok := dataQueue.WaitAndPop()
		if !ok {
			return nil
		}

		t := tables[e.table]
		tr := trackers[e.table]

		data, err := fetchChunk(archive, e, checksums)
		if err != nil {
			prog.Update(progress.Event{State: progress.Error, TableName: e.table, Message: err.Error()})
			incrementChunkCounter(prog, tr, e.table, 0, false)
			return err
		}

		var rowsInChunk uint64
		retryErr := retry.On(ctx, opts.Retry, prog, e.table, func() error {
			rowsInChunk = 0
			return restoreChunkData(ctx, conn, schemaName, t, data, opts, prog, &rowsInChunk)
		})
		if retryErr != nil {
			prog.Update(progress.Event{State: progress.Error, TableName: e.table, Message: retryErr.Error()})
			incrementChunkCounter(prog, tr, e.table, rowsInChunk, false)
			return fmt.Errorf("restore: table %s chunk %d: %w", e.table, e.chunkIndex, retryErr)
		}

		incrementChunkCounter(prog, tr, e.table, rowsInChunk, true)
	}
}

// fetchChunk reads one data entry's bytes and verifies its checksum, if
// the archive recorded one for it.
func fetchChunk(archive *archivezip.Reader, e dataEntry, checksums map[string]string) ([]byte, error) {
	data, err := archive.Entry(e.name)
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", e.name, err)
	}
	if want, ok := checksums[e.name]; ok {
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if got != want {
			return nil, fmt.Errorf("Checksum mismatch for %s: want %s, got %s", e.name, want, got)
		}
	}
	return data, nil
}

// incrementChunkCounter atomically records one chunk's completion for
// its table and, once every chunk for that table has been processed,
// emits a single terminal Finished or Error progress event for it.
func incrementChunkCounter(prog progress.Manager, tr *tableTracker, tableName string, rows uint64, success bool) {
	if tr == nil {
		return
	}
	atomic.AddUint64(&tr.rows, rows)
	prog.OnItemsProcessed(rows)
	if !success {
		atomic.StoreInt32(&tr.failed, 1)
	}
	processed := atomic.AddInt64(&tr.processed, 1)
	prog.Update(progress.Event{State: progress.InProgress, TableName: tableName, CurrentRows: atomic.LoadUint64(&tr.rows)})
	if processed != tr.total {
		return
	}
	if atomic.LoadInt32(&tr.failed) != 0 {
		prog.Update(progress.Event{State: progress.Error, TableName: tableName, CurrentRows: atomic.LoadUint64(&tr.rows), Message: "one or more chunks failed to restore"})
		return
	}
	prog.Update(progress.Event{State: progress.Finished, TableName: tableName, CurrentRows: atomic.LoadUint64(&tr.rows)})
}

func rowCountPtr(t *sqlclient.Table) *uint64 {
	if t == nil {
		return nil
	}
	v := t.RowCount
	return &v
}

// applySQLitePragmas relaxes durability for the duration of the restore,
// matching the upstream engine's bulk-load pragma set: restoring is a
// one-shot operation and a crash mid-restore is recovered by re-running
// it, not by replaying a WAL. cacheSizeKB, if positive, also grows the
// page cache for the run; a negative PRAGMA cache_size value is KB per
// SQLite's own convention (a positive value would instead mean pages).
func applySQLitePragmas(ctx context.Context, conn sqlclient.Conn, cacheSizeKB int) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=OFF",
		"PRAGMA foreign_keys=OFF",
	}
	if cacheSizeKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", cacheSizeKB))
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecuteDirect(ctx, pragma); err != nil {
			return err
		}
	}
	return nil
}

// restoreChunkData replays one archive chunk's rows into t within a
// single transaction, defaulting to rollback: the transaction is only
// committed once every batch in the chunk has executed successfully. A
// retried chunk (see restoreWorker) replays from byte 0, since nothing
// here depends on state outside this call other than the connection.
//
// SQLite targets (MaxRowsPerCommit > 0) commit and reopen the
// transaction partway through a long chunk to bound WAL growth; rows
// already committed that way are not undone if a later batch in the same
// chunk fails, so a retry after a partial commit can attempt to
// re-insert already-restored rows.
func restoreChunkData(ctx context.Context, conn sqlclient.Conn, schemaName string, t *sqlclient.Table, data []byte, opts Options, prog progress.Manager, rowsRestored *uint64) error {
	serverType := conn.ServerType()
	isSQLite := serverType == sqlclient.ServerSQLite
	hasIdentity := serverType == sqlclient.ServerMSSQL && t.HasIdentityColumn()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", t.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	tableRef := schema.FormatTableName(schemaName, t.Name, serverType)
	if hasIdentity {
		if _, err := tx.ExecuteDirect(ctx, "SET IDENTITY_INSERT "+tableRef+" ON"); err != nil {
			return fmt.Errorf("enable identity insert for %s: %w", t.Name, err)
		}
	}

	insertSQL := buildInsertSQL(schemaName, t, tx.QueryFormatter(), serverType)
	stmt, err := tx.Prepare(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert for %s: %w", t.Name, err)
	}

	rowsSinceCommit := 0
	executor := func(ctx context.Context, columns [][]chunk.Value, rowCount int) error {
		if _, err := stmt.ExecuteBatch(ctx, columns, rowCount); err != nil {
			return fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		*rowsRestored += uint64(rowCount)
		rowsSinceCommit += rowCount

		if isSQLite && opts.Settings.MaxRowsPerCommit > 0 && rowsSinceCommit >= opts.Settings.MaxRowsPerCommit {
			if err := stmt.Close(); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("intermediate commit for %s: %w", t.Name, err)
			}
			newTx, err := conn.Begin(ctx)
			if err != nil {
				return fmt.Errorf("reopen transaction for %s: %w", t.Name, err)
			}
			tx = newTx
			newStmt, err := tx.Prepare(ctx, insertSQL)
			if err != nil {
				return fmt.Errorf("re-prepare insert for %s: %w", t.Name, err)
			}
			stmt = newStmt
			rowsSinceCommit = 0
		}
		return nil
	}

	batchSize := opts.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	manager := batch.New(executor, t.Columns, batchSize, serverType)

	reader := chunk.NewReader(data)
	var cb chunk.ColumnBatch
	for {
		ok, err := reader.ReadBatch(&cb)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("decode chunk for %s: %w", t.Name, err)
		}
		if !ok {
			break
		}
		if len(cb.Columns) != len(t.Columns) {
			stmt.Close()
			return fmt.Errorf("chunk for %s has %d columns, table has %d", t.Name, len(cb.Columns), len(t.Columns))
		}
		if err := manager.PushBatch(ctx, &cb); err != nil {
			stmt.Close()
			return err
		}
	}

	if err := manager.Flush(ctx); err != nil {
		stmt.Close()
		return err
	}

	if hasIdentity {
		if _, err := tx.ExecuteDirect(ctx, "SET IDENTITY_INSERT "+tableRef+" OFF"); err != nil {
			stmt.Close()
			return fmt.Errorf("disable identity insert for %s: %w", t.Name, err)
		}
	}

	if err := stmt.Close(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction for %s: %w", t.Name, err)
	}
	committed = true
	return nil
}

func buildInsertSQL(schemaName string, t *sqlclient.Table, formatter sqlclient.QueryFormatter, serverType sqlclient.ServerType) string {
	cols := make([]string, len(t.Columns))
	placeholders := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = formatter.QuoteIdentifier(c.Name)
		placeholders[i] = formatter.Placeholder(i)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.FormatTableName(schemaName, t.Name, serverType), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}
