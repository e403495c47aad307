// Package backup implements the backup pipeline: scan a schema, stream
// each table's rows into msgpack chunks inside a zip archive, and record
// a dialect-neutral metadata sidecar plus a per-entry checksum manifest.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/dbarchive/sqlbackup/pkg/archivezip"
	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/metadata"
	"github.com/dbarchive/sqlbackup/pkg/progress"
	"github.com/dbarchive/sqlbackup/pkg/queue"
	"github.com/dbarchive/sqlbackup/pkg/retry"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
	"github.com/dbarchive/sqlbackup/pkg/tablefilter"
)

// Settings configures archive compression and chunk sizing.
type Settings struct {
	Method         archivezip.CompressionMethod
	Level          int
	ChunkSizeBytes int64
	SchemaOnly     bool
	PageRows       int
}

// DefaultSettings mirrors the archive format's defaults: Deflate at
// level 6, 10MB chunks, 1000-row fetch pages.
func DefaultSettings() Settings {
	return Settings{
		Method:         archivezip.Deflate,
		Level:          6,
		ChunkSizeBytes: 10 * 1024 * 1024,
		PageRows:       1000,
	}
}

// Options is everything Run needs to perform one backup.
type Options struct {
	OutputPath   string
	Connector    sqlclient.Connector
	DSN          string
	Concurrency  int
	Progress     progress.Manager
	Schema       string
	TableFilter  string
	Retry        retry.Settings
	Settings     Settings
	SchemaReader sqlclient.SchemaReader
	ServerInfo   sqlclient.ServerInfo
}

// Run performs a complete backup per opts, writing a zip archive to
// opts.OutputPath.
func Run(ctx context.Context, opts Options) error {
	prog := opts.Progress
	if prog == nil {
		prog = &progress.NullManager{}
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	mainConn, err := opts.Connector(ctx, opts.DSN)
	if err != nil {
		return fmt.Errorf("backup: connect: %w", err)
	}
	defer mainConn.Close()

	// MSSQL's ODBC driver has shared internal buffers that race across
	// concurrent connections; force single-threaded operation for it.
	if mainConn.ServerType() == sqlclient.ServerMSSQL {
		concurrency = 1
	}

	filter := tablefilter.Parse(opts.TableFilter)

	f, err := os.Create(opts.OutputPath)
	if err != nil {
		return fmt.Errorf("backup: create output: %w", err)
	}
	defer f.Close()

	archive, err := archivezip.NewWriter(f, opts.Settings.Method, opts.Settings.Level)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}

	var (
		completedMu sync.Mutex
		completed   []*sqlclient.Table
		maxNameLen  int
	)

	onScan := func(_, tableName string) {
		prog.Update(progress.Event{
			State:     progress.InProgress,
			TableName: "Scanning schema",
			Message:   fmt.Sprintf("Scanning table %s", tableName),
		})
	}
	onReady := func(t *sqlclient.Table) {
		completedMu.Lock()
		defer completedMu.Unlock()
		if len(t.Name) > maxNameLen {
			maxNameLen = len(t.Name)
		}
		completed = append(completed, t)
	}
	var include sqlclient.IncludeTablePredicate
	if !filter.MatchesAll() {
		include = func(schemaName, tableName string) bool {
			return filter.Matches(schemaName, tableName)
		}
	}

	dbName := opts.ServerInfo.Name
	if err := opts.SchemaReader(ctx, mainConn, dbName, opts.Schema, onScan, onReady, include); err != nil {
		return fmt.Errorf("backup: scan schema: %w", err)
	}

	prog.Update(progress.Event{
		State:       progress.Finished,
		TableName:   "Scanning schema",
		CurrentRows: uint64(len(completed)),
		TotalRows:   uint64Ptr(uint64(len(completed))),
	})
	prog.SetMaxTableNameLength(maxNameLen)

	var (
		checksumsMu sync.Mutex
		checksums   = map[string]string{}
	)

	if !opts.Settings.SchemaOnly {
		if err := runWorkers(ctx, opts, prog, concurrency, completed, archive, &checksumsMu, checksums); err != nil {
			return err
		}
	} else {
		prog.Update(progress.Event{State: progress.InProgress, Message: "Schema-only backup: skipping data export"})
	}

	metaDoc, err := metadata.Create(opts.ServerInfo, opts.DSN, completed, opts.Schema)
	if err != nil {
		return fmt.Errorf("backup: build metadata: %w", err)
	}
	mw, err := archive.CreateEntry(archivezip.MetadataEntryName)
	if err != nil {
		return fmt.Errorf("backup: write metadata entry: %w", err)
	}
	if _, err := io.WriteString(mw, metaDoc); err != nil {
		return fmt.Errorf("backup: write metadata entry: %w", err)
	}

	if !opts.Settings.SchemaOnly {
		if err := writeChecksums(archive, checksums); err != nil {
			return err
		}
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("backup: close archive: %w", err)
	}

	prog.AllDone()
	return nil
}

func runWorkers(
	ctx context.Context,
	opts Options,
	prog progress.Manager,
	concurrency int,
	tables []*sqlclient.Table,
	archive *archivezip.Writer,
	checksumsMu *sync.Mutex,
	checksums map[string]string,
) error {
	// Worker connections are established sequentially, matching the
	// upstream engine's avoidance of concurrent-connect driver races.
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
			return fmt.Errorf("backup: create worker connection %d: %w", i+1, err)
		}
	}
	defer func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}()

	tableQueue := queue.New[*sqlclient.Table]()
	for _, t := range tables {
		tableQueue.Push(t)
	}
	tableQueue.MarkFinished()

	var archiveMu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		conn := conns[i]
		group.Go(func() error {
			return worker(gctx, tableQueue, conn, opts, prog, archive, &archiveMu, checksumsMu, checksums)
		})
	}
	return group.Wait()
}

func worker(
	ctx context.Context,
	tableQueue *queue.Queue[*sqlclient.Table],
	conn sqlclient.Conn,
	opts Options,
	prog progress.Manager,
	archive *archivezip.Writer,
	archiveMu *sync.Mutex,
	checksumsMu *sync.Mutex,
	checksums map[string]string,
) error {
	for {
		t, ok := tableQueue.WaitAndPop()
		if !ok {
			return nil
		}
		if err := processTable(ctx, t, conn, opts, prog, archive, archiveMu, checksumsMu, checksums); err != nil {
			prog.Update(progress.Event{State: progress.Error, TableName: t.Name, Message: err.Error()})
			return err
		}
	}
}

// processTable streams a table's rows page by page, writing a new
// archive entry each time the chunk writer reports full. Paging is
// offset-based so a retried page resumes cleanly at the same offset;
// each page's rows are buffered in memory and only handed to the chunk
// writer once the whole page has been fetched, so a transient failure
// partway through a page neither duplicates rows nor drops rows carried
// over from earlier pages.
func processTable(
	ctx context.Context,
	t *sqlclient.Table,
	conn sqlclient.Conn,
	opts Options,
	prog progress.Manager,
	archive *archivezip.Writer,
	archiveMu *sync.Mutex,
	checksumsMu *sync.Mutex,
	checksums map[string]string,
) error {
	prog.Update(progress.Event{State: progress.Started, TableName: t.Name, TotalRows: uint64Ptr(t.RowCount)})

	orderBy := t.PrimaryKeys
	if len(orderBy) == 0 {
		for _, c := range t.Columns {
			orderBy = append(orderBy, c.Name)
		}
	}

	pageRows := opts.Settings.PageRows
	if pageRows <= 0 {
		pageRows = 1000
	}

	writer := chunk.NewWriter(opts.Settings.ChunkSizeBytes)
	chunkIndex := 0
	pending := 0 // rows in writer not yet written out as a chunk
	var processed uint64
	offset := 0

	for {
		var rowsInPage int
		var pageBuf []sqlclient.Row
		err := retry.On(ctx, opts.Retry, prog, t.Name, func() error {
			formatter := conn.QueryFormatter()
			query := formatter.SelectWithOffset(opts.Schema, t, orderBy, pageRows, offset)
			stmt, err := conn.Prepare(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()

			rowsInPage = 0
			pageBuf = pageBuf[:0] // discard any rows fetched by a failed prior attempt
			for {
				row, ok, err := stmt.FetchRow(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				pageBuf = append(pageBuf, row)
				rowsInPage++
			}
		})
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}

		// Only hand this page's rows to the chunk writer once the whole
		// page has succeeded: the writer may still hold rows of earlier
		// pages, and a retried page must neither discard those nor add
		// the rows of a failed attempt.
		for _, row := range pageBuf {
			writer.WriteRow([]chunk.Value(row))
			if pending++; !writer.IsChunkFull() {
				continue
			}
			if err := writeChunkEntry(archive, archiveMu, checksumsMu, checksums, t.Name, chunkIndex, writer.Flush()); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
			chunkIndex++
			pending = 0
		}

		processed += uint64(rowsInPage)
		offset += rowsInPage
		prog.Update(progress.Event{
			State:       progress.InProgress,
			TableName:   t.Name,
			CurrentRows: processed,
			TotalRows:   uint64Ptr(t.RowCount),
		})
		prog.OnItemsProcessed(uint64(rowsInPage))

		if rowsInPage < pageRows {
			break
		}
	}

	if pending > 0 {
		if err := writeChunkEntry(archive, archiveMu, checksumsMu, checksums, t.Name, chunkIndex, writer.Flush()); err != nil {
			return err
		}
	}

	prog.Update(progress.Event{State: progress.Finished, TableName: t.Name, CurrentRows: processed, TotalRows: uint64Ptr(t.RowCount)})
	return nil
}

func writeChunkEntry(
	archive *archivezip.Writer,
	archiveMu *sync.Mutex,
	checksumsMu *sync.Mutex,
	checksums map[string]string,
	table string,
	chunkIndex int,
	data []byte,
) error {
	sum := sha256.Sum256(data)
	name := archivezip.DataEntryName(table, chunkIndex)

	archiveMu.Lock()
	w, err := archive.CreateEntry(name)
	if err == nil {
		_, err = w.Write(data)
	}
	archiveMu.Unlock()
	if err != nil {
		return fmt.Errorf("write chunk entry %s: %w", name, err)
	}

	checksumsMu.Lock()
	checksums[name] = hex.EncodeToString(sum[:])
	checksumsMu.Unlock()
	return nil
}

func writeChecksums(archive *archivezip.Writer, checksums map[string]string) error {
	doc := struct {
		Algorithm string            `json:"algorithm"`
		Files     map[string]string `json:"files"`
	}{Algorithm: "sha256", Files: checksums}

	var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary
	b, err := jsonAPI.Marshal(doc)
	if err != nil {
		return fmt.Errorf("backup: encode checksums: %w", err)
	}

	w, err := archive.CreateEntry(archivezip.ChecksumsEntryName)
	if err != nil {
		return fmt.Errorf("backup: write checksums entry: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("backup: write checksums entry: %w", err)
	}
	return nil
}

func uint64Ptr(v uint64) *uint64 { return &v }
