package main

import (
	"context"
	"fmt"

	"github.com/dbarchive/sqlbackup/pkg/archivezip"
	"github.com/dbarchive/sqlbackup/pkg/backup"
	"github.com/dbarchive/sqlbackup/pkg/logutil"
	"github.com/dbarchive/sqlbackup/pkg/mysqlconn"
	"github.com/dbarchive/sqlbackup/pkg/progress"
	"github.com/dbarchive/sqlbackup/pkg/retry"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

// BackupCmd backs up a MySQL database into an archive file.
type BackupCmd struct {
	DSN         string `arg:"" help:"MySQL DSN, e.g. user:pass@tcp(host:3306)/dbname"`
	Output      string `arg:"" help:"Path to write the archive to." type:"path"`
	Schema      string `help:"Schema name, if different from the DSN's database."`
	Tables      string `help:"Table filter (comma-separated globs, '*' by default)." default:"*"`
	Concurrency int    `help:"Number of concurrent table workers." default:"4"`
	SchemaOnly  bool   `help:"Dump schema only, skipping row data."`
	Compression string `help:"Archive compression: store, deflate, or zstd." default:"deflate"`
}

func (c *BackupCmd) Run() error {
	ctx := context.Background()
	log := logutil.NewDefaultLogger()
	prog := progress.NewLoggingManager(log)

	method, err := parseCompression(c.Compression)
	if err != nil {
		return err
	}

	settings := backup.DefaultSettings()
	settings.Method = method
	settings.SchemaOnly = c.SchemaOnly

	dbName, err := mysqlconn.DatabaseNameFromDSN(c.DSN)
	if err != nil {
		return fmt.Errorf("dbarchive: %w", err)
	}

	opts := backup.Options{
		OutputPath:   c.Output,
		Connector:    mysqlconn.Connect,
		DSN:          c.DSN,
		Concurrency:  c.Concurrency,
		Progress:     prog,
		Schema:       c.Schema,
		TableFilter:  c.Tables,
		Retry:        retry.DefaultSettings(),
		Settings:     settings,
		SchemaReader: mysqlconn.ScanSchema,
		ServerInfo:   sqlclient.ServerInfo{Name: dbName, Driver: "mysql"},
	}

	return backup.Run(ctx, opts)
}

func parseCompression(name string) (archivezip.CompressionMethod, error) {
	switch name {
	case "store":
		return archivezip.Store, nil
	case "deflate":
		return archivezip.Deflate, nil
	case "zstd":
		return archivezip.Zstd, nil
	default:
		return 0, fmt.Errorf("dbarchive: unknown compression %q", name)
	}
}
