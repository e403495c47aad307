package main

import (
	"context"

	"github.com/dbarchive/sqlbackup/pkg/logutil"
	"github.com/dbarchive/sqlbackup/pkg/mysqlconn"
	"github.com/dbarchive/sqlbackup/pkg/progress"
	"github.com/dbarchive/sqlbackup/pkg/restore"
	"github.com/dbarchive/sqlbackup/pkg/retry"
	"github.com/dbarchive/sqlbackup/pkg/sizing"
)

// RestoreCmd restores an archive file into a MySQL database.
type RestoreCmd struct {
	Input       string `arg:"" help:"Path to the archive file to restore." type:"path"`
	DSN         string `arg:"" help:"MySQL DSN, e.g. user:pass@tcp(host:3306)/dbname"`
	Schema      string `help:"Schema name to restore into, if different from the archive's."`
	Tables      string `help:"Table filter (comma-separated globs, '*' by default)." default:"*"`
	Concurrency int    `help:"Number of concurrent chunk workers." default:"4"`
}

func (c *RestoreCmd) Run() error {
	ctx := context.Background()
	log := logutil.NewDefaultLogger()
	prog := progress.NewLoggingManager(log)

	sized := sizing.CalculateFromSystem(c.Concurrency)
	settings := restore.DefaultSettings()
	settings.BatchSize = sized.BatchSize
	settings.MaxRowsPerCommit = sized.MaxRowsPerCommit
	settings.CacheSizeKB = sized.CacheSizeKB

	opts := restore.Options{
		InputPath:   c.Input,
		Connector:   mysqlconn.Connect,
		DSN:         c.DSN,
		Concurrency: c.Concurrency,
		Progress:    prog,
		Schema:      c.Schema,
		TableFilter: c.Tables,
		Retry:       retry.DefaultSettings(),
		Settings:    settings,
	}

	return restore.Run(ctx, opts)
}
