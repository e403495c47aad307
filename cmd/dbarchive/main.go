// Command dbarchive is a thin CLI front end over the backup and restore
// pipelines, wired to a MySQL target.
package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Backup  BackupCmd  `cmd:"" help:"Back up a MySQL database to an archive file."`
	Restore RestoreCmd `cmd:"" help:"Restore an archive file into a MySQL database."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("dbarchive"),
		kong.Description("Parallel, resumable logical backup and restore for SQL databases."),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
