// Package progress defines the observable event stream backup/restore
// operations emit, independent of any concrete UI. Concrete UIs (a
// terminal spinner, a Prometheus exporter, a log sink) live outside this
// module and implement Manager.
package progress

// State is the lifecycle state of one table's (or one overall operation's)
// progress record.
type State uint8

const (
	Started State = iota
	InProgress
	Finished
	Error
	Warning
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is one progress update for a table (or, with an empty TableName,
// for the overall operation).
type Event struct {
	State       State
	TableName   string
	CurrentRows uint64
	TotalRows   *uint64
	Message     string
}

// Manager is the interface Backup and Restore report to. Implementations
// are invoked concurrently from worker goroutines and must serialize
// internally.
type Manager interface {
	// Update is called whenever a table's (or the overall operation's)
	// progress state changes.
	Update(e Event)

	// AllDone is called once, after every worker has joined and any
	// trailing schema work (metadata, FK, indexes) is complete.
	AllDone()

	// SetMaxTableNameLength lets a column-aligned UI size its table-name
	// field ahead of time.
	SetMaxTableNameLength(n int)

	// ErrorCount returns the number of Error-state events observed so
	// far.
	ErrorCount() int

	// SetTotalItems records the total number of rows expected across all
	// tables, for rate/ETA calculation.
	SetTotalItems(total uint64)

	// OnItemsProcessed is called as rows are processed, for rate/ETA
	// calculation.
	OnItemsProcessed(count uint64)
}
