package progress

import "sync/atomic"

// ErrorTrackingManager is an embeddable base that counts Error-state
// events so concrete UIs get ErrorCount() for free, in the style of the
// original archive engine's ErrorTrackingProgressManager base class.
type ErrorTrackingManager struct {
	errorCount    atomic.Int64
	totalItems    atomic.Uint64
	itemsDone     atomic.Uint64
	maxNameLength atomic.Int64

	// OnPromotion is an optional hook for reporting that a heterogeneous
	// column was promoted to text. Nothing in this module calls it: the
	// chunk writer promotes columns without notifying the progress
	// manager.
	OnPromotion func(table, column string)
}

// Update records whether e was an Error event. Embedders that override
// Update should call this one to keep the counter accurate.
func (m *ErrorTrackingManager) Update(e Event) {
	if e.State == Error {
		m.errorCount.Add(1)
	}
}

func (m *ErrorTrackingManager) ErrorCount() int { return int(m.errorCount.Load()) }

func (m *ErrorTrackingManager) SetTotalItems(total uint64) { m.totalItems.Store(total) }

func (m *ErrorTrackingManager) OnItemsProcessed(count uint64) { m.itemsDone.Add(count) }

func (m *ErrorTrackingManager) SetMaxTableNameLength(n int) { m.maxNameLength.Store(int64(n)) }

// ItemsProcessed returns the running total passed to OnItemsProcessed.
func (m *ErrorTrackingManager) ItemsProcessed() uint64 { return m.itemsDone.Load() }

// TotalItems returns the value last passed to SetTotalItems.
func (m *ErrorTrackingManager) TotalItems() uint64 { return m.totalItems.Load() }

// NullManager discards every event. It is the default used by tests and
// by callers that want Backup/Restore to run silently.
type NullManager struct {
	ErrorTrackingManager
}

func (m *NullManager) AllDone() {}

var _ Manager = (*NullManager)(nil)
