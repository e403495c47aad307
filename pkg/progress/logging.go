package progress

import (
	"fmt"

	"github.com/siddontang/loggers"
)

// LoggingManager reports every event through a loggers.Advanced sink, the
// same logger interface the rest of this module's ambient logging uses.
// It is the default Manager for CLI use, where a human is watching a log
// stream rather than a dedicated progress UI.
type LoggingManager struct {
	ErrorTrackingManager
	Log loggers.Advanced
}

// NewLoggingManager returns a Manager that writes at most one log line per
// event; an InProgress event with neither a row total nor a message
// writes none.
func NewLoggingManager(log loggers.Advanced) *LoggingManager {
	return &LoggingManager{Log: log}
}

func (m *LoggingManager) Update(e Event) {
	m.ErrorTrackingManager.Update(e)

	switch e.State {
	case Started:
		m.Log.Infof("%s: started", e.TableName)
	case InProgress:
		if e.TotalRows != nil && *e.TotalRows > 0 {
			m.Log.Infof("%s: %d/%d rows", e.TableName, e.CurrentRows, *e.TotalRows)
		} else if e.Message != "" {
			m.Log.Info(e.Message)
		}
	case Finished:
		m.Log.Infof("%s: finished (%d rows)", e.TableName, e.CurrentRows)
	case Warning:
		m.Log.Warnf("%s: %s", e.TableName, e.Message)
	case Error:
		m.Log.Errorf("%s: %s", e.TableName, e.Message)
	}
}

func (m *LoggingManager) AllDone() {
	total := m.TotalItems()
	done := m.ItemsProcessed()
	errs := m.ErrorCount()
	if errs > 0 {
		m.Log.Warnf("done: %d/%d rows processed, %d error(s)", done, total, errs)
		return
	}
	m.Log.Info(fmt.Sprintf("done: %d/%d rows processed", done, total))
}

var _ Manager = (*LoggingManager)(nil)
