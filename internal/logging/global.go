package logging

import "sync"

var (
	globalLogger = New(Config{Level: LevelInfo, Format: FormatJSON})
	globalMu     sync.RWMutex
)

// SetGlobal installs l as the logger used by components built without one.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
