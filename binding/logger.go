package binding

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the binding's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger installs a logger for the package. Call it before Load;
// it is not synchronized against concurrent use.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	logger = l
}
