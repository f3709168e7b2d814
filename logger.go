package servermetrics

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"go.uber.org/atomic"
)

var (
	loggerMtx sync.RWMutex
	logger    log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	strictLabels atomic.Bool
)

// SetLogger replaces the logger used for instrumentation-time
// diagnostics: invalid label accesses, negative increments, cell
// evictions, overwrite warnings, and exporter lifecycle messages.
func SetLogger(l log.Logger) {
	if l == nil {
		l = log.NewNopLogger()
	}
	loggerMtx.Lock()
	logger = l
	loggerMtx.Unlock()
}

func pkgLogger() log.Logger {
	loggerMtx.RLock()
	defer loggerMtx.RUnlock()
	return logger
}

// SetStrictLabelAccess makes mutations with invalid labels panic
// instead of logging and dropping the operation. Intended for test
// deployments that want instrumentation bugs to fail the build; the
// production default is off.
func SetStrictLabelAccess(enabled bool) {
	strictLabels.Store(enabled)
}
