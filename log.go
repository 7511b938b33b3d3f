package dalekbridge

import (
	"log"
	"os"
	"sync/atomic"
)

var pkgLogger atomic.Pointer[log.Logger]

func init() {
	pkgLogger.Store(log.New(os.Stderr, "dalekbridge: ", log.LstdFlags))
}

// SetLogger replaces the logger used for diagnostics. Passing nil restores
// the default stderr logger.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(os.Stderr, "dalekbridge: ", log.LstdFlags)
	}
	pkgLogger.Store(l)
}

func logger() *log.Logger {
	return pkgLogger.Load()
}
