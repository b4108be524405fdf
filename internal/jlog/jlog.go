// Package jlog provides the shared structured logger. cmd/gojit sets its
// level; the compilation pipeline packages (CFA, HIR, instruction
// selection, register allocation, emission, publish) do not log through
// it.
package jlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Base returns the shared logrus logger, configured once from the
// GOJIT_DEBUG environment variable; cmd/gojit then calls SetDebug with
// the debug setting internal/config resolved.
func Base() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if os.Getenv("GOJIT_DEBUG") != "" {
			base.SetLevel(logrus.DebugLevel)
		} else {
			base.SetLevel(logrus.InfoLevel)
		}
	})
	return base
}

// SetDebug raises or lowers the shared logger's verbosity.
func SetDebug(on bool) {
	if on {
		Base().SetLevel(logrus.DebugLevel)
	} else {
		Base().SetLevel(logrus.InfoLevel)
	}
}

// ForCU returns a logger scoped to one compilation unit. Nothing in this
// module calls it.
func ForCU(method string, cuID uint64, arch string) *logrus.Entry {
	return Base().WithFields(logrus.Fields{
		"method": method,
		"cu_id":  cuID,
		"arch":   arch,
	})
}
