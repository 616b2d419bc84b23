// Package nestlog provides the ambient logging used across nest's core
// and CLI front-ends.
//
// Grounded on cmd/dep/loggers.go's Loggers struct (standard *log.Logger
// pair plus a verbosity flag) and log/logger.go's thin Logf/Logln
// wrapper style.
package nestlog

import (
	"io"
	"log"
)

// Loggers holds the two standard loggers nest writes to, and whether
// verbose (debug-level) output is enabled.
type Loggers struct {
	Out, Err *log.Logger
	Verbose  bool
}

// New returns Loggers writing to out/err with no line prefix or date
// stamp, matching the teacher's own minimal logger construction.
func New(out, err io.Writer, verbose bool) *Loggers {
	return &Loggers{
		Out:     log.New(out, "", 0),
		Err:     log.New(err, "", 0),
		Verbose: verbose,
	}
}

// Printf writes a normal-priority formatted line to Out.
func (l *Loggers) Printf(format string, args ...interface{}) {
	l.Out.Printf(format, args...)
}

// Errorf writes a formatted line to Err, prefixed the way the teacher
// prefixes its own diagnostics.
func (l *Loggers) Errorf(format string, args ...interface{}) {
	l.Err.Printf("nest: "+format, args...)
}

// Debugf writes a formatted line to Out only when Verbose is set.
func (l *Loggers) Debugf(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.Out.Printf(format, args...)
}
