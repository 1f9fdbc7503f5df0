// Package nlog is pgasrt's ambient logger: cheap level-gated sugar over
// the standard log package, no external logging dependency. Every other
// package in this module logs through here rather than calling log/fmt
// directly.
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// verbosity levels, low to high.
const (
	LevelError int32 = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var (
	level  = new(int32)
	stdlog = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

func init() {
	atomic.StoreInt32(level, LevelInfo)
}

// SetLevel adjusts the package-wide verbosity threshold. Safe for
// concurrent use; takes effect on the next log call.
func SetLevel(l int32) { atomic.StoreInt32(level, l) }

func enabled(l int32) bool { return atomic.LoadInt32(level) >= l }

func Infoln(v ...any) {
	if enabled(LevelInfo) {
		stdlog.Output(2, "I "+fmt.Sprintln(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		stdlog.Output(2, "I "+fmt.Sprintf(format, v...))
	}
}

func Warningln(v ...any) {
	if enabled(LevelWarning) {
		stdlog.Output(2, "W "+fmt.Sprintln(v...))
	}
}

func Warningf(format string, v ...any) {
	if enabled(LevelWarning) {
		stdlog.Output(2, "W "+fmt.Sprintf(format, v...))
	}
}

func Errorln(v ...any) {
	if enabled(LevelError) {
		stdlog.Output(2, "E "+fmt.Sprintln(v...))
	}
}

func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		stdlog.Output(2, "E "+fmt.Sprintf(format, v...))
	}
}

func Debugln(v ...any) {
	if enabled(LevelDebug) {
		stdlog.Output(2, "D "+fmt.Sprintln(v...))
	}
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		stdlog.Output(2, "D "+fmt.Sprintf(format, v...))
	}
}
