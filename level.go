package ffibridge

import (
	"strconv"

	"github.com/joeycumines/logiface"
)

// LogLevel is an engine log severity. Lower values are more verbose, and a
// subscriber at level L receives every message at a level >= L.
type LogLevel int32

const (
	LogLevelAll LogLevel = iota
	LogLevelTrace
	LogLevelDebug
	LogLevelDetail
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
	LogLevelOff
)

var logLevelNames = [...]string{
	LogLevelAll:    "all",
	LogLevelTrace:  "trace",
	LogLevelDebug:  "debug",
	LogLevelDetail: "detail",
	LogLevelInfo:   "info",
	LogLevelWarn:   "warn",
	LogLevelError:  "error",
	LogLevelFatal:  "fatal",
	LogLevelOff:    "off",
}

// String returns the lowercase name of the level.
func (l LogLevel) String() string {
	if l.Valid() {
		return logLevelNames[l]
	}
	return "LogLevel(" + strconv.Itoa(int(l)) + ")"
}

// Valid reports whether l is one of the defined levels.
func (l LogLevel) Valid() bool {
	return l >= LogLevelAll && l <= LogLevelOff
}

// Enabled reports whether a subscriber at level l receives a message at level msg.
func (l LogLevel) Enabled(msg LogLevel) bool {
	return l != LogLevelOff && l <= msg
}

// ParseLogLevel is the inverse of [LogLevel.String].
func ParseLogLevel(s string) (LogLevel, bool) {
	for i, name := range logLevelNames {
		if name == s {
			return LogLevel(i), true
		}
	}
	return 0, false
}

// Logiface maps the engine level onto the logiface scale, which runs the other way.
func (l LogLevel) Logiface() logiface.Level {
	switch l {
	case LogLevelAll, LogLevelTrace:
		return logiface.LevelTrace
	case LogLevelDebug, LogLevelDetail:
		return logiface.LevelDebug
	case LogLevelInfo:
		return logiface.LevelInformational
	case LogLevelWarn:
		return logiface.LevelWarning
	case LogLevelError:
		return logiface.LevelError
	case LogLevelFatal:
		return logiface.LevelCritical
	default:
		return logiface.LevelDisabled
	}
}
