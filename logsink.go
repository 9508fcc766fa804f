package ffibridge

import (
	"github.com/joeycumines/logiface"
)

// LogifaceSink writes engine log lines to a logiface logger, mapping engine
// levels onto logiface levels.
type LogifaceSink struct {
	Logger *logiface.Logger[logiface.Event]
	// CategoryKey is the field the engine category is written to, "category"
	// if empty.
	CategoryKey string
}

var _ LogSink = (*LogifaceSink)(nil)

// Log implements [LogSink].
func (x *LogifaceSink) Log(level LogLevel, category, message string) {
	key := x.CategoryKey
	if key == "" {
		key = "category"
	}
	x.Logger.Build(level.Logiface()).
		Str(key, category).
		Log(message)
}
