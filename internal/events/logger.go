package events

import (
	"sort"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/charmbracelet/log"
)

type loggerAdapter struct {
	logger *log.Logger
	fields watermill.LogFields
}

// NewLoggerAdapter routes watermill's internal logging into logger.
// Trace output is folded into debug.
func NewLoggerAdapter(logger *log.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{logger: logger.WithPrefix("events")}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.keyvals(fields), "err", err)...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, a.keyvals(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.keyvals(fields)...)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.keyvals(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *loggerAdapter) keyvals(fields watermill.LogFields) []interface{} {
	all := a.fields.Add(fields)
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, all[k])
	}
	return kv
}
