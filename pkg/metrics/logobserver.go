package metrics

import "log/slog"

// LoggerObserver writes every metrics event to a structured logger at
// debug level. Useful as the default sink when no external collector is
// wired.
type LoggerObserver struct {
	logger *slog.Logger
}

func NewLoggerObserver(logger *slog.Logger) *LoggerObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerObserver{logger: logger}
}

func (l *LoggerObserver) RecordEvent(ev Event) {
	attrs := make([]any, 0, len(ev.Tags)*2+2)
	attrs = append(attrs, slog.Time("at", ev.Time))
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Debug("metric_"+ev.Name, attrs...)
}
