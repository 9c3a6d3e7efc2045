package logger

import (
	"bytes"
	"context"
	"log"
)

// NewStdLogger returns a standard library Logger that wraps the slog Logger.
// Used for APIs that only accept *log.Logger, such as http.Server.ErrorLog.
func NewStdLogger(logger *Logger, level Level) *log.Logger {
	return log.New(&logSink{logger: logger, level: level}, "", 0)
}

type logSink struct {
	logger *Logger
	level  Level
}

func (s *logSink) Write(data []byte) (int, error) {
	s.logger.write(context.Background(), s.level, 5, string(bytes.TrimSpace(data)))
	return len(data), nil
}
