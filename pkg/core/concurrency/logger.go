package concurrency

import (
	"fmt"
	"log"
	"os"
)

// Logger is the minimal logger the concurrency package needs.
// core.Logger satisfies it; keeping it small avoids an import cycle.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// defaultLogger implements Logger using standard log
type defaultLogger struct {
	logger *log.Logger
}

func newDefaultLogger() Logger {
	return &defaultLogger{
		logger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	_ = l.logger.Output(3, fmt.Sprintf(format, args...))
}
