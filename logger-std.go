//go:build !tinygo

package logport

import (
	"log"
	"os"
)

func init() {
	globalLogger = &stdLogger{l: log.New(os.Stderr, "logport ", log.LstdFlags|log.Lmsgprefix)}
}

// stdLogger writes diagnostics to stderr with the standard library log
// package. Debug messages are dropped.
type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Debug(msg string) {}

func (s *stdLogger) Info(msg string) {
	s.l.Print("[INFO]  " + msg)
}

func (s *stdLogger) Warn(msg string) {
	s.l.Print("[WARN]  " + msg)
}

func (s *stdLogger) Error(msg string) {
	s.l.Print("[ERROR] " + msg)
}
