//go:build tinygo

package logport

import (
	"machine"
)

func init() {
	globalLogger = &serialLogger{}
}

// serialLogger writes diagnostics to machine.Serial (usually USB CDC),
// which is separate from the UART the port transmits on.
type serialLogger struct{}

func (l *serialLogger) log(level, msg string) {
	machine.Serial.Write([]byte("logport " + level + msg + "\r\n"))
}

func (l *serialLogger) Debug(msg string) {}
func (l *serialLogger) Info(msg string)  { l.log("[INFO]  ", msg) }
func (l *serialLogger) Warn(msg string)  { l.log("[WARN]  ", msg) }
func (l *serialLogger) Error(msg string) { l.log("[ERROR] ", msg) }
