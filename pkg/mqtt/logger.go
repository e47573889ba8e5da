package mqtt

import (
	"fmt"
	"strings"

	"github.com/drclink-io/drclink/pkg/log"
)

// pahoLogger adapts the drclink logger to paho's Println/Printf style
// logging interface. It satisfies paho's log.Logger structurally, so the
// paho log package is not imported here.
type pahoLogger struct {
	sink func(msg string, keysAndValues ...any)
}

func newPahoDebugLogger() pahoLogger {
	return pahoLogger{sink: log.Debug}
}

func newPahoErrorLogger() pahoLogger {
	return pahoLogger{sink: log.Warn}
}

func (p pahoLogger) Println(v ...any) {
	p.sink("paho: " + strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p pahoLogger) Printf(format string, v ...any) {
	p.sink("paho: " + fmt.Sprintf(format, v...))
}
