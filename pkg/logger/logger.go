package logger

import (
	"fmt"
	"log"
	"log/slog"
)

// New returns a stdlib *log.Logger that forwards into slog with a component attribute.
// Libraries that only accept *log.Logger (net/http.Server.ErrorLog) get it this way.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	l := slog.NewLogLogger(base.With("component", component).Handler(), level)
	l.SetPrefix(fmt.Sprintf("[%s] ", component))
	return l
}
