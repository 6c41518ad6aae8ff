package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// newLogHandler builds the root log handler for format (terminal or json)
// at the named level.
func newLogHandler(w io.Writer, format, level string) (slog.Handler, error) {
	lvl, err := log.LvlFromString(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	switch format {
	case "", "terminal":
		return log.NewTerminalHandlerWithLevel(w, lvl, useColor(w)), nil
	case "json":
		return log.JSONHandlerWithLevel(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func useColor(w io.Writer) bool {
	type fd interface{ Fd() uintptr }
	_, ok := w.(fd)
	return ok
}
