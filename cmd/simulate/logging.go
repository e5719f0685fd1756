package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/logging"
)

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func parseLevel(s string) (logging.LogLevel, error) {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// newLoggerFactory parses "level[,scope=level...]".
func newLoggerFactory(spec string, w io.Writer) (*logging.DefaultLoggerFactory, error) {
	lf := &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: logging.LogLevelInfo,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}
	for i, part := range parseCSVList(spec) {
		scope, level, scoped := strings.Cut(part, "=")
		if !scoped {
			if i != 0 {
				return nil, fmt.Errorf("log level %q must come first", part)
			}
			lvl, err := parseLevel(part)
			if err != nil {
				return nil, err
			}
			lf.DefaultLogLevel = lvl
			continue
		}
		lvl, err := parseLevel(level)
		if err != nil {
			return nil, err
		}
		lf.ScopeLevels[strings.TrimSpace(scope)] = lvl
	}
	return lf, nil
}
