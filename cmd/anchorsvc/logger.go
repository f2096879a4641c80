package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openanchor/anchorsvc/pkg/log"
)

var logFormats = []string{"json", "text"}

func newLogger(level, format string) (log.Logger, error) {
	logger := logrus.New()
	logger.Out = os.Stderr

	parsedLevel := logrus.InfoLevel
	if level != "" {
		var err error
		parsedLevel, err = logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %v", level, err)
		}
	}
	logger.SetLevel(parsedLevel)

	switch strings.ToLower(format) {
	case "", "text":
		logger.Formatter = &logrus.TextFormatter{DisableColors: true}
	case "json":
		logger.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("log format is not one of the supported values (%s): %s", strings.Join(logFormats, ", "), format)
	}

	return log.NewLogrusLogger(logger), nil
}
