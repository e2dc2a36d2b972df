// Package logging - logrus setup shared by the server and CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RequestIDKey is the field name carrying the request id.
const RequestIDKey = "request_id"

// Fields is an alias so callers need not import logrus for field maps.
type Fields = logrus.Fields

// Options configures New.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string
	// File enables a rotating file sink next to Output.
	File string
	// NoColors disables ANSI colors.
	NoColors bool
	// Output is the console sink. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger with the nested formatter, caller reporting and an
// optional lumberjack file sink.
//
// Arguments:
//   - opts: The logger options.
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: An error if the level is unknown.
func New(opts Options) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, errors.Wrap(err, "invalid log level")
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			if opts.NoColors {
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
			}
			return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
		},
	})

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{out}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetReportCaller(true)

	return logger, nil
}

// ErrorWithTraceID logs msg at error level and returns the trace id attached
// to it: the request id from fields when present, a fresh uuid otherwise.
func ErrorWithTraceID(log logrus.FieldLogger, fields Fields, msg string) string {
	if fields == nil {
		fields = Fields{}
	}

	traceID, _ := fields[RequestIDKey].(string)
	if traceID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			traceID = "unknown"
		} else {
			traceID = id.String()
		}
	}

	fields["trace_id"] = traceID
	log.WithFields(fields).Error(msg)

	return traceID
}
