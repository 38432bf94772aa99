// Package logflags controls which subsystem loggers are active,
// grounded on the teacher's pkg/logflags/logflags.go: a handful of
// package-level booleans, enabled by the --log switch and selected by
// the comma-separated --log-output list, each backing a
// lazily-constructed logrus.Entry.
package logflags

import (
	"io"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	inferiorLog bool
	dwarfLog    bool
	evalLog     bool
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Inferior returns true if the inferior package should log ptrace
// traffic.
func Inferior() bool { return inferiorLog }

// InferiorLogger returns a configured logger for the inferior package.
func InferiorLogger() *logrus.Entry {
	return makeLogger(inferiorLog, logrus.Fields{"layer": "inferior"})
}

// DWARF returns true if DWARF indexing should log recoverable parse
// oddities rather than silently skipping them.
func DWARF() bool { return dwarfLog }

// DWARFLogger returns a configured logger for DWARF indexing.
func DWARFLogger() *logrus.Entry {
	return makeLogger(dwarfLog, logrus.Fields{"layer": "dwarfindex"})
}

// Eval returns true if the expression evaluator should log resolution
// steps.
func Eval() bool { return evalLog }

// EvalLogger returns a configured logger for the expression evaluator.
func EvalLogger() *logrus.Entry {
	return makeLogger(evalLog, logrus.Fields{"layer": "eval"})
}

// Setup configures the package-level loggers and the standard log
// package's destination from a --log/--log-output pair, mirroring the
// teacher's Setup.
func Setup(logFlag bool, logstr string, out io.Writer) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		return nil
	}
	if out != nil {
		log.SetOutput(out)
	}
	if logstr == "" {
		logstr = "inferior"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "inferior":
			inferiorLog = true
		case "dwarf":
			dwarfLog = true
		case "eval":
			evalLog = true
		}
	}
	return nil
}
