// Package observability provides the process-wide loggers for gostudio.
//
// CLI commands log human-readable lines through CLILogger; the serve path
// builds a structured JSON logger via InitLogger. Observability here is
// logs only: gostudio exposes no metrics or telemetry endpoints.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the human-first console logger used by CLI commands. It
// defaults to a no-op logger so code paths that run before InitCLILogger
// (early init, tests) can log safely.
var CLILogger = zap.NewNop()

// Profiles accepted by InitLogger.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// InitCLILogger installs the console logger used by CLI commands. Output
// goes to stderr so stdout stays reserved for JSONL and --json data.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = newConsoleLogger(level).Named(name)
}

// InitLogger builds the logger for long-running processes. The structured
// profile emits production JSON; the console profile reuses the CLI
// encoder. The returned logger is also installed as CLILogger so shared
// helpers write to the same sink.
func InitLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var logger *zap.Logger
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case ProfileStructured, "":
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		logger, err = cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build structured logger: %w", err)
		}
	case ProfileConsole:
		logger = newConsoleLogger(lvl)
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}

	CLILogger = logger
	return logger, nil
}

// Sync flushes buffered log entries. Sync errors are ignored: stderr may
// already be gone on exit paths.
func Sync() {
	if CLILogger != nil {
		_ = CLILogger.Sync()
	}
}

func newConsoleLogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
