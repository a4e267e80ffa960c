// Package obslog holds the process-wide zap logger. It is a no-op until InitFromEnv or Set.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() { global.Store(zap.NewNop()) }

func L() *zap.Logger { return global.Load() }

// Set replaces the global logger. A nil logger restores the no-op one.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// Sync flushes buffered entries of the global logger.
func Sync() error { return L().Sync() }

// InitFromEnv builds the global logger from LOG_LEVEL, LOG_FORMAT (legacy|json|console),
// LOG_TO_CONSOLE, LOG_TO_FILE, LOG_FILE, LOG_CALLER and LOG_COLOR.
func InitFromEnv() error {
	level := parseLevel(getenvDefault("LOG_LEVEL", "info"))
	console := envBool("LOG_TO_CONSOLE", true)
	toFile := envBool("LOG_TO_FILE", false)
	showCaller := envBool("LOG_CALLER", false)
	color := envBool("LOG_COLOR", false)
	format := strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy")))
	if format != "legacy" && format != "json" && format != "console" {
		format = "legacy"
	}
	filePath := strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "keizar.log")))

	var cores []zapcore.Core
	if console {
		cores = append(cores, zapcore.NewCore(newEncoder(format, color), zapcore.AddSync(os.Stdout), level))
	}
	if toFile {
		if err := ensureDir(filepath.Dir(filePath)); err != nil {
			return err
		}
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		// Colors would end up as escape codes in the file.
		cores = append(cores, zapcore.NewCore(newEncoder(format, false), zapcore.AddSync(f), level))
	}
	if len(cores) == 0 {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if showCaller || format == "legacy" {
		opts = append(opts, zap.AddCaller())
	}
	Set(zap.New(zapcore.NewTee(cores...), opts...))
	return nil
}

func newEncoder(format string, color bool) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(consoleEncoderConfig(color))
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// legacy is "2006-01-02 15:04:05 | INFO | caller | msg | fields".
func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
