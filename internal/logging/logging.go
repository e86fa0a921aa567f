package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// applicationLogger is the logger section consulted before falling back to root.
const applicationLogger = "anitya"

// Settings describes the zap logger derived from a dictConfig-style mapping.
type Settings struct {
	Level      zapcore.Level
	Encoding   string
	OutputPath string
}

// New creates a production-ready structured logger configured for JSON output.
func New() (*zap.Logger, error) {
	logger, err := build(Settings{Level: zapcore.InfoLevel, Encoding: "json", OutputPath: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// FromConfig builds a logger from the ANITYA_LOG_CONFIG mapping.
func FromConfig(spec map[string]any) (*zap.Logger, error) {
	settings, err := ParseSettings(spec)
	if err != nil {
		return nil, err
	}
	logger, err := build(settings)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ParseSettings interprets the subset of a dictConfig mapping that has a zap
// equivalent: the level and first handler of the anitya logger (or root), the
// handler's stream or file, and whether it names a formatter.
func ParseSettings(spec map[string]any) (Settings, error) {
	settings := Settings{Level: zapcore.InfoLevel, Encoding: "json", OutputPath: "stdout"}

	logger := section(section(spec, "loggers"), applicationLogger)
	if logger == nil {
		logger = section(spec, "root")
	}

	if raw, ok := logger["level"]; ok {
		level, err := parseLevel(raw)
		if err != nil {
			return Settings{}, err
		}
		settings.Level = level
	}

	handler := section(section(spec, "handlers"), firstHandler(logger))
	if handler == nil {
		return settings, nil
	}
	if formatter, _ := handler["formatter"].(string); formatter != "" {
		settings.Encoding = "console"
	}
	if filename, _ := handler["filename"].(string); filename != "" {
		settings.OutputPath = filename
	} else if stream, _ := handler["stream"].(string); stream != "" {
		path, err := streamPath(stream)
		if err != nil {
			return Settings{}, err
		}
		settings.OutputPath = path
	}
	return settings, nil
}

func build(settings Settings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(settings.Level)
	cfg.Encoding = settings.Encoding
	cfg.OutputPaths = []string{settings.OutputPath}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.DisableStacktrace = false
	if settings.Encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg.Build()
}

func section(m map[string]any, key string) map[string]any {
	if m == nil || key == "" {
		return nil
	}
	out, _ := m[key].(map[string]any)
	return out
}

func firstHandler(logger map[string]any) string {
	handlers, _ := logger["handlers"].([]any)
	for _, h := range handlers {
		if name, ok := h.(string); ok && name != "" {
			return name
		}
	}
	return ""
}

func parseLevel(raw any) (zapcore.Level, error) {
	switch v := raw.(type) {
	case int:
		return numericLevel(v), nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "DEBUG", "NOTSET":
			return zapcore.DebugLevel, nil
		case "INFO":
			return zapcore.InfoLevel, nil
		case "WARNING", "WARN":
			return zapcore.WarnLevel, nil
		case "ERROR":
			return zapcore.ErrorLevel, nil
		case "CRITICAL", "FATAL":
			return zapcore.FatalLevel, nil
		}
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %v", raw)
}

// numericLevel maps Python's numeric levels (10, 20, 30, ...) onto zap.
func numericLevel(v int) zapcore.Level {
	switch {
	case v < 20:
		return zapcore.DebugLevel
	case v < 30:
		return zapcore.InfoLevel
	case v < 40:
		return zapcore.WarnLevel
	case v < 50:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func streamPath(stream string) (string, error) {
	switch stream {
	case "ext://sys.stdout":
		return "stdout", nil
	case "ext://sys.stderr":
		return "stderr", nil
	default:
		return "", fmt.Errorf("unsupported log stream %q", stream)
	}
}
