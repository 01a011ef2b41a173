package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 민감 정보 키: 값 대신 마스킹 문자열을 기록합니다.
var redactedKeys = map[string]struct{}{
	"secret":     {},
	"token":      {},
	"passphrase": {},
	"access_key": {},
	"secret_key": {},
	"signature":  {},
}

// NewLogger builds the relay's JSON logger. Lines go to stdout and to a
// rotated relay.log under logging.dir, tagged with the service name and version.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Logging.Level),
		ReplaceAttr: redact,
	}

	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// 디렉터리 생성 실패 시 stderr로 대체
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)).With(serviceAttrs(cfg)...)
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "relay.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	return newJSONLogger(io.MultiWriter(os.Stdout, fileLogger), opts).With(serviceAttrs(cfg)...)
}

func newJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, opts))
}

func serviceAttrs(cfg *Config) []any {
	attrs := []any{slog.String("service", cfg.App.Name)}
	if cfg.App.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.App.Version))
	}
	return attrs
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok && a.Value.String() != "" {
		return slog.String(a.Key, "***")
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
