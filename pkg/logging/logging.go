// Package logging собирает slog.Logger приложения по формату из конфигурации.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

// Format формат вывода журнала
type Format string

const (
	FormatConsole Format = "console"
	FormatDev     Format = "dev"
	FormatJSON    Format = "json"
	FormatNone    Format = "none"
)

// Config параметры логгера
type Config struct {
	Format    Format
	Level     slog.Level
	AddSource bool
	// Output по умолчанию os.Stdout
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{Format: FormatConsole, Level: slog.LevelInfo}
}

// Validate проверяет формат и заполняет пустые поля
func (c *Config) Validate() error {
	switch c.Format {
	case "":
		c.Format = FormatConsole
	case FormatConsole, FormatDev, FormatJSON, FormatNone:
	default:
		return fmt.Errorf("неизвестный формат журнала: %q", c.Format)
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	return nil
}

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByKey("password", func(slog.Value) slog.Value {
		return slog.StringValue("*****")
	}),
)

// New создает логгер. Ошибки и пароли форматируются единообразно во всех форматах.
func New(cfg Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := cfg.Output

	var h slog.Handler
	switch cfg.Format {
	case FormatConsole:
		h = console.NewHandler(out, &console.HandlerOptions{
			AddSource:  cfg.AddSource,
			Level:      cfg.Level,
			TimeFormat: time.RFC3339Nano,
		})
	case FormatDev:
		h = devslog.NewHandler(out, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: cfg.AddSource,
				Level:     cfg.Level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		})
	case FormatJSON:
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource: cfg.AddSource,
			Level:     cfg.Level,
		})
	default:
		return Noop, nil
	}
	return slog.New(newHandler(h)), nil
}

// ParseLevel разбирает уровень журнала: debug, info, warn, error
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("неизвестный уровень журнала %q: %w", s, err)
	}
	return lvl, nil
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop логгер, который ничего не пишет
var Noop = slog.New(noopHandler{})
