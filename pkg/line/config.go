package line

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Config содержит конфигурацию менеджера линий
type Config struct {
	// MaxLines - максимальное число одновременных линий (0 = без ограничений)
	MaxLines int

	// RegisterTimeout - время ожидания ответа на REGISTER
	RegisterTimeout time.Duration

	// ResumeOnPromote - снимать с удержания линию, ставшую активной
	// после завершения предыдущей активной линии
	ResumeOnPromote bool

	// OnIncoming - обработчик входящих приглашений, вызывается после LineAdded
	OnIncoming func(inv *Invitation)

	// Logger - логгер, по умолчанию slog.Default()
	Logger *slog.Logger

	// Registerer - куда регистрировать метрики, по умолчанию отдельный реестр
	Registerer prometheus.Registerer

	// NewID - генератор идентификаторов линий
	NewID func() string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxLines:        0,
		RegisterTimeout: 2 * time.Second,
		ResumeOnPromote: true,
		NewID:           func() string { return uuid.New().String() },
	}
}

// Validate проверяет корректность конфигурации и заполняет пустые поля
func (c *Config) Validate() error {
	if c.MaxLines < 0 {
		return fmt.Errorf("max lines must not be negative: %d", c.MaxLines)
	}
	if c.RegisterTimeout < 0 {
		return fmt.Errorf("register timeout must not be negative: %s", c.RegisterTimeout)
	}
	if c.RegisterTimeout == 0 {
		c.RegisterTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.New().String() }
	}
	return nil
}
