// Package config загружает настройки софтфона из YAML и переменных окружения.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/multiline/pkg/dialog"
	"github.com/arzzra/multiline/pkg/line"
	"github.com/arzzra/multiline/pkg/logging"
)

// Environment имя набора настроек платформы
type Environment string

const (
	EnvTest    Environment = "test"
	EnvPreprod Environment = "preprod"
	EnvProd    Environment = "prod"
)

// Preset адрес WebSocket и домен окружения
type Preset struct {
	WSURL string
	Realm string
	SSL   bool
}

var Presets = map[Environment]Preset{
	EnvTest:    {WSURL: "ws://webrtc-test.exolve.ru:8080", Realm: "80.75.132.122:8080"},
	EnvPreprod: {WSURL: "ws://80.75.132.121:8080", Realm: "80.75.132.121"},
	EnvProd:    {WSURL: "wss://webrtc.exolve.ru:8443", Realm: "80.75.132.120", SSL: true},
}

type Config struct {
	Environment Environment   `yaml:"environment"`
	SIP         SIPConfig     `yaml:"sip"`
	Lines       LinesConfig   `yaml:"lines"`
	Log         LogConfig     `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

type SIPConfig struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
	Realm       string `yaml:"realm"`

	// Server - адрес регистратора: host:port или ws(s)://host:port/path
	Server string `yaml:"server"`
	// SSL - использовать wss адрес окружения
	SSL bool `yaml:"ssl"`

	Transport  string `yaml:"transport"`
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
	MediaHost  string `yaml:"media_host"`
	MediaPort  int    `yaml:"media_port"`
	UserAgent  string `yaml:"user_agent"`

	RegisterExpires time.Duration `yaml:"register_expires"`
	SessionExpires  time.Duration `yaml:"session_expires"`
}

type LinesConfig struct {
	MaxLines        int           `yaml:"max_lines"`
	RegisterTimeout time.Duration `yaml:"register_timeout"`
	ResumeOnPromote bool          `yaml:"resume_on_promote"`
}

type LogConfig struct {
	Format    string `yaml:"format"`
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	// Addr - адрес HTTP сервера метрик, пустой отключает сервер
	Addr string `yaml:"addr"`
}

// Default настройки по умолчанию
func Default() Config {
	return Config{
		SIP: SIPConfig{
			Transport:       string(dialog.TransportUDP),
			ListenHost:      "127.0.0.1",
			ListenPort:      5060,
			MediaPort:       4000,
			UserAgent:       "SoftPhone/1.0",
			RegisterExpires: 100 * time.Second,
			SessionExpires:  500 * time.Second,
		},
		Lines: LinesConfig{
			MaxLines:        0,
			RegisterTimeout: 2 * time.Second,
			ResumeOnPromote: true,
		},
		Log: LogConfig{
			Format: string(logging.FormatConsole),
			Level:  "info",
		},
	}
}

// Load читает YAML файл поверх значений по умолчанию и применяет
// переменные окружения SOFTPHONE_*. Пустой path пропускает файл.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "ошибка чтения конфигурации")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "ошибка разбора %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv переопределяет поля переменными окружения
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	str("SOFTPHONE_USERNAME", &c.SIP.Username)
	str("SOFTPHONE_PASSWORD", &c.SIP.Password)
	str("SOFTPHONE_REALM", &c.SIP.Realm)
	str("SOFTPHONE_SERVER", &c.SIP.Server)
	str("SOFTPHONE_TRANSPORT", &c.SIP.Transport)
	str("SOFTPHONE_LISTEN_HOST", &c.SIP.ListenHost)
	str("SOFTPHONE_LOG_FORMAT", &c.Log.Format)
	str("SOFTPHONE_LOG_LEVEL", &c.Log.Level)
	str("SOFTPHONE_METRICS_ADDR", &c.Metrics.Addr)

	if v, ok := lookup("SOFTPHONE_ENV"); ok {
		c.Environment = Environment(v)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"SOFTPHONE_LISTEN_PORT", &c.SIP.ListenPort},
		{"SOFTPHONE_MAX_LINES", &c.Lines.MaxLines},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "неверное значение %s", e.name)
		}
		*e.dst = n
	}

	if v, ok := lookup("SOFTPHONE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "неверное значение SOFTPHONE_SSL")
		}
		c.SIP.SSL = b
	}
	return nil
}

// ApplyPreset заполняет домен и адрес сервера из окружения, если они не заданы
func (c *Config) ApplyPreset() error {
	if c.Environment == "" {
		return nil
	}
	p, ok := Presets[c.Environment]
	if !ok {
		return fmt.Errorf("неизвестное окружение: %q", c.Environment)
	}
	if c.SIP.Realm == "" {
		c.SIP.Realm = p.Realm
	}
	if c.SIP.Server == "" {
		c.SIP.Server = p.WSURL
		if c.SIP.SSL && !p.SSL {
			c.SIP.Server = Presets[EnvProd].WSURL
		}
	}
	return nil
}

// Validate применяет окружение и проверяет обязательные поля
func (c *Config) Validate() error {
	if err := c.ApplyPreset(); err != nil {
		return err
	}
	if c.SIP.Username == "" {
		return errors.New("не задан sip.username")
	}
	if c.SIP.Realm == "" {
		return errors.New("не задан sip.realm")
	}
	if c.Lines.MaxLines < 0 {
		return fmt.Errorf("lines.max_lines не может быть отрицательным: %d", c.Lines.MaxLines)
	}
	if _, _, err := c.server(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// server разбирает sip.server. Для ws(s) адреса тип транспорта
// и путь берутся из URL.
func (c *Config) server() (addr string, tr dialog.TransportConfig, err error) {
	tr = dialog.TransportConfig{
		Type: dialog.TransportType(strings.ToUpper(c.SIP.Transport)),
		Host: c.SIP.ListenHost,
		Port: c.SIP.ListenPort,
	}
	if c.SIP.Server == "" {
		return "", tr, nil
	}
	if !strings.Contains(c.SIP.Server, "://") {
		if _, _, err := net.SplitHostPort(c.SIP.Server); err != nil {
			return "", tr, errors.Wrapf(err, "неверный sip.server %q", c.SIP.Server)
		}
		return c.SIP.Server, tr, nil
	}

	u, err := url.Parse(c.SIP.Server)
	if err != nil {
		return "", tr, errors.Wrapf(err, "неверный sip.server %q", c.SIP.Server)
	}
	switch u.Scheme {
	case "ws":
		tr.Type = dialog.TransportWS
	case "wss":
		tr.Type = dialog.TransportWSS
	default:
		return "", tr, fmt.Errorf("неподдерживаемая схема sip.server: %q", u.Scheme)
	}
	tr.WSPath = u.Path
	return u.Host, tr, nil
}

// DialogConfig настройки SIP агента
func (c *Config) DialogConfig() (dialog.Config, error) {
	addr, tr, err := c.server()
	if err != nil {
		return dialog.Config{}, err
	}
	d := dialog.DefaultConfig()
	d.Username = c.SIP.Username
	d.Password = c.SIP.Password
	d.DisplayName = c.SIP.DisplayName
	if d.DisplayName == "" {
		d.DisplayName = c.SIP.Username
	}
	d.Realm = c.SIP.Realm
	d.Server = addr
	d.Transport = tr
	d.MediaHost = c.SIP.MediaHost
	d.MediaPort = c.SIP.MediaPort
	d.UserAgent = c.SIP.UserAgent
	d.RegisterExpires = c.SIP.RegisterExpires
	d.SessionExpires = c.SIP.SessionExpires
	return d, nil
}

// LineConfig настройки менеджера линий
func (c *Config) LineConfig() line.Config {
	l := line.DefaultConfig()
	l.MaxLines = c.Lines.MaxLines
	l.RegisterTimeout = c.Lines.RegisterTimeout
	l.ResumeOnPromote = c.Lines.ResumeOnPromote
	return l
}

// LoggingConfig настройки журнала
func (c *Config) LoggingConfig() (logging.Config, error) {
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Format:    logging.Format(c.Log.Format),
		Level:     lvl,
		AddSource: c.Log.AddSource,
	}, nil
}
