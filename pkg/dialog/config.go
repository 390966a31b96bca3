package dialog

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type TransportType string

const (
	// TransportUDP - UDP транспорт
	TransportUDP TransportType = "UDP"
	// TransportTCP - TCP транспорт
	TransportTCP TransportType = "TCP"
	// TransportTLS - TLS транспорт
	TransportTLS TransportType = "TLS"
	// TransportWS - WebSocket транспорт
	TransportWS TransportType = "WS"
	// TransportWSS - WebSocket Secure транспорт
	TransportWSS TransportType = "WSS"
)

// Network возвращает имя сети для sipgo (udp, tcp, tls, ws, wss)
func (t TransportType) Network() string {
	return strings.ToLower(string(t))
}

// Valid проверяет, что тип транспорта известен
func (t TransportType) Valid() bool {
	switch t {
	case TransportUDP, TransportTCP, TransportTLS, TransportWS, TransportWSS:
		return true
	}
	return false
}

// TransportConfig содержит конфигурацию транспортного протокола.
//
// Пример использования:
//
//	cfg := dialog.DefaultConfig()
//	cfg.Transport = dialog.TransportConfig{
//	    Type: dialog.TransportWSS,
//	    Host: "10.0.0.5",
//	    Port: 8443,
//	}
type TransportConfig struct {
	// Type - тип транспорта
	Type TransportType

	// Host - адрес для прослушивания и для заголовка Contact
	Host string

	// Port - порт для прослушивания
	Port int

	// WSPath - путь для WebSocket соединения (по умолчанию "/")
	WSPath string

	// TLSConfig сертификат для приема TLS и WSS.
	// Без него агент только устанавливает исходящие соединения.
	TLSConfig *tls.Config
}

// Addr адрес прослушивания host:port
func (t TransportConfig) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Config конфигурация SIP агента
type Config struct {
	// Username - пользователь для From, Contact и digest-авторизации
	Username string
	// Password - пароль для digest-авторизации
	Password string
	// DisplayName - отображаемое имя в From
	DisplayName string

	// Realm - домен учетной записи (sip:user@realm)
	Realm string

	// Server - адрес регистратора и исходящего прокси host:port.
	// Пустое значение означает отправку по Request-URI.
	Server string

	UserAgent string
	Transport TransportConfig

	// MediaHost и MediaPort объявляются в SDP
	MediaHost string
	MediaPort int

	// RegisterExpires - время жизни регистрации
	RegisterExpires time.Duration

	// RequestTimeout - время ожидания ответа на внутридиалоговые запросы
	RequestTimeout time.Duration

	// SessionExpires - значение Session-Expires в INVITE (RFC 4028), 0 отключает
	SessionExpires time.Duration

	// DTMFDuration - длительность тона в INFO, DTMFInterToneGap - пауза между INFO
	DTMFDuration     time.Duration
	DTMFInterToneGap time.Duration

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		UserAgent: "SoftPhone/1.0",
		Transport: TransportConfig{
			Type: TransportUDP,
			Host: "127.0.0.1",
			Port: 5060,
		},
		MediaPort:        4000,
		RegisterExpires:  100 * time.Second,
		RequestTimeout:   5 * time.Second,
		DTMFDuration:     100 * time.Millisecond,
		DTMFInterToneGap: 500 * time.Millisecond,
	}
}

// Validate проверяет конфигурацию и заполняет пустые поля
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("не задан пользователь")
	}
	if c.Realm == "" {
		return fmt.Errorf("не задан домен учетной записи")
	}
	if c.Transport.Type == "" {
		c.Transport.Type = TransportUDP
	}
	if !c.Transport.Type.Valid() {
		return fmt.Errorf("неизвестный транспорт: %s", c.Transport.Type)
	}
	if c.Transport.Host == "" {
		return fmt.Errorf("не задан адрес транспорта")
	}
	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("неверный порт транспорта: %d", c.Transport.Port)
	}
	if c.MediaPort < 0 || c.MediaPort > 65535 {
		return fmt.Errorf("неверный медиа порт: %d", c.MediaPort)
	}
	if c.SessionExpires < 0 {
		return fmt.Errorf("Session-Expires не может быть отрицательным: %s", c.SessionExpires)
	}
	if c.RegisterExpires < 0 {
		return fmt.Errorf("время регистрации не может быть отрицательным: %s", c.RegisterExpires)
	}
	if c.UserAgent == "" {
		c.UserAgent = "SoftPhone/1.0"
	}
	if c.MediaHost == "" {
		c.MediaHost = c.Transport.Host
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.DTMFDuration <= 0 {
		c.DTMFDuration = 100 * time.Millisecond
	}
	if c.DTMFInterToneGap < 0 {
		c.DTMFInterToneGap = 0
	}
	if c.Transport.WSPath == "" {
		c.Transport.WSPath = "/"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	return nil
}
