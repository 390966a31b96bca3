// Команда softphone запускает многолинейный SIP телефон без медиа:
// регистрация, входящие и исходящие вызовы, журнал событий линий и метрики.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/multiline/pkg/config"
	"github.com/arzzra/multiline/pkg/dialog"
	"github.com/arzzra/multiline/pkg/line"
	"github.com/arzzra/multiline/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации")
		env        = flag.String("env", "", "окружение: test, preprod, prod")
		metrics    = flag.String("metrics", "", "адрес HTTP сервера метрик, например :9100")
		call       = flag.String("call", "", "номер или SIP URI для вызова после регистрации")
		autoAnswer = flag.Bool("answer", false, "автоматически принимать входящие вызовы")
	)
	flag.Parse()

	if err := run(*configPath, *env, *metrics, *call, *autoAnswer); err != nil {
		fmt.Fprintln(os.Stderr, "softphone:", err)
		os.Exit(1)
	}
}

func run(configPath, env, metricsAddr, target string, autoAnswer bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if env != "" {
		cfg.Environment = config.Environment(env)
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dcfg, err := cfg.DialogConfig()
	if err != nil {
		return err
	}
	dcfg.Logger = logger
	dcfg.Registerer = reg
	ua, err := dialog.NewUACUAS(dcfg)
	if err != nil {
		return err
	}
	defer ua.Close()
	ua.OnConnectionEvent(func(ev dialog.ConnectionEvent) {
		logger.Info("connection", slog.String("event", ev.String()))
	})

	lcfg := cfg.LineConfig()
	lcfg.Logger = logger
	lcfg.Registerer = reg
	if autoAnswer {
		lcfg.OnIncoming = func(inv *line.Invitation) {
			go func() {
				if err := inv.Accept(context.Background()); err != nil {
					logger.Warn("accept", slog.String("line", inv.ID()), slog.Any("error", err))
				}
			}()
		}
	}
	m, err := line.NewManager(lcfg, ua)
	if err != nil {
		return err
	}
	m.Subscribe(logSink(logger))
	m.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ua.Listen(gctx)
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server started", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		if err := m.Register(gctx); err != nil {
			logger.Error("register", slog.Any("error", err))
			return nil
		}
		if target == "" {
			return nil
		}
		l, err := m.Call(gctx, target)
		if err != nil {
			logger.Error("call", slog.String("target", target), slog.Any("error", err))
			return nil
		}
		logger.Info("calling", slog.String("line", l.ID), slog.String("target", l.Target))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return m.Close(sctx)
	})

	return g.Wait()
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// logSink пишет уведомления менеджера линий в журнал
func logSink(logger *slog.Logger) line.Events {
	return line.Events{
		LineAdded: func(l line.Line) {
			logger.Info("line added",
				slog.String("line", l.ID),
				slog.String("target", l.Target),
				slog.String("direction", l.Direction.String()))
		},
		LineRemoved: func(id string) {
			logger.Info("line removed", slog.String("line", id))
		},
		LineChanged: func(l line.Line) {
			logger.Info("line changed",
				slog.String("line", l.ID),
				slog.String("status", l.Status.String()),
				slog.Bool("held", l.IsHeld),
				slog.Bool("muted", l.IsMuted))
		},
		ActiveLineChanged: func(id string) {
			logger.Info("active line", slog.String("line", id))
		},
		TransferFailed: func(id string, err error) {
			logger.Warn("transfer failed", slog.String("line", id), slog.Any("error", err))
		},
		RegistrationFailed: func(err error) {
			logger.Warn("registration failed", slog.Any("error", err))
		},
	}
}
