package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-pg/pg"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/interactive-solutions/go-dispatch"
	"github.com/interactive-solutions/go-dispatch/internal/config"
	"github.com/interactive-solutions/go-dispatch/provider/46elks"
	awsprovider "github.com/interactive-solutions/go-dispatch/provider/aws"
	"github.com/interactive-solutions/go-dispatch/provider/twilio"
	"github.com/interactive-solutions/go-dispatch/source/odoo"
	gopg "github.com/interactive-solutions/go-dispatch/storage/go-pg"
)

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}

	return logger
}

func newTransport(cfg config.ProviderConfig) (dispatch.Transport, error) {
	switch cfg.Transport {
	case "46elks":
		return elks.New46ElksClient(), nil

	case "sns":
		sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.AwsRegion))
		if err != nil {
			return nil, err
		}

		return awsprovider.NewSnsTransport(sess), nil
	}

	var options []twilio.Option
	if cfg.BaseUrl != "" {
		options = append(options, twilio.SetBaseUrl(cfg.BaseUrl))
	}

	return twilio.NewTwilioTransport(options...), nil
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := newLogger(cfg.Logging)

	db := pg.Connect(&pg.Options{
		Addr:     cfg.Database.Addr,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		PoolSize: cfg.Database.PoolSize,
	})
	defer db.Close()

	transport, err := newTransport(cfg.Provider)
	if err != nil {
		logger.WithError(err).Fatal("failed to create transport")
	}

	options := []dispatch.AppOption{
		dispatch.SetLogger(logger),
		dispatch.SetTransport(transport),
		dispatch.SetJobRepo(gopg.NewJobRepository(db)),
		dispatch.SetLedger(gopg.NewLedger(db)),
		dispatch.SetConfigRepo(gopg.NewConfigRepository(db)),
		dispatch.SetTemplateRepo(gopg.NewTemplateRepository(db)),
		dispatch.SetSweepInterval(cfg.Sweep.Interval),
		dispatch.SetWorkerCount(cfg.Sweep.Workers),
	}

	if cfg.Odoo.Enabled() {
		source, err := odoo.NewOdooSource(cfg.Odoo.Url, cfg.Odoo.Database, cfg.Odoo.Username, cfg.Odoo.Password,
			odoo.SetLogger(logger.WithField("component", "odoo")),
			odoo.SetTimeout(cfg.Odoo.Timeout),
		)
		if err != nil {
			logger.WithError(err).Fatal("failed to create odoo source")
		}

		options = append(options, dispatch.SetOrderSource(source))
	}

	app, err := dispatch.NewApplication(options...)
	if err != nil {
		logger.WithError(err).Fatal("failed to create application")
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	app.HttpHandler().Register(router.PathPrefix("/api").Subrouter())

	server := &http.Server{
		Addr:         cfg.Http.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Http.ReadTimeout,
		WriteTimeout: cfg.Http.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)

	go func() {
		logger.WithField("addr", server.Addr).Info("http server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down http server")
	}

	app.Shutdown(shutdownCtx)
}
