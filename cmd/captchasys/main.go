package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/engine"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/httpx"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/metrics"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/oracle"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/recorder"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/reputation"
	"github.com/Norman-Deen/CaptchaSysBackSmart/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("config invalid")
	}

	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	metricsSrv := metrics.NewServer(metrics.LoadConfig())
	if err := metricsSrv.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("metrics server failed to start")
	}

	recorders, csvRec := buildRecorders(ctx, cfg)
	fanout := recorder.NewFanout(m, recorders...)
	if err := fanout.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("audit pipeline failed to start")
	}

	var scorer oracle.Scorer
	if cfg.OracleURL != "" {
		scorer = oracle.NewHTTPScorer(cfg.OracleURL, cfg.OracleTimeout)
		logrus.WithField("url", cfg.OracleURL).Info("scoring oracle configured")
	} else {
		// Without an oracle every attempt scores neutral and the
		// heuristics alone decide.
		scorer = oracle.Static{Value: 1.0}
		logrus.Warn("ORACLE_URL not set, using neutral static score")
	}

	store := reputation.NewStore()
	eng := engine.New(scorer, store, fanout, m, engine.Config{
		Policy:        engine.Policy(cfg.DecisionPolicy),
		OracleTimeout: cfg.OracleTimeout,
		FailClosed:    cfg.OracleFailClosed,
	})

	env := httpx.Env{
		Cfg:     *cfg,
		Engine:  eng,
		Metrics: m,
	}
	if csvRec != nil {
		env.Audit = csvRec
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.ServerAddr).Info("captchasys listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logrus.Info("shutting down")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := fanout.Close(); err != nil {
		logrus.WithError(err).Warn("audit pipeline close")
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// buildRecorders assembles the audit outputs named in OUTPUTS. The CSV
// recorder is returned separately because the admin log endpoints need
// its list/delete surface.
func buildRecorders(ctx context.Context, cfg *config.Config) ([]recorder.Recorder, *recorder.CSVRecorder) {
	var recorders []recorder.Recorder
	var csvRec *recorder.CSVRecorder

	for _, out := range cfg.Outputs {
		switch out {
		case "csv":
			csvRec = recorder.NewCSVRecorder(cfg.LogPath)
			recorders = append(recorders, csvRec)
		case "log":
			recorders = append(recorders, recorder.NewLogRecorder())
		case "kafka":
			recorders = append(recorders, recorder.NewKafkaRecorder(recorder.KafkaConfig{
				Brokers:       cfg.KafkaBrokers,
				Topic:         cfg.KafkaTopic,
				Acks:          cfg.KafkaAcks,
				Compression:   cfg.KafkaCompression,
				SASLMechanism: cfg.KafkaSASLMechanism,
				SASLUser:      cfg.KafkaSASLUser,
				SASLPassword:  cfg.KafkaSASLPassword,
				TLSCAPath:     cfg.KafkaTLSCAPath,
				TLSSkipVerify: cfg.KafkaTLSSkipVerify,
			}))
		case "postgres":
			pg := recorder.NewPGRecorder(cfg.PostgresDSN, cfg.PGTable)
			// The database may come up after us; retry the initial
			// connection instead of dying on a race.
			b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
			err := backoff.Retry(func() error {
				if err := pg.Start(ctx); err != nil {
					logrus.WithError(err).Warn("postgres connection failed, retrying")
					return err
				}
				return nil
			}, b)
			if err != nil {
				logrus.WithError(err).Fatal("postgres unreachable")
			}
			recorders = append(recorders, pg)
		}
	}
	return recorders, csvRec
}
