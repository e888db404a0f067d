package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postsched/internal/config"
	appLog "postsched/internal/log"
	"postsched/internal/session"
	"postsched/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("postsched starting", "version", "0.1.0")

	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"events_url", conf.EventsURL,
		"push_configured", conf.PushURL != "",
		"poll", conf.PollCron,
		"max_results", conf.MaxResults,
		"once", flags.once,
	)

	sess := session.New(conf)

	if flags.once {
		runOnce(sess)
		return
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	sess.Start(ctx)

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, sess).Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}

	sess.Stop()
	appLog.Info("postsched exiting")
}

// runOnce performs a single fetch cycle and prints the result; handy for
// checking classifier behavior against a live calendar without running the
// daemon.
func runOnce(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sess.RunOnce(ctx); err != nil {
		appLog.Error("fetch cycle failed", err)
		os.Exit(1)
	}

	for _, s := range sess.Store().List() {
		appLog.Info("schedule", "id", s.ID, "title", s.Title, "date", s.Date, "start", s.StartTime)
	}
	appLog.Info("fetch cycle complete", "count", sess.Store().Count())
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/postsched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch cycle, print schedules, and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
