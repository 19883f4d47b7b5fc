package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"availcal/internal/config"
	"availcal/internal/ics"
	appLog "availcal/internal/log"
	"availcal/internal/metrics"
	"availcal/internal/service"
	"availcal/internal/store"
	"availcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	envFile    string
}

func main() {
	flags := parseFlags()

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(flags.envFile); err != nil && !os.IsNotExist(err) {
		appLog.Warn("failed to load env file", "path", flags.envFile, "err", err)
	}

	appLog.Info("availcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file and env if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	feed := "(not configured)"
	if conf.ICalURL != "" {
		feed = ics.RedactURL(conf.ICalURL)
	}
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"ical_url", feed,
		"cache_seconds", conf.CacheSeconds,
		"opening_hours", conf.OpeningHoursStart+"-"+conf.OpeningHoursEnd,
		"min_free_minutes", conf.MinFreeMinutes,
		"max_range_days", conf.MaxRangeDays,
		"rate_limit_per_minute", conf.RateLimitPerMinute,
		"sweep", conf.Sweep,
		"basic_auth", conf.BasicAuth != nil,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	mem := store.NewMemory()
	janitor, err := store.StartJanitor(mem, conf.Sweep)
	if err != nil {
		appLog.Error("failed to start store janitor", err)
		os.Exit(1)
	}

	svc, err := service.New(conf, mem, ics.NewFetcher(conf.FetchTimeout()), m)
	if err != nil {
		appLog.Error("failed to build availability service", err)
		os.Exit(1)
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

	srv := web.NewServer(conf, svc, reg)
	if err := web.StartServer(ctx, conf, srv.Handler()); err != nil {
		appLog.Error("HTTP server error", err)
		<-janitor.Stop().Done()
		os.Exit(1)
	}

	// 진행 중인 sweep 이 끝날 때까지 기다린다.
	<-janitor.Stop().Done()
	appLog.Info("availcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/availcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional dotenv file loaded before AVAILCAL_* overrides")

	flag.Parse()

	return cfg
}
