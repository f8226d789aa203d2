package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postcal/internal/alarm"
	"postcal/internal/config"
	"postcal/internal/ics"
	appLog "postcal/internal/log"
	"postcal/internal/metrics"
	"postcal/internal/notify"
	"postcal/internal/posts"
	"postcal/internal/sound"
	"postcal/internal/store"
	"postcal/internal/store/memory"
	"postcal/internal/store/sqlite"
	"postcal/internal/web"
)

var version = "0.1.0-dev"

type flagConfig struct {
	configPath string
	listen     string
	debug      bool
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, err := appLog.ParseLevel(conf.Log.Level)
	if err != nil {
		appLog.Warn("unknown log level, using info", "level", conf.Log.Level)
		level = appLog.LevelInfo
	}
	if flags.debug {
		level = appLog.LevelDebug
	}
	if err := appLog.Init(appLog.Options{Level: level, Dir: conf.Log.Dir}); err != nil {
		appLog.Error("failed to init file logging", err, "dir", conf.Log.Dir)
	}
	defer appLog.Sync()

	appLog.Info("postcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"database", conf.DatabasePath,
		"poll_interval", conf.Alarm.PollInterval,
		"firing_window", conf.Alarm.FiringWindow,
		"ring_timeout", conf.Alarm.RingTimeout,
		"sound_muted", conf.Sound.Muted,
		"notify_disabled", conf.Notify.Disabled,
		"webhook", conf.Notify.WebhookURL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("postcal exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("postcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := openStore(conf)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics.Init()

	loader := alarm.NewLoader(st, alarm.NewSnapshot(nil))
	if err := loader.Reload(ctx); err != nil {
		return err
	}

	// One-shot mode delivers synchronously so nothing is dropped on exit.
	var (
		notifier   notify.Notifier
		dispatcher *notify.Dispatcher
	)
	sink := buildSink(conf)
	if flags.once {
		notifier = sink
	} else {
		dispatcher = notify.NewDispatcher(sink, notify.DispatcherConfig{
			QueueSize:  conf.Notify.QueueSize,
			RatePerSec: conf.Notify.RatePerSec,
		})
		dispatcher.OnResult = metrics.ObserveNotification
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
		notifier = dispatcher
	}
	gate := notify.NewGate(notifier, notify.Static{Granted: !conf.Notify.Disabled})

	loop := alarm.New(loader.Snapshot(), alarm.Config{
		PollInterval: conf.Alarm.PollInterval,
		FiringWindow: conf.Alarm.FiringWindow,
		RingTimeout:  conf.Alarm.RingTimeout,
		Muted:        conf.Sound.Muted,
	},
		alarm.WithCue(buildCue(conf)),
		alarm.WithNotifier(gate),
		alarm.WithDismisser(st),
		alarm.WithReloader(loader),
	)

	if flags.once {
		fired := loop.Evaluate(ctx, time.Now())
		appLog.Info("single evaluation pass complete", "fired", len(fired))
		return nil
	}

	if err := loader.Start(ctx, conf.RefreshCron); err != nil {
		return err
	}
	defer loader.Stop()

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	deps := web.Deps{
		Store:     st,
		Loop:      loop,
		Scheduler: posts.NewService(st),
		Importer: ics.NewImporter(st, ics.NewFetcher(conf.Import.CacheDir, nil), ics.ImportConfig{
			Location:    conf.Location(),
			Platforms:   conf.Schedule.Platforms,
			DefaultTime: conf.Schedule.DefaultTime,
			Horizon:     conf.Import.Horizon,
			MaxPerEvent: conf.Import.MaxPerEvent,
		}),
		Metrics: metrics.Handler(),
	}
	if err := web.StartServer(ctx, conf, deps); err != nil {
		return err
	}

	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(conf *config.Config) (store.Store, error) {
	if conf.DatabasePath == "" {
		appLog.Info("using in-memory store")
		return memory.New(), nil
	}
	db, err := sqlite.Open(conf.DatabasePath)
	if err != nil {
		return nil, err
	}
	appLog.Info("using sqlite store", "path", conf.DatabasePath)
	return db, nil
}

// buildSink fans notifications out to the log and, when configured, a webhook.
func buildSink(conf *config.Config) notify.Notifier {
	sinks := notify.Multi{notify.Log{}}
	if wh := notify.NewWebhook(conf.Notify.WebhookURL); wh != nil {
		sinks = append(sinks, wh)
	}
	return sinks
}

func buildCue(conf *config.Config) sound.Cue {
	if conf.Sound.Muted {
		return sound.Mute{}
	}
	if conf.Sound.Command == "" {
		return &sound.Bell{W: os.Stderr}
	}
	cmd, err := sound.ParseCommand(conf.Sound.Command)
	if err != nil {
		appLog.Warn("invalid sound command, using terminal bell", "command", conf.Sound.Command)
		return &sound.Bell{W: os.Stderr}
	}
	cmd.OnExit = func(err error) {
		if err != nil {
			appLog.Warn("sound player exited with error", "err", err.Error())
		}
	}
	return cmd
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/postcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cfg.once, "once", false, "Run a single alarm evaluation pass and exit")

	flag.Parse()

	return cfg
}
