package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/svxgo/svxreflector/pkg/config"
	"github.com/svxgo/svxreflector/pkg/history"
	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/reflector"
	"github.com/svxgo/svxreflector/pkg/tg"
	"github.com/svxgo/svxreflector/pkg/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SvxReflector %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	log := logger.New(logger.Config{
		Level:  "info",
		Format: "text",
	})

	log.Info("Starting SvxReflector",
		logger.String("version", version),
		logger.String("build_time", buildTime))

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	if *validate {
		log.Info("Configuration is valid")
		os.Exit(0)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	fatalChan := make(chan error, 1)

	tgh := tg.NewHandler(log)
	tgh.SetSqlTimeout(time.Duration(cfg.Global.SqlTimeout) * time.Second)
	tgh.SetSqlTimeoutBlocktime(time.Duration(cfg.Global.SqlTimeoutBlocktime) * time.Second)

	qsyLo, qsySize, _ := cfg.Global.QsyRange()
	refl := reflector.New(reflector.Config{
		ListenPort:     cfg.Global.ListenPort,
		AuthKey:        cfg.Global.AuthKey,
		TGForV1Clients: cfg.Global.TGForV1Clients,
		RandomQsyLo:    qsyLo,
		RandomQsySize:  qsySize,
	}, tgh, log)

	// Talk history recorder
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.NewRecorder(cfg.History, log)
		if err != nil {
			log.Error("Failed to open history database", logger.Error(err))
			os.Exit(1)
		}
		refl.AddEventSink(recorder)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("History recorder error", logger.Error(err))
			}
		}()
		log.Info("Talk history enabled", logger.String("path", cfg.History.Path))
	}

	// Status endpoint and event feed
	if cfg.Web.Enabled {
		webServer := web.NewServer(cfg.Web, refl, log.WithComponent("web"))
		refl.AddEventSink(webServer.Hub())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Web server error", logger.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := refl.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatalChan <- err
		}
	}()

	// Socket binding happens before the started signal: a failure at
	// this point is an initialization error, not a runtime one
	started := make(chan struct{})
	go func() {
		if refl.WaitStarted(ctx) == nil {
			close(started)
		}
	}()
	select {
	case err := <-fatalChan:
		log.Error("Reflector initialization failed", logger.Error(err))
		cancel()
		wg.Wait()
		os.Exit(1)
	case <-started:
	}

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", logger.String("signal", sig.String()))
	case err := <-fatalChan:
		log.Error("Reflector error", logger.Error(err))
		exitCode = 2
	}

	cancel()
	wg.Wait()

	if recorder != nil {
		_ = recorder.Close()
	}

	log.Info("SvxReflector stopped")
	os.Exit(exitCode)
}
