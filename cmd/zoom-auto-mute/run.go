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

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/qieqieplus/zoom-auto-mute/pkg/config"
	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
	"github.com/qieqieplus/zoom-auto-mute/pkg/metrics"
	"github.com/qieqieplus/zoom-auto-mute/pkg/monitor"
	"github.com/qieqieplus/zoom-auto-mute/pkg/server"
	"github.com/qieqieplus/zoom-auto-mute/pkg/xapi"
)

func loadConfig(args []string) *config.Config {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func runMonitor(args []string) {
	cfg := loadConfig(args)

	log.InitWithOptions(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer log.Close()
	log.Infof("Starting zoom-auto-mute for %s", cfg.Device.URL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	bus := feedback.NewBus()
	bus.OnPublish(collector.FeedbackReceived)

	client := xapi.NewClient(xapi.OptionsFromConfig(cfg), bus)
	for _, path := range monitor.Paths {
		client.Subscribe(path)
	}

	mon := monitor.New(xapi.NewDevice(client), monitor.OptionsFromConfig(cfg), collector)

	sub := feedback.NewSubscriber("monitor", 64)
	sub.SetPathFilter(monitor.Paths...)
	bus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.SetStateHook(func(connected bool) {
		collector.SetDeviceConnected(connected)
		if connected {
			// call events may have been missed while the connection was down
			go mon.Reconcile(ctx)
		}
	})

	g := run.Group{}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	g.Add(func() error {
		select {
		case sig := <-stop:
			log.Infof("Received %s, shutting down...", sig)
		case <-ctx.Done():
		}
		return nil
	}, func(error) {
		signal.Stop(stop)
		cancel()
	})

	g.Add(func() error { return client.Run(ctx) }, func(error) { cancel() })

	g.Add(func() error { return mon.Run(ctx, sub) }, func(error) {
		cancel()
		bus.Unsubscribe(sub.ID)
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           server.NewHTTPServer(mon, client, bus, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			log.Infof("Status server listening on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Error during status server shutdown: %v", err)
			}
		})
	}

	if err := g.Run(); err != nil {
		log.Errorf("Stopped with error: %v", err)
	}
	bus.Shutdown()
	log.Info("Shutdown complete.")
}
