package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go-ambient-light-control/api"
	"go-ambient-light-control/boblight"
	"go-ambient-light-control/config"
	"go-ambient-light-control/effect"
	"go-ambient-light-control/grabber"
	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
	"go-ambient-light-control/output"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径")
	spiDevice := flag.String("spi", "", "SPI 设备路径 (覆盖配置文件)")
	apiPort := flag.Int("port", 0, "Web API 监听端口 (覆盖配置文件)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *spiDevice != "" {
		cfg.Output.Device = *spiDevice
		cfg.Output.Driver = "spi"
	}
	if *apiPort != 0 {
		cfg.API.Listen = fmt.Sprintf(":%d", *apiPort)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	logger.Info().Int("leds", cfg.LEDs.Count).Str("driver", cfg.Output.Driver).
		Msg("starting ambient light controller")

	met := metrics.New()

	var w output.Writer
	switch cfg.Output.Driver {
	case "spi":
		sw, err := output.NewSPIWriter(cfg.Output.Device)
		if err != nil {
			logger.Fatal().Err(err).Str("device", cfg.Output.Device).Msg("spi init failed")
		}
		w = sw
	default:
		w = &output.Discard{LEDCount: cfg.LEDs.Count}
	}
	defer w.Close()

	mux := muxer.New(muxer.Config{
		LEDCount:     cfg.LEDs.Count,
		TickInterval: time.Duration(cfg.Muxer.TickMs) * time.Millisecond,
		Logger:       logger,
		Recorder:     met,
	})

	reg := effect.NewRegistry(cfg.Effects.Dir, logger)
	if err := reg.Load(); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Effects.Dir).Msg("effect scripts unavailable")
	}
	runner := effect.NewRunner(mux, reg, logger, met)
	loop := output.NewLoop(mux, w, logger, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(ctx, mux, runner, reg, met, logger)
	server := &http.Server{Addr: cfg.API.Listen, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.API.Listen).Msg("web api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Effects.Watch {
		g.Go(func() error {
			if err := reg.Watch(ctx); err != nil {
				logger.Warn().Err(err).Msg("effect hot-reload disabled")
			}
			return nil
		})
	}
	if cfg.Boblight.Enabled {
		bob := boblight.New(mux, cfg.Boblight.Listen, cfg.Boblight.Priority, logger, met)
		g.Go(func() error { return bob.ListenAndServe(ctx) })
	}
	if cfg.Grabber.Enabled {
		grab := grabber.New(mux, cfg.Grabber.Priority,
			time.Duration(cfg.Grabber.IntervalMs)*time.Millisecond, logger, met)
		g.Go(func() error { return grab.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("shutdown with error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}
