package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/metrics"
	"github.com/hthome/hiot/pkg/mqtt"
	"github.com/hthome/hiot/pkg/poller"
	"github.com/hthome/hiot/pkg/server"
	"github.com/hthome/hiot/pkg/storage"
)

func main() {
	// init packages
	m := metrics.New()
	client, account := hiot.Configured(m)
	pollCfg := poller.Configured(m)
	s := storage.Configured()
	pub := mqtt.Configured()

	// init server
	srv := server.Configured(client, s, m)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	defer func() {
		if err := client.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close hiot client", slog.Any("error", err))
		}
	}()

	if err := account.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid hiot account", slog.Any("error", err))
		os.Exit(1)
	}

	site, err := client.Connect(ctx, *account)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to hiot", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to hiot", slog.String("siteID", site.SiteID), slog.String("dong", site.Dong), slog.String("ho", site.Ho))

	p := poller.New(client, site.SiteID, *pollCfg)
	p.AddEnergySink(poller.EnergySinkFunc(s.UpsertEnergy))
	if pub.Enabled() {
		if err := pub.Connect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt", slog.Any("error", err))
			os.Exit(1)
		}
		defer pub.Close()
		p.AddDeviceSink(pub)
		p.AddEnergySink(pub)
	}

	// the poller only returns an error when the session cannot be recovered
	// which also stops the server
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.Run(ctx)
	})
	eg.Go(func() error {
		return srv.Run(ctx, p)
	})
	if err := eg.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "hiot bridge failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
