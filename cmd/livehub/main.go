// Command livehub runs the RTMP ingest server together with its
// HTTP-FLV/HTTP-TS/HLS/DASH output and the §4.H Forwarder, wired from
// one YAML/env configuration document.
//
// Grounded on the teacher's cmd/main.go urfave/cli shape (server/
// client/proxy subcommands), collapsed to the one subcommand this
// repo actually needs: a long-running server process.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/forward"
	"github.com/streamhub/streamhub/internal/httpflv"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/logging"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/roomkeys"
	"github.com/streamhub/streamhub/internal/rtmp"
	"github.com/streamhub/streamhub/internal/sched"
)

const shutdownTimeout = 10 * time.Second

// edgePullWait bounds how long an RTMP play waits for the Edge Puller's
// first packet before onPlay falls through to hub.Play's own
// not-found error — mirrors internal/httpflv's edgePullWait.
const edgePullWait = 3 * time.Second

func main() {
	app := &cli.App{
		Name:  "livehub",
		Usage: "RTMP ingest with HLS/DASH/HTTP-FLV output and edge forwarding",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
		},
		Action: func(c *cli.Context) error {
			return run(c.String("config"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.New("info").WithError(err).Fatal("livehub exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	root := cfg.Get()

	log := logging.New(root.Level)
	rtmpLog := logging.Component(log, "rtmp")
	httpLog := logging.Component(log, "httpflv")
	fwdLog := logging.Component(log, "forward")

	met := metrics.New()
	h := hub.New(cfg)
	defer h.Stop()

	keys := roomkeys.New(root.RedisAddr, root.RedisPassword)
	pool := sched.NewPool(root.Workers)

	pusher := forward.NewPusher(h, met, fwdLog)
	rtmpPuller := forward.NewPuller(h, met, rtmpLog)

	rtmpServer := rtmp.NewServer(h, keys, cfg, pool, met, rtmpLog)
	rtmpServer.OnPublish = func(key hub.StreamKey, stop <-chan struct{}) {
		onPublish(h, cfg, met, key, stop, pusher, rtmpLog)
	}
	rtmpServer.PlayMiss = func(key hub.StreamKey) bool {
		vh := cfg.VHost(key.VHost)
		if vh.Forward.Origin == "" {
			return false
		}
		return rtmpPuller.Ensure(key, vh.Forward.Origin, vh.Forward.MaxAttempts, edgePullWait)
	}

	httpServer := httpflv.NewServer(h, cfg, met, httpLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	rtmpLn, err := net.Listen("tcp", root.Listen.RTMP)
	if err != nil {
		return err
	}
	g.Go(func() error {
		log.WithField("addr", root.Listen.RTMP).Info("rtmp listening")
		err := rtmpServer.Serve(rtmpLn)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := &http.Server{Addr: root.Listen.HTTP, Handler: httpServer}
	g.Go(func() error {
		log.WithField("addr", root.Listen.HTTP).Info("http listening")
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-sigCh:
			log.Info("shutdown signal received, draining connections")
		case <-gctx.Done():
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		rtmpLn.Close()
		return nil
	})

	return g.Wait()
}
