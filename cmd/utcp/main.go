package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Pablu23/Utcp/internal/client"
	"github.com/Pablu23/Utcp/internal/config"
	"github.com/Pablu23/Utcp/internal/metrics"
	"github.com/Pablu23/Utcp/internal/server"
)

func main() {
	serverMode := flag.Bool("s", false, "Start as server")
	clientMode := flag.Bool("c", false, "Start as client (default)")
	host := flag.String("H", "", "Hostname")
	port := flag.Int("p", 0, "Port")
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})

	if *serverMode && *clientMode {
		log.Fatal("-s and -c are mutually exclusive")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("Could not load configuration")
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			cfg.Mode = config.ModeServer
		case "c":
			cfg.Mode = config.ModeClient
		case "H":
			cfg.Host = *host
		case "p":
			cfg.Port = *port
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics":
			cfg.Metrics.Listen = *metricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	log.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	// a second interrupt kills the process, e.g. while blocked on stdin
	context.AfterFunc(ctx, stop)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Listen, registry)
		})
	}

	if cfg.Mode == config.ModeServer {
		g.Go(func() error {
			return runServer(ctx, cfg, m)
		})
	} else {
		g.Go(func() error {
			defer stop()
			return runClient(ctx, cfg, m)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("Exiting")
	}
}

func runServer(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	srv, err := server.Listen(cfg.Address(), cfg.ServerOptions(m), func(o *server.Options) {
		o.Reporter = server.ConsolePrinter{}
	})
	if err != nil {
		return err
	}

	pterm.Info.Printfln("Started on %v", srv.Addr())
	return srv.Serve(ctx)
}

func runClient(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	c, err := client.Dial(cfg.Address(), cfg.ClientOptions(m))
	if err != nil {
		return err
	}
	defer func(c *client.Client) {
		err := c.Close()
		if err != nil {
			log.WithError(err).Error("Could not close socket")
		}
	}(c)

	return c.Run(ctx, os.Stdin)
}
