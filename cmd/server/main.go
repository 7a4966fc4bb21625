package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/Tyrowin/roomchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "roomchat"
	app.Usage = "Moderated TCP chat room with a WebSocket gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "Path to a TOML config file",
		},
		cli.StringFlag{
			Name:  "address,a",
			Usage: "TCP address of the chat protocol",
		},
		cli.StringFlag{
			Name:  "http-address",
			Usage: "Address of the health endpoint and WebSocket gateway (empty disables it)",
		},
		cli.StringSliceFlag{
			Name:  "admin",
			Usage: "Initial admin username (repeatable)",
		},
		cli.DurationFlag{
			Name:  "read-timeout",
			Usage: "Disconnect sessions silent for this long (0 disables)",
		},
		cli.DurationFlag{
			Name:  "write-timeout",
			Usage: "Bound on a single reply write (0 disables)",
		},
		cli.StringFlag{
			Name:  "log-level,l",
			Usage: "Log level (debug, info, warn, error)",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := server.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	sanitized := cfg.Sanitize()

	logger := newLogger(sanitized.LogLevel)
	logger.WithFields(log.Fields{
		"address":      sanitized.Address,
		"http_address": sanitized.HTTPAddress,
		"admins":       sanitized.Admins,
	}).Info("Starting chat server...")

	srv := server.New(sanitized, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errCh <- fmt.Errorf("chat server: %w", err)
		}
	}()

	var httpServer *http.Server
	if sanitized.HTTPAddress != "" {
		httpServer = server.CreateServer(sanitized.HTTPAddress, server.SetupRoutes(srv))
		go func() {
			if err := server.StartServer(httpServer, logger); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case runErr = <-errCh:
		logger.WithError(runErr).Error("Server stopped unexpectedly")
	}

	if httpServer != nil {
		_ = server.ShutdownServer(httpServer, shutdownTimeout, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// applyFlags overlays flags given on the command line, which take precedence
// over the file and the environment.
func applyFlags(c *cli.Context, cfg *server.Config) {
	if c.IsSet("address") {
		cfg.Address = c.String("address")
	}
	if c.IsSet("http-address") {
		cfg.HTTPAddress = c.String("http-address")
	}
	if c.IsSet("admin") {
		cfg.Admins = c.StringSlice("admin")
	}
	if c.IsSet("read-timeout") {
		cfg.ReadTimeout = c.Duration("read-timeout")
	}
	if c.IsSet("write-timeout") {
		cfg.WriteTimeout = c.Duration("write-timeout")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

func newLogger(level string) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
