package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/charles/internal/config"
	"github.com/scrypster/charles/internal/notify"
	"github.com/scrypster/charles/internal/server"
	"github.com/scrypster/charles/internal/storage"
)

var serveOpts struct {
	host string
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and its HTTP/websocket transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if serveOpts.host != "" {
			cfg.Server.Host = serveOpts.host
		}
		if serveOpts.port != 0 {
			cfg.Server.Port = serveOpts.port
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, corpus, err := openVectorStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize vector store", zap.Error(err))
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Storage.PriorsPath != "" {
		watcher := notify.NewCorpusWatcher(cfg.Storage.PriorsPath, 0, func(corpus *storage.Corpus) {
			n, err := store.Reseed(ctx, corpus)
			if err != nil {
				logger.Error("failed to reseed vector index", zap.Error(err))
				return
			}
			logger.Info("vector index reseeded", zap.Int("statements", n))
		}, logger.Named("priors"))
		if err := watcher.Start(); err != nil {
			logger.Warn("prior corpus will not be watched", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	p, err := newProviders(cfg, logger)
	if err != nil {
		return err
	}

	sess, err := buildSession(ctx, cfg, store, corpus, p, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	srv, err := server.Start(gctx, cfg, sess, store, logger.Named("server"))
	if err != nil {
		return err
	}
	logger.Info("Charles is listening", zap.String("url", "http://"+srv.Addr))

	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		<-srv.Done()
		if gctx.Err() == nil {
			return errors.New("server stopped unexpectedly")
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.host, "host", "", "override CHARLES_HOST")
	serveCmd.Flags().IntVar(&serveOpts.port, "port", 0, "override CHARLES_PORT")
	rootCmd.AddCommand(serveCmd)
}
