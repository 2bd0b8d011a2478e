// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/mcp"
	"github.com/mcpgate/mcpgate/pkg/oauth"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/registry"
	"github.com/mcpgate/mcpgate/pkg/server"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the multi-tenant MCP server. Configuration is read from the
optional config file, MCPGATE_* environment variables and built-in
defaults, in that order of precedence.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to a configuration file")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Fatalw("failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalw("failed to bind config flag", "error", err)
	}
}

// sessionVersions adapts the store to the version manager's lookup
// interface.
type sessionVersions struct {
	store storage.Store
}

func (s sessionVersions) SessionVersion(ctx context.Context, sessionID string) (string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.ProtocolVersion, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	store, err := storage.New(ctx, cfg.Storage.Backend, cfg.Storage.RedisURL, cfg.Storage.CleanupInterval)
	if err != nil {
		return err
	}
	defer store.Close()

	versions := protocol.NewManager(cfg.SupportedVersions, sessionVersions{store})
	dispatcher := mcp.NewDispatcher(store, cfg, versions,
		registry.NewToolRegistry(), registry.NewPromptRegistry(), registry.NewResourceRegistry())
	srv := server.New(cfg, store, versions, dispatcher,
		transport.NewStreamer(store, cfg),
		auth.NewMiddleware(store, cfg, versions),
		oauth.NewServer(store, cfg, versions))

	address := viper.GetString("address")
	logger.Infow("starting mcpgate",
		"address", address,
		"storage_backend", cfg.Storage.Backend,
		"supported_versions", cfg.SupportedVersions,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, address)
	})
	g.Go(func() error {
		return cleanupLoop(ctx, store, dispatcher, cfg.Storage.CleanupInterval)
	})
	return g.Wait()
}

// cleanupLoop sweeps expired storage entries on the configured interval
// and drops dispatcher state for sessions that went with them.
func cleanupLoop(ctx context.Context, store storage.Store, dispatcher *mcp.Dispatcher, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.Cleanup(ctx)
			if err != nil {
				logger.Warnw("storage cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debugw("storage cleanup removed entries", "count", removed)
			}
			dispatcher.Prune(ctx)
		}
	}
}
