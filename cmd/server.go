package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/service/server"
)

const (
	FlagPort        = "port"
	FlagPath        = "path"
	FlagSpawnPeriod = "spawn-period"
	FlagDropTTL     = "drop-ttl"
)

// GetServerCmd returns the sandbox server start command.
func GetServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the in-memory sandbox drop server",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			if err := applyServerFlags(cmd); err != nil {
				logger.Fatal("server flags", zap.Error(err))
			}
			serverCfg := appConfig.Server

			catalog, err := server.LoadCatalog(serverCfg.CatalogPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					logger.Fatal("catalog load", zap.Error(err))
				}
				logger.Warn("catalog not found, using a generated one", zap.String("path", serverCfg.CatalogPath))
				if catalog, err = server.GenerateCatalog(12, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
					logger.Fatal("catalog generate", zap.Error(err))
				}
			}

			// Init service
			svc, err := server.NewDropService(server.Config{
				Path:           serverCfg.Path,
				SpawnPeriod:    serverCfg.SpawnPeriod,
				DropTTL:        serverCfg.DropTTL,
				AllowedOrigins: serverCfg.AllowedOrigins,
				Policy:         appConfig.Access.Policy(),
				MonitorPeriod:  appConfig.Engine.MonitorPeriod,
			}, catalog, server.WithLogger(logger))
			if err != nil {
				logger.Fatal("service init", zap.Error(err))
			}

			// Start server
			httpServer := &http.Server{
				Addr:              serverCfg.Address(),
				Handler:           svc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			svc.Start()

			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("HTTP server: listen", zap.Error(err))
				}
			}()
			logger.Info("HTTP server started", zap.String("addr", serverCfg.Address()), zap.String("path", serverCfg.Path))

			// Wait for signal
			waitForStop()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Warn("HTTP server: shutdown", zap.Error(err))
			}
			svc.Stop()
		},
	}
	cmd.Flags().Int(FlagPort, 0, "(optional) server port (SERVER_PORT)")
	cmd.Flags().String(FlagPath, "", "(optional) endpoint path (SERVER_PATH)")
	cmd.Flags().Duration(FlagSpawnPeriod, 0, "(optional) drop spawn period (SERVER_SPAWN_PERIOD)")
	cmd.Flags().Duration(FlagDropTTL, 0, "(optional) drop lifetime (SERVER_DROP_TTL)")
	cmd.Flags().String(FlagFilePath, "", "(optional) item catalogue path (SERVER_CATALOG_PATH)")

	return cmd
}

// applyServerFlags overrides the env configuration with the non empty flags.
func applyServerFlags(cmd *cobra.Command) error {
	port, err := cmd.Flags().GetInt(FlagPort)
	if err != nil {
		return err
	}
	if port > 0 {
		appConfig.Server.Port = port
	}

	path, err := cmd.Flags().GetString(FlagPath)
	if err != nil {
		return err
	}
	if path != "" {
		appConfig.Server.Path = path
	}

	spawnPeriod, err := cmd.Flags().GetDuration(FlagSpawnPeriod)
	if err != nil {
		return err
	}
	if spawnPeriod > 0 {
		appConfig.Server.SpawnPeriod = spawnPeriod
	}

	dropTTL, err := cmd.Flags().GetDuration(FlagDropTTL)
	if err != nil {
		return err
	}
	if dropTTL > 0 {
		appConfig.Server.DropTTL = dropTTL
	}

	filePath, err := cmd.Flags().GetString(FlagFilePath)
	if err != nil {
		return err
	}
	if filePath != "" {
		appConfig.Server.CatalogPath = filePath
	}

	return nil
}

func init() {
	rootCmd.AddCommand(GetServerCmd())
}
