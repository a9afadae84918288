package main

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/service/server"
)

const (
	FlagFilePath    = "file-path"
	FlagCatalogSize = "catalog-size"
)

// GetGenerateCmd returns the generate item catalogue command.
func GetGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the sandbox item catalogue",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagFilePath), zap.Error(err))
			}
			if filePath == "" {
				filePath = appConfig.Server.CatalogPath
			}
			catalogSize, err := cmd.Flags().GetInt(FlagCatalogSize)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagCatalogSize), zap.Error(err))
			}

			// Work
			rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
			if err := server.GenAndSaveCatalog(filePath, catalogSize, rnd); err != nil {
				logger.Fatal("gen failed", zap.Error(err))
			}
			logger.Info("catalog generated", zap.String("path", filePath), zap.Int("size", catalogSize))
		},
	}
	cmd.Flags().String(FlagFilePath, "", "(optional) output file path (SERVER_CATALOG_PATH)")
	cmd.Flags().Int(FlagCatalogSize, 12, "(optional) number of items")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetGenerateCmd())
}
