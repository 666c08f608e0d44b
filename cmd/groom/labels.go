package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/labelsync"
	"github.com/groombot/groom/internal/registry"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Label management",
}

var labelsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push the shared label definitions to every configured repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LabelsTemplate == "" {
			return fmt.Errorf("labels_template is not configured")
		}
		reg := registry.New(config.NewStore(cfg))

		s := labelsync.NewSyncer(reg, slog.Default())
		return s.Sync(cmd.Context(), cfg.LabelsTemplate)
	},
}

func init() {
	labelsCmd.AddCommand(labelsSyncCmd)
}
