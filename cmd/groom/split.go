package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/registry"
	"github.com/groombot/groom/internal/split"
)

var splitCmd = &cobra.Command{
	Use:   "split <repo> <issue-number>",
	Short: "Split a macro issue into open and closed halves",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[1])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := registry.New(config.NewStore(cfg))

		o := split.NewOrchestrator(reg, slog.Default())
		return o.Run(cmd.Context(), args[0], number)
	},
}
