package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/parcel-positioning/internal/config"
	"github.com/signalsfoundry/parcel-positioning/internal/logging"
)

var (
	configPath string
	cfg        *config.Config
	logger     logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "parcel-sim",
	Short: "Replay parcel positioning scenarios",
	Long: "Loads recorded or scripted sensor timelines and runs them through the positioning cascade " +
		"(geo anchor, plane detection, visual marker, compass bearing, manual alignment), " +
		"printing every event and checking the scenario's expectations.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c
		logger = cfg.Log.Logger(cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
