package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kikiluvv/captionburn/internal/config"
	"github.com/kikiluvv/captionburn/internal/logging"
)

var (
	cfgFile string
	envFile string
	verbose bool
	logFile *os.File
)

func main() {
	os.Exit(run())
}

// run executes the CLI. Ctrl-C cancels the context, so an export aborts its
// recorder and restores the source before the process exits.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "captionburn",
	Short: "captionburn - animated caption burn-in studio",
	Long:  "Edit timed captions, preview their animations and burn them into a video file frame by frame.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env supplies API keys; a missing file is fine
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env") {
			return err
		}

		logging.Init(verbose)

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if cfg.Logging.File != "" {
			f, err := logging.OpenFile(cfg.Logging.File)
			if err != nil {
				return err
			}
			logFile = f
			logging.Init(verbose, f)
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		log.Debug().Str("config", cfgFile).Msg("configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./captionburn.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(srtCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(studioCmd)
	rootCmd.AddCommand(fontsCmd)
	rootCmd.AddCommand(configCmd)
}
