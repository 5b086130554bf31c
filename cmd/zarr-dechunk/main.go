package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TuSKan/zarr-dechunk/internal/config"
	"github.com/TuSKan/zarr-dechunk/internal/logging"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "zarr-dechunk [array-path]",
	Short: "Rewrite a chunked one-dimensional Zarr array as a single chunk",
	Long: `Reads every chunk of a one-dimensional Zarr v2 array, concatenates the
decoded data, recompresses it with the array's own compressor and replaces
the array directory with a copy holding one chunk.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDechunk,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress progress bars")
	rootCmd.PersistentFlags().Bool("dry-run", false, "Read and recompress without touching the array")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
