package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	zarr "github.com/TuSKan/zarr-dechunk"
)

var recoverCmd = &cobra.Command{
	Use:   "recover [journal-path]",
	Short: "Finish or roll back an interrupted directory swap",
	Long: `Reads the swap journal (the configured journal path by default) left by an
interrupted run and either moves the staged single-chunk array into place or
restores the original array.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		journalPath := cfg.JournalPath
		if len(args) == 1 {
			journalPath = args[0]
		}

		action, err := zarr.Recover(journalPath)
		if err != nil {
			return fmt.Errorf("recovering from %s: %w", journalPath, err)
		}
		if action == zarr.RecoveryNone {
			fmt.Printf("No swap journal at %s, nothing to recover\n", journalPath)
			return nil
		}
		fmt.Printf("Swap recovered (%s)\n", action)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runDechunk(cmd *cobra.Command, args []string) error {
	arrayPath := args[0]

	opts := zarr.Options{
		Swapper: cfg.Swapper(),
		DryRun:  cfg.DryRun,
	}

	var bar *progressbar.ProgressBar
	if !cfg.Quiet {
		opts.OnChunk = func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "reading chunks")
			}
			bar.Set(done)
		}
	}

	log.Infof("Dechunking %s", arrayPath)
	result, err := zarr.Dechunk(cmd.Context(), arrayPath, opts)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("dechunking %s: %w", arrayPath, err)
	}

	if result.DryRun {
		fmt.Printf("Dry run: %s would become 1 chunk (%d chunks, %d bytes, %d compressed)\n",
			result.Path, result.Chunks, result.DecodedBytes, result.CompressedBytes)
		return nil
	}
	fmt.Printf("Array dechunked successfully: %s (%d chunks -> 1, %d bytes, %d compressed)\n",
		result.Path, result.Chunks, result.DecodedBytes, result.CompressedBytes)
	return nil
}
