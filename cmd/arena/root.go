package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags.
	enginePath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Play language-model agents against a UCI chess engine",
	Long: `Arena runs automated chess matches between a language-model agent and
a UCI engine such as Stockfish, entirely in memory.

Credentials are read from the environment (LLM_PROVIDER, LLM_API_KEY,
LLM_MODEL, LLM_BASE_URL) or a .env file.

Examples:
  # One game at engine level 3
  arena play --strength 3

  # A named persona against full-strength Stockfish, PGN written to a file
  arena play --name Tal --persona "Sacrifice for the initiative." --strength 8 --pgn tal.pgn`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&enginePath, "engine", "", "path to the UCI engine binary (default: STOCKFISH_PATH or auto-detect)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
