package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptrun",
		Short:         "Host for hot-reloadable wasm scripts",
		Long:          "scriptrun loads wasm script binaries, attaches them to entities,\nand drives the phased frame loop with hot reload support.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		interactive bool
		scriptDir   string
		frames      int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load scripts and drive the frame loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if scriptDir != "" {
				cfg.ScriptDir = scriptDir
			}
			if frames > 0 {
				cfg.Frames = frames
			}
			if interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("interactive mode requires a terminal")
			}
			return run(cmd.Context(), cfg, interactive)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "run the inspector TUI")
	cmd.Flags().StringVar(&scriptDir, "scripts", "", "script binary directory (overrides env)")
	cmd.Flags().IntVar(&frames, "frames", 0, "stop after this many frames (headless only)")
	return cmd
}
