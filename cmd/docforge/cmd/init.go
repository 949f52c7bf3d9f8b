package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/docforge/internal/config"
	"github.com/hugo-lorenzo-mato/docforge/internal/fsutil"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a docforge workspace",
	Long: `Initialize a docforge workspace in the current directory.
Writes .docforge/config.yaml with the default settings and creates the
state, document, inbox and crash dump directories.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

// configPath is where `docforge init` writes its configuration.
const configPath = ".docforge/config.yaml"

func runInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return errors.New("configuration already exists, use --force to overwrite")
	}

	data, err := config.DefaultConfigYAML()
	if err != nil {
		return fmt.Errorf("rendering default config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(configPath, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	dirs := []string{
		config.DefaultStateDir,
		config.DefaultDocumentsDir,
		config.DefaultInboxDir,
		config.DefaultCrashDumpDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized docforge workspace")
	fmt.Fprintln(out, "Configuration file:", configPath)
	fmt.Fprintln(out, "Run 'docforge doctor' to verify setup")
	return nil
}
