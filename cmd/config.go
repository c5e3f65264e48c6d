package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adalundhe/phrasedec/core/config"
	"github.com/adalundhe/phrasedec/core/storage"
)

var configJSON bool

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after every file and environment override has
been applied, in the format of a configuration file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

// configPathCmd prints where configuration files are looked up.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration search path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := cmd.OutOrStdout()
		project := storage.ResolveProjectDirs(projectDir)
		fmt.Fprintln(w, project.Config)
		fmt.Fprintln(w, filepath.Join(project.Local, "config.yaml"))
		fmt.Fprintln(w, storage.ResolveDirs().ConfigDir("config.yaml"))
		if configPath != "" {
			fmt.Fprintln(w, configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.Flags().BoolVar(&configJSON, "json", false, "Print JSON instead of YAML")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg := m.Get()
	if configJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	out, err := config.YAML(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
