package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptymux/internal/config"
	"github.com/PiranhaCodes/ptymux/internal/socket"
)

type rootOptions struct {
	configPath string
	runtimeDir string
	config     *config.Config
}

// prepare loads the config file and applies flag overrides.
func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.runtimeDir != "" {
		dir, err := config.ExpandPath(r.runtimeDir)
		if err != nil {
			return err
		}
		cfg.RuntimeDir = dir
	}
	r.config = cfg
	return nil
}

// paths validates name and returns its data and control socket paths.
func (r *rootOptions) paths(name string) (string, string, error) {
	if err := socket.ValidateName(name); err != nil {
		return "", "", err
	}
	return socket.Path(r.config.RuntimeDir, name), socket.ControlPath(r.config.RuntimeDir, name), nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "ptymux",
		Short:         "Share one shell between many terminals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("PTYMUX_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to config file (default $HOME/.ptymux/config.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.runtimeDir, "runtime-dir", "", "directory holding session sockets (overrides config)")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newServerCmd(opts))
	rootCmd.AddCommand(newClientCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newKillCmd(opts))
	rootCmd.AddCommand(newDetachCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("[PTYMUX] %v", err)
	}
}
