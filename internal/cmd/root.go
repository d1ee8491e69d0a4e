package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denniswebb/iptpanel/internal/logging"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "iptpanel",
	Short: "Small web panel and CLI for managing a host's iptables rules",
	Long: `iptpanel exposes the host's iptables chains over a JSON API and drives it from the command line.
Run "iptpanel serve" on the firewall host, then "iptpanel login <ip>" and "iptpanel list" from anywhere that can reach it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("IPTP")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		logging.InitLogger(viper.GetString("log-level"), "iptpanel")
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".iptpanel-session.yaml"
	}
	return filepath.Join(home, ".iptpanel", "session.yaml")
}

func bindFlag(key string, cmd *cobra.Command, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", key, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server", "", "Panel server address (host:port); overrides the saved login")
	rootCmd.PersistentFlags().String("session-file", defaultSessionFile(), "Where the login is stored")
	rootCmd.PersistentFlags().String("session-ttl", "30m", "How long a login stays valid")
	rootCmd.PersistentFlags().Int("retries", 3, "Extra attempts when a listing fails")

	for _, key := range []string{"log-level", "server", "session-file", "session-ttl", "retries"} {
		bindFlag(key, rootCmd, true)
	}

	viper.SetDefault("listen", ":5000")
	viper.SetDefault("iptables-path", "/sbin/iptables")
	viper.SetDefault("sudo", true)
	viper.SetDefault("command-timeout", "30s")
	viper.SetDefault("cors-origin", "*")

	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(LoginCmd)
	rootCmd.AddCommand(LogoutCmd)
	rootCmd.AddCommand(ListCmd)
	rootCmd.AddCommand(AddCmd)
	rootCmd.AddCommand(DeleteCmd)
	rootCmd.AddCommand(AddRawCmd)
}
