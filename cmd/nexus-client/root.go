package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nexus-client",
	Short: "Headless mesh client for Nexus Meet rooms",
	Long: `nexus-client joins a meeting room through the signaling relay and
maintains a full mesh of peer connections with a synthetic media source.
It is meant for soak testing and end-to-end verification of relay
deployments, not for human participants.`,
}

// Execute runs the command tree. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nexus-meet/client.yaml)")
	rootCmd.PersistentFlags().String("relay-url", "ws://127.0.0.1:8000/ws", "relay signaling WebSocket URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key for relays with AUTH_MODE=api_key")
	rootCmd.PersistentFlags().String("token", "", "bearer token for relays with AUTH_MODE=jwt")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text|json)")

	_ = viper.BindPFlag("relay-url", rootCmd.PersistentFlags().Lookup("relay-url"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires viper to the config file and NEXUS_CLIENT_* env vars.
// Flags override env, env overrides file.
func initConfig() {
	viper.SetEnvPrefix("nexus_client")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile == "" {
		configFile = filepath.Join(xdg.ConfigHome, "nexus-meet", "client.yaml")
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")

	// A missing config file is fine; everything has a flag or env default.
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "read config %s: %v\n", configFile, err)
		os.Exit(2)
	}
}
