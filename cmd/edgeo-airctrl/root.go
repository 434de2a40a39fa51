// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var version = "1.0.0"

var (
	cfgFile     string
	host        string
	port        int
	timeout     time.Duration
	lockTimeout time.Duration
	spacing     time.Duration
	outputFmt   string
	verbose     bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-airctrl",
	Short: "A client CLI for encrypted CoAP air purifiers",
	Long: `edgeo-airctrl is a command-line tool for air purifiers that speak the
encrypted CoAP control protocol.

It reads and streams the purifier status, changes power, mode and fan speed,
and reports model, serial and firmware details.

Examples:
  # Read the current status
  edgeo-airctrl status -H 192.168.1.40

  # Stream status updates and publish them to MQTT
  edgeo-airctrl watch -H 192.168.1.40 --mqtt-broker tcp://localhost:1883

  # Turn the purifier on and select turbo mode
  edgeo-airctrl power on -H 192.168.1.40
  edgeo-airctrl mode turbo -H 192.168.1.40

  # Probe every device listed in the config file
  edgeo-airctrl ping`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logger
		logLevel := slog.LevelWarn
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		// Flags left at their defaults fall back to config and environment
		host = viper.GetString("host")
		port = viper.GetInt("port")
		timeout = viper.GetDuration("timeout")
		lockTimeout = viper.GetDuration("lock-timeout")
		spacing = viper.GetDuration("spacing")
		outputFmt = viper.GetString("output")
		return nil
	},
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-airctrl.yaml)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Purifier IP address or hostname")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", airctrl.DefaultPort, "CoAP port")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", airctrl.DefaultCommandTimeout, "Sync and command timeout")
	rootCmd.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout", airctrl.DefaultLockTimeout, "Maximum wait for the device command lock")
	rootCmd.PersistentFlags().DurationVar(&spacing, "spacing", airctrl.DefaultCommandSpacing, "Minimum gap between commands")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Bind flags to viper
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("lock-timeout", rootCmd.PersistentFlags().Lookup("lock-timeout"))
	viper.BindPFlag("spacing", rootCmd.PersistentFlags().Lookup("spacing"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(speedCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-airctrl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AIRCTRL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// createClient creates a client for target with the current configuration
func createClient(target string) (*airctrl.Client, error) {
	if target == "" {
		return nil, fmt.Errorf("host is required (-H or --host)")
	}

	opts := []airctrl.Option{
		airctrl.WithPort(port),
		airctrl.WithCommandTimeout(timeout),
		airctrl.WithLockTimeout(lockTimeout),
		airctrl.WithCommandSpacing(spacing),
		airctrl.WithLogger(logger),
	}

	return airctrl.NewClient(target, opts...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-airctrl version %s\n", version)
	},
}
