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
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive purifier session",
	Long: `Interactive mode keeps a status observation open and provides a REPL
for controlling the purifier. Commands that would not change anything are
skipped.

Commands:
  status                - Show the latest state
  power <on|off>        - Switch power
  mode <name>           - Select a mode
  speed <1-100>         - Manual fan speed
  info                  - Show device info
  sync                  - Fetch a fresh counter
  metrics [reset]       - Show or reset client metrics
  help                  - Show help
  exit                  - Exit interactive mode

Examples:
  airctrl[AC2729]> power on
  airctrl[AC2729]> mode sleep
  airctrl[AC2729]> speed 70`,

	RunE: runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	client, err := createClient(host)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx := context.Background()

	if err := client.Observe(); err != nil {
		return fmt.Errorf("observe: %w", err)
	}

	fmt.Println("Air Purifier Interactive Shell")
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		prompt := "airctrl> "
		if raw, ok := client.InitialStatus(); ok {
			prompt = fmt.Sprintf("airctrl[%s]> ", airctrl.DetectModel(raw))
		}
		fmt.Print(prompt)

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil

		case "help", "?":
			printInteractiveHelp()

		case "status":
			runInteractiveStatus(client)

		case "power":
			if len(parts) < 2 {
				fmt.Println("Usage: power <on|off>")
				continue
			}
			p, err := parsePower(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			runInteractiveCommand(ctx, func(ctx context.Context) (airctrl.CommandResult, error) {
				return client.ChangePower(ctx, p)
			})

		case "mode":
			if len(parts) < 2 {
				fmt.Println("Usage: mode <auto|auto+|sleep|medium|turbo|manual>")
				continue
			}
			m, err := airctrl.ParseMode(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			runInteractiveCommand(ctx, func(ctx context.Context) (airctrl.CommandResult, error) {
				return client.ChangeMode(ctx, m)
			})

		case "speed":
			if len(parts) < 2 {
				fmt.Println("Usage: speed <1-100>")
				continue
			}
			speed, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Printf("Error: invalid speed %q\n", parts[1])
				continue
			}
			runInteractiveCommand(ctx, func(ctx context.Context) (airctrl.CommandResult, error) {
				return client.SetManualSpeed(ctx, speed)
			})

		case "info":
			runInteractiveInfo(client)

		case "sync":
			counter, err := client.Sync(ctx)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Counter: %s\n", counter)

		case "metrics":
			if len(parts) > 1 && strings.ToLower(parts[1]) == "reset" {
				client.Metrics().Reset()
				fmt.Println("Metrics reset")
				continue
			}
			runInteractiveMetrics(client)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", command)
		}
	}

	return nil
}

func printInteractiveHelp() {
	fmt.Println(`
Available commands:
  status            Show the latest reported state
  power <on|off>    Switch the purifier on or off
  mode <name>       Select auto, auto+, sleep, medium, turbo or manual
  speed <1-100>     Switch to manual mode with the given fan speed
  info              Show model, serial and firmware
  sync              Fetch a fresh counter from the device
  metrics [reset]   Show or reset client metrics
  help              Show this help message
  exit              Exit interactive mode
`)
}

func runInteractiveStatus(client *airctrl.Client) {
	st, ok := client.CurrentState()
	if !ok {
		fmt.Printf("No report yet (connection %s)\n", client.State())
		return
	}
	raw, _ := client.InitialStatus()
	cfg := airctrl.Capabilities(airctrl.DetectModel(raw))

	fmt.Println()
	NewFormatter("table").PrintKeyValue(stateRecord(st, cfg), stateOrder)
	fmt.Println()
}

func runInteractiveCommand(ctx context.Context, send func(context.Context) (airctrl.CommandResult, error)) {
	start := time.Now()
	res, err := send(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if res.NoOp {
		fmt.Println("Already set, nothing sent")
		return
	}
	fmt.Printf("OK (%s)\n", time.Since(start).Round(time.Millisecond))
}

func runInteractiveInfo(client *airctrl.Client) {
	raw, ok := client.InitialStatus()
	if !ok {
		fmt.Printf("No report yet (connection %s)\n", client.State())
		return
	}
	info := describeDevice(client, raw)

	fmt.Printf("\nDevice %s:\n", info.Address)
	fmt.Printf("  %-10s: %s\n", "Serial", info.Serial)
	fmt.Printf("  %-10s: %s\n", "Model", info.Model)
	fmt.Printf("  %-10s: %s\n", "Firmware", info.Firmware)
	fmt.Printf("  %-10s: %s\n", "Modes", strings.Join(info.Config.Modes, ", "))
	if !client.LastConnected().IsZero() {
		fmt.Printf("  %-10s: %s\n", "Connected", client.LastConnected().Format(time.RFC3339))
	}
	fmt.Println()
}

func runInteractiveMetrics(client *airctrl.Client) {
	m := client.Metrics().Snapshot()

	fmt.Println("\nClient Metrics:")
	fmt.Printf("  Uptime:              %s\n", m.Uptime.Round(time.Second))
	fmt.Printf("  Connection:          %s\n", client.State())
	fmt.Printf("  Connect Attempts:    %d\n", m.ConnectAttempts)
	fmt.Printf("  Drops:               %d\n", m.Drops)
	fmt.Printf("  Reports Received:    %d\n", m.ReportsReceived)
	fmt.Printf("  Reports Malformed:   %d\n", m.ReportsMalformed)
	fmt.Printf("  Commands Sent:       %d\n", m.CommandsSent)
	fmt.Printf("  Commands Succeeded:  %d\n", m.CommandsSucceeded)
	fmt.Printf("  Commands Rejected:   %d\n", m.CommandsRejected)
	fmt.Printf("  Commands Failed:     %d\n", m.CommandsFailed)
	fmt.Printf("  Commands Timed Out:  %d\n", m.CommandsTimedOut)
	fmt.Printf("  Commands Skipped:    %d\n", m.CommandsSkipped)
	fmt.Printf("  Bytes Sent:          %s\n", formatBytes(m.BytesSent))
	fmt.Printf("  Bytes Received:      %s\n", formatBytes(m.BytesReceived))

	if m.LatencyStats.Count > 0 {
		fmt.Printf("  Avg Latency:         %s\n", m.LatencyStats.Avg.Round(time.Microsecond))
		fmt.Printf("  Min Latency:         %s\n", m.LatencyStats.Min.Round(time.Microsecond))
		fmt.Printf("  Max Latency:         %s\n", m.LatencyStats.Max.Round(time.Microsecond))
	}
	fmt.Println()
}
