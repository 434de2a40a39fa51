package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display device information",
	Long: `Info waits for the first status report and displays the detected model,
serial number, firmware and model capabilities.

Examples:
  # Get device info
  edgeo-airctrl info -H 192.168.1.40

  # Get info in YAML format
  edgeo-airctrl info -H 192.168.1.40 -o yaml`,

	RunE: runInfo,
}

// deviceInfo is the accessory description derived from the first report
type deviceInfo struct {
	Address  string              `json:"address" yaml:"address"`
	Serial   string              `json:"serial" yaml:"serial"`
	Model    airctrl.Model       `json:"model" yaml:"model"`
	Firmware string              `json:"firmware" yaml:"firmware"`
	Config   airctrl.ModelConfig `json:"capabilities" yaml:"capabilities"`
}

// describeDevice builds the device description. The address stands in for
// the serial when the report carries no device id.
func describeDevice(client *airctrl.Client, raw airctrl.RawReport) deviceInfo {
	model := airctrl.DetectModel(raw)
	return deviceInfo{
		Address:  client.Addr(),
		Serial:   raw.SerialNumber(client.Addr()),
		Model:    model,
		Firmware: raw.Firmware(),
		Config:   airctrl.Capabilities(model),
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, err := createClient(host)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	_, raw, err := firstReport(ctx, client)
	if err != nil {
		return err
	}

	info := describeDevice(client, raw)
	supports := []string{}
	for name, ok := range map[string]bool{
		"humidity":      info.Config.Supports.Humidity,
		"temperature":   info.Config.Supports.Temperature,
		"filter-status": info.Config.Supports.FilterStatus,
		"debug-logging": info.Config.Supports.DebugLogging,
	} {
		if ok {
			supports = append(supports, name)
		}
	}
	sort.Strings(supports)

	speeds := make([]string, len(info.Config.Speeds))
	for i, s := range info.Config.Speeds {
		speeds[i] = fmt.Sprint(s)
	}

	pairs := map[string]interface{}{
		"Address":  info.Address,
		"Serial":   info.Serial,
		"Model":    info.Model,
		"Firmware": info.Firmware,
		"Modes":    strings.Join(info.Config.Modes, ", "),
		"Speeds":   strings.Join(speeds, ", "),
		"Features": strings.Join(supports, ", "),
	}
	order := []string{"Address", "Serial", "Model", "Firmware", "Modes", "Speeds", "Features"}

	f := NewFormatter(outputFmt)
	return f.PrintRecord(info, pairs, order)
}
