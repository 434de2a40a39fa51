package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var manualSpeed int

var powerCmd = &cobra.Command{
	Use:   "power <on|off>",
	Short: "Switch the purifier on or off",
	Long: `Power sends a power command to the purifier.

Examples:
  edgeo-airctrl power on -H 192.168.1.40
  edgeo-airctrl power off -H 192.168.1.40`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePower(args[0])
		if err != nil {
			return err
		}
		return runControl(cmd.Context(), func(ctx context.Context, c *airctrl.Client) (airctrl.CommandResult, error) {
			return c.ChangePower(ctx, p)
		})
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode <auto|auto+|sleep|medium|turbo|manual>",
	Short: "Select the operating mode",
	Long: `Mode selects an operating mode. Manual mode also sets the fan speed
given with --speed.

Examples:
  edgeo-airctrl mode turbo -H 192.168.1.40
  edgeo-airctrl mode manual --speed 40 -H 192.168.1.40`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := airctrl.ParseMode(args[0])
		if err != nil {
			return err
		}
		return runControl(cmd.Context(), func(ctx context.Context, c *airctrl.Client) (airctrl.CommandResult, error) {
			if m == airctrl.ModeManual {
				return c.SetManualSpeed(ctx, manualSpeed)
			}
			return c.ChangeMode(ctx, m)
		})
	},
}

var speedCmd = &cobra.Command{
	Use:   "speed <1-100>",
	Short: "Set a manual fan speed",
	Long: `Speed switches the purifier to manual mode with the given fan speed.
Values outside 1-100 are clamped.

Examples:
  edgeo-airctrl speed 60 -H 192.168.1.40`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid speed %q: %w", args[0], err)
		}
		return runControl(cmd.Context(), func(ctx context.Context, c *airctrl.Client) (airctrl.CommandResult, error) {
			return c.SetManualSpeed(ctx, speed)
		})
	},
}

func init() {
	modeCmd.Flags().IntVar(&manualSpeed, "speed", 50, "Fan speed for manual mode (1-100)")
}

func parsePower(s string) (airctrl.PowerStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return airctrl.PowerOn, nil
	case "off", "0", "false":
		return airctrl.PowerOff, nil
	default:
		return airctrl.PowerOff, &airctrl.CapabilityError{Field: airctrl.ParamPower, Value: s}
	}
}

func runControl(ctx context.Context, send func(context.Context, *airctrl.Client) (airctrl.CommandResult, error)) error {
	client, err := createClient(host)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	res, err := send(ctx, client)
	if err != nil && !errors.Is(err, airctrl.ErrCommandFailed) {
		return err
	}

	pairs, order := resultRecord(res)
	f := NewFormatter(outputFmt)
	if perr := f.PrintRecord(pairs, pairs, order); perr != nil {
		return perr
	}
	return err
}

// applySet runs the commands of a set request in a fixed order
func applySet(ctx context.Context, client *airctrl.Client, req setRequest) error {
	var errs []error
	if req.Power != nil {
		p, err := parsePower(*req.Power)
		if err == nil {
			_, err = client.ChangePower(ctx, p)
		}
		errs = append(errs, err)
	}
	switch {
	case req.Speed != nil:
		_, err := client.SetManualSpeed(ctx, *req.Speed)
		errs = append(errs, err)
	case req.Mode != nil:
		m, err := airctrl.ParseMode(*req.Mode)
		if err == nil {
			_, err = client.ChangeMode(ctx, m)
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
