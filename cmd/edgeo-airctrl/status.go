package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var waitTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the current purifier status",
	Long: `Connect to the purifier, wait for the first status report and print it.

Examples:
  edgeo-airctrl status -H 192.168.1.40
  edgeo-airctrl status -H 192.168.1.40 -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().DurationVarP(&waitTimeout, "wait", "w", 30*time.Second, "Maximum wait for the first report")
	infoCmd.Flags().DurationVarP(&waitTimeout, "wait", "w", 30*time.Second, "Maximum wait for the first report")
	dumpCmd.Flags().DurationVarP(&waitTimeout, "wait", "w", 30*time.Second, "Maximum wait for the first report")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := createClient(host)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	state, raw, err := firstReport(ctx, client)
	if err != nil {
		return err
	}

	cfg := airctrl.Capabilities(airctrl.DetectModel(raw))
	f := NewFormatter(outputFmt)
	return f.PrintRecord(state, stateRecord(state, cfg), stateOrder)
}

// firstReport starts observing and waits for the first published state
// together with the raw report it came from.
func firstReport(ctx context.Context, client *airctrl.Client) (airctrl.State, airctrl.RawReport, error) {
	states := make(chan airctrl.State, 1)
	unsubscribe := client.Subscribe(func(s airctrl.State) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsubscribe()

	if err := client.Observe(); err != nil {
		return airctrl.State{}, nil, err
	}

	select {
	case s := <-states:
		raw, _ := client.InitialStatus()
		return s, raw, nil
	case <-ctx.Done():
		return airctrl.State{}, nil, fmt.Errorf("no status report from %s: %w", client.Addr(), ctx.Err())
	}
}
