package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var pingCmd = &cobra.Command{
	Use:   "ping [host...]",
	Short: "Check that purifiers answer a sync request",
	Long: `Ping sends a sync request to each purifier and reports the round trip.
Hosts are taken from the arguments, then the devices list of the config
file, then --host. All hosts are probed concurrently.

Config example (~/.edgeo-airctrl.yaml):
  devices:
    - 192.168.1.40
    - 192.168.1.41:5683

Examples:
  edgeo-airctrl ping 192.168.1.40 192.168.1.41
  edgeo-airctrl ping -o json`,

	RunE: runPing,
}

// pingResult is the outcome of probing one purifier
type pingResult struct {
	Host    string        `json:"host" yaml:"host"`
	OK      bool          `json:"ok" yaml:"ok"`
	Counter string        `json:"counter,omitempty" yaml:"counter,omitempty"`
	RTT     time.Duration `json:"rtt_ns" yaml:"rtt"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func pingTargets(args []string) []string {
	if len(args) > 0 {
		return args
	}
	if devices := viper.GetStringSlice("devices"); len(devices) > 0 {
		return devices
	}
	if host != "" {
		return []string{host}
	}
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	targets := pingTargets(args)
	if len(targets) == 0 {
		return fmt.Errorf("no hosts given (arguments, config devices or --host)")
	}

	results := make([]pingResult, len(targets))

	// Failures are reported per host, so the group never returns an error.
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(8)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = pingOne(ctx, target)
			return nil
		})
	}
	g.Wait()

	headers := []string{"Host", "Status", "Counter", "RTT"}
	rows := make([][]string, 0, len(results))
	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = r.Error
			failed++
		}
		rows = append(rows, []string{r.Host, status, r.Counter, r.RTT.Round(time.Millisecond).String()})
	}

	f := NewFormatter(outputFmt)
	if err := f.PrintRows(results, headers, rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices did not answer", failed, len(results))
	}
	return nil
}

func pingOne(ctx context.Context, target string) pingResult {
	res := pingResult{Host: target}

	client, err := createClient(target)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer client.Close()
	res.Host = client.Addr()

	start := time.Now()
	counter, err := client.Sync(ctx)
	res.RTT = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.OK = true
	res.Counter = string(counter)
	return res
}
