package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/airctrl/airctrl"
)

var (
	watchChangesOnly bool
	mqttBroker       string
	mqttPrefix       string
	mqttClientID     string
	metricsAddr      string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status updates",
	Long: `Watch keeps a status observation open and prints every report the
purifier sends. Lost observations are re-established automatically.

States can be republished to an MQTT broker under <prefix>/<serial>/state,
and commands are accepted on <prefix>/<serial>/set as JSON, for example
{"power":"on","mode":"manual","speed":60}.

Examples:
  # Print every report
  edgeo-airctrl watch -H 192.168.1.40

  # Only print changes, as JSON
  edgeo-airctrl watch -H 192.168.1.40 --changes -o json

  # Bridge to MQTT and expose Prometheus metrics
  edgeo-airctrl watch -H 192.168.1.40 --mqtt-broker tcp://localhost:1883 --metrics-addr :9108`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchChangesOnly, "changes", false, "Only print reports that differ from the previous one")
	watchCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker URL (tcp://, ssl://, ws://)")
	watchCmd.Flags().StringVar(&mqttPrefix, "mqtt-prefix", "airctrl", "MQTT topic prefix")
	watchCmd.Flags().StringVar(&mqttClientID, "mqtt-client-id", "", "MQTT client ID (default edgeo-airctrl-<time>)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := createClient(host)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping watch...")
		cancel()
	}()

	var sink *mqttSink
	if mqttBroker != "" {
		id := mqttClientID
		if id == "" {
			id = "edgeo-airctrl-" + time.Now().Format("150405.000")
		}
		sink, err = newMQTTSink(mqttBroker, mqttPrefix, id, logger)
		if err != nil {
			return err
		}
		defer sink.close()
	}

	var (
		mu     sync.Mutex
		cfg    = airctrl.Capabilities(airctrl.ModelUnknown)
		serial string
		last   *airctrl.State
	)
	modelConfig := func() airctrl.ModelConfig {
		mu.Lock()
		defer mu.Unlock()
		return cfg
	}

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, newMetricsCollector(client, modelConfig))
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var once sync.Once
	unsubscribe := client.Subscribe(func(s airctrl.State) {
		once.Do(func() {
			raw, _ := client.InitialStatus()
			info := describeDevice(client, raw)

			mu.Lock()
			cfg = info.Config
			serial = info.Serial
			mu.Unlock()

			if outputFmt == "table" {
				fmt.Printf("Connected to %s (%s, firmware %s)\n", info.Serial, info.Model, info.Firmware)
			}
			if sink != nil {
				sink.publishInfo(info.Serial, info)
				err := sink.handleSet(info.Serial, func(req setRequest) {
					go func() {
						if err := applySet(ctx, client, req); err != nil {
							logger.Warn("set request failed", "error", err)
						}
					}()
				})
				if err != nil {
					logger.Warn("mqtt subscribe failed", "error", err)
				}
			}
		})

		mu.Lock()
		changed := last == nil || !last.Equal(s)
		st := s
		last = &st
		dev, c := serial, cfg
		mu.Unlock()

		if changed || !watchChangesOnly {
			outputWatchState(time.Now(), dev, s, c, changed)
		}
		if sink != nil {
			sink.publishState(dev, s)
		}
	})
	defer unsubscribe()

	if err := client.Observe(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Watching %s\n", client.Addr())
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	<-ctx.Done()
	return nil
}

func serveMetrics(addr string, collector prometheus.Collector) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func outputWatchState(t time.Time, serial string, s airctrl.State, cfg airctrl.ModelConfig, changed bool) {
	changeMarker := " "
	if changed {
		changeMarker = "*"
	}

	speed := ""
	if s.ManualSpeed != nil {
		speed = fmt.Sprint(*s.ManualSpeed)
	}

	switch outputFmt {
	case "json":
		data, _ := json.Marshal(struct {
			Time    time.Time     `json:"time"`
			Device  string        `json:"device"`
			State   airctrl.State `json:"state"`
			Quality string        `json:"air_quality"`
			Changed bool          `json:"changed"`
		}{t, serial, s, cfg.AirQuality(s).String(), changed})
		fmt.Println(string(data))
	case "csv":
		fmt.Printf("%s,%s,%s,%s,%g,%s,%s,%v\n",
			t.Format(time.RFC3339Nano),
			serial,
			s.Power,
			s.Mode,
			cfg.PM25(s.ParticulateLevel),
			speed,
			cfg.AirQuality(s),
			changed,
		)
	default:
		fmt.Printf("[%s] %s %s\t%s\n", timestamp(), changeMarker, s, cfg.AirQuality(s))
	}
}
