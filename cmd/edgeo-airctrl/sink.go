package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo-scada/airctrl/airctrl"
)

// mqttSink republishes purifier states to an MQTT broker
type mqttSink struct {
	cli    mqtt.Client
	prefix string
	logger *slog.Logger
}

// brokerServer maps a broker URL onto the server string paho expects
func brokerServer(u *url.URL) (string, error) {
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

func newMQTTSink(brokerURL, prefix, clientID string, logger *slog.Logger) (*mqttSink, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	server, err := brokerServer(u)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) { logger.Info("mqtt connected", "broker", server) }
	opts.OnConnectionLost = func(c mqtt.Client, err error) { logger.Warn("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "mqtts" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := mqtt.NewClient(opts)
	if t := cli.Connect(); t.WaitTimeout(timeout) && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", t.Error())
	}
	if !cli.IsConnected() {
		return nil, fmt.Errorf("mqtt connect: no answer from %s within %s", server, timeout)
	}

	return &mqttSink{cli: cli, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}, nil
}

func (s *mqttSink) topic(parts ...string) string {
	return s.prefix + "/" + strings.Join(parts, "/")
}

func (s *mqttSink) publish(topic string, payload []byte, retain bool) error {
	t := s.cli.Publish(topic, 0, retain, payload)
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return t.Error()
}

// publishState sends the state retained so late subscribers see the last value
func (s *mqttSink) publishState(serial string, st airctrl.State) {
	payload, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("encode state", "error", err)
		return
	}
	if err := s.publish(s.topic(serial, "state"), payload, true); err != nil {
		s.logger.Warn("mqtt publish failed", "topic", s.topic(serial, "state"), "error", err)
	}
}

func (s *mqttSink) publishInfo(serial string, info deviceInfo) {
	payload, err := json.Marshal(info)
	if err != nil {
		s.logger.Error("encode info", "error", err)
		return
	}
	if err := s.publish(s.topic(serial, "info"), payload, true); err != nil {
		s.logger.Warn("mqtt publish failed", "topic", s.topic(serial, "info"), "error", err)
	}
}

// setRequest is the body accepted on the set topic
type setRequest struct {
	Power *string `json:"power,omitempty"`
	Mode  *string `json:"mode,omitempty"`
	Speed *int    `json:"speed,omitempty"`
}

// handleSet subscribes to <prefix>/<serial>/set and forwards requests to apply
func (s *mqttSink) handleSet(serial string, apply func(setRequest)) error {
	topic := s.topic(serial, "set")
	t := s.cli.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		var req setRequest
		if err := json.Unmarshal(m.Payload(), &req); err != nil {
			s.logger.Warn("invalid set request", "topic", m.Topic(), "error", err)
			return
		}
		apply(req)
	})
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := t.Error(); err != nil {
		return err
	}
	s.logger.Info("mqtt subscribed", "topic", topic)
	return nil
}

func (s *mqttSink) close() {
	s.cli.Disconnect(250)
}

// metricsCollector exposes client metrics and the latest state to Prometheus
type metricsCollector struct {
	client *airctrl.Client
	cfg    func() airctrl.ModelConfig

	counters  *prometheus.Desc
	latency   *prometheus.Desc
	connected *prometheus.Desc
	pm25      *prometheus.Desc
	power     *prometheus.Desc
	speed     *prometheus.Desc
}

func newMetricsCollector(client *airctrl.Client, cfg func() airctrl.ModelConfig) *metricsCollector {
	labels := prometheus.Labels{"device": client.Addr()}
	return &metricsCollector{
		client: client,
		cfg:    cfg,
		counters: prometheus.NewDesc("airctrl_events_total",
			"Client event counters.", []string{"event"}, labels),
		latency: prometheus.NewDesc("airctrl_command_duration_seconds",
			"Duration of the sync and control round trip.", nil, labels),
		connected: prometheus.NewDesc("airctrl_connected",
			"Whether the status observation is active.", nil, labels),
		pm25: prometheus.NewDesc("airctrl_pm25_ugm3",
			"Reported PM2.5 concentration.", nil, labels),
		power: prometheus.NewDesc("airctrl_power_on",
			"Whether the purifier is powered on.", nil, labels),
		speed: prometheus.NewDesc("airctrl_rotation_speed_percent",
			"Fan rotation speed derived from the mode.", nil, labels),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counters
	ch <- c.latency
	ch <- c.connected
	ch <- c.pm25
	ch <- c.power
	ch <- c.speed
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.client.Metrics().Snapshot()
	for event, v := range map[string]int64{
		"connect_attempt":   snap.ConnectAttempts,
		"connect_success":   snap.ConnectSuccesses,
		"connect_failure":   snap.ConnectFailures,
		"drop":              snap.Drops,
		"cooldown":          snap.Cooldowns,
		"sync":              snap.SyncRequests,
		"command_sent":      snap.CommandsSent,
		"command_succeeded": snap.CommandsSucceeded,
		"command_rejected":  snap.CommandsRejected,
		"command_failed":    snap.CommandsFailed,
		"command_timeout":   snap.CommandsTimedOut,
		"command_skipped":   snap.CommandsSkipped,
		"lock_timeout":      snap.LockTimeouts,
		"report_received":   snap.ReportsReceived,
		"report_malformed":  snap.ReportsMalformed,
		"state_published":   snap.StatesPublished,
	} {
		ch <- prometheus.MustNewConstMetric(c.counters, prometheus.CounterValue, float64(v), event)
	}

	buckets := make(map[float64]uint64, len(airctrl.LatencyBucketBounds))
	var cumulative uint64
	for i, bound := range airctrl.LatencyBucketBounds {
		if i < len(snap.LatencyStats.Buckets) {
			cumulative += uint64(snap.LatencyStats.Buckets[i])
		}
		buckets[bound.Seconds()] = cumulative
	}
	ch <- prometheus.MustNewConstHistogram(c.latency,
		uint64(snap.LatencyStats.Count), snap.LatencyStats.Sum.Seconds(), buckets)

	connected := 0.0
	if c.client.IsConnected() {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)

	st, ok := c.client.CurrentState()
	if !ok {
		return
	}
	power := 0.0
	if st.Power == airctrl.PowerOn {
		power = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pm25, prometheus.GaugeValue, c.cfg().PM25(st.ParticulateLevel))
	ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, power)
	ch <- prometheus.MustNewConstMetric(c.speed, prometheus.GaugeValue, float64(st.Mode.RotationSpeed(st.ManualSpeed)))
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}
