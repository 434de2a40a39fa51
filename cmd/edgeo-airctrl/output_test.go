package main

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/airctrl/airctrl"
)

func TestFormatterRecord(t *testing.T) {
	speed := 40
	st := airctrl.State{ParticulateLevel: 700, Mode: airctrl.ModeManual, Power: airctrl.PowerOn, ManualSpeed: &speed}
	cfg := airctrl.Capabilities(airctrl.ModelAC2729)
	pairs := stateRecord(st, cfg)

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			assert.JSONEq(t, `{"pm2_5":700,"mode":"manual","power":"on","speed":40}`, out)
		}},
		{"yaml", func(t *testing.T, out string) {
			assert.YAMLEq(t, "pm2_5: 700\nmode: manual\npower: \"on\"\nspeed: 40\n", out)
		}},
		{"csv", func(t *testing.T, out string) {
			assert.Equal(t, "Power,Mode,PM2.5,Air Quality,Speed\non,manual,7,good,40\n", out)
		}},
		{"table", func(t *testing.T, out string) {
			assert.Contains(t, out, "Mode       : manual\n")
			assert.Contains(t, out, "Air Quality: good\n")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			f := NewFormatter(tt.format)
			f.SetWriter(&buf)
			require.NoError(t, f.PrintRecord(st, pairs, stateOrder))
			tt.check(t, buf.String())
		})
	}
}

func TestFormatterTable(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter("table")
	f.SetWriter(&buf)

	require.NoError(t, f.PrintRows(nil, []string{"Field", "Value"}, [][]string{{"D03102", "1"}, {"name", "Bedroom"}}))
	assert.Equal(t, "Field  Value   \n------ ------- \nD03102 1       \nname   Bedroom \n", buf.String())
}

func TestParsePower(t *testing.T) {
	p, err := parsePower("ON")
	require.NoError(t, err)
	assert.Equal(t, airctrl.PowerOn, p)

	p, err = parsePower("off")
	require.NoError(t, err)
	assert.Equal(t, airctrl.PowerOff, p)

	_, err = parsePower("standby")
	assert.ErrorIs(t, err, airctrl.ErrCapability)
}

func TestBrokerServer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mqtt://broker:1883", "tcp://broker:1883"},
		{"tcp://user:pw@broker:1883", "tcp://broker:1883"},
		{"tls://broker:8883", "ssl://broker:8883"},
		{"wss://broker/mqtt", "wss://broker/mqtt"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		require.NoError(t, err)
		got, err := brokerServer(u)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	u, _ := url.Parse("http://broker")
	_, err := brokerServer(u)
	assert.Error(t, err)
}

func TestPingTargets(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("devices", nil)
		host = ""
	})

	host = "10.0.0.9"
	assert.Equal(t, []string{"10.0.0.9"}, pingTargets(nil))

	viper.Set("devices", []string{"10.0.0.1", "10.0.0.2:5684"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2:5684"}, pingTargets(nil))

	assert.Equal(t, []string{"10.0.0.3"}, pingTargets([]string{"10.0.0.3"}))
}

func TestDescribeDevice(t *testing.T) {
	client, err := airctrl.NewClient("192.0.2.10")
	require.NoError(t, err)
	defer client.Close()

	info := describeDevice(client, airctrl.RawReport{
		airctrl.FieldModelID:  "AC2729/10",
		airctrl.FieldDeviceID: "abc123",
		airctrl.FieldFirmware: "1.0.7",
	})
	assert.Equal(t, "abc123", info.Serial)
	assert.Equal(t, airctrl.ModelAC2729, info.Model)
	assert.Equal(t, "1.0.7", info.Firmware)

	info = describeDevice(client, airctrl.RawReport{})
	assert.Equal(t, "192.0.2.10:5683", info.Serial)
	assert.Equal(t, airctrl.ModelUnknown, info.Model)
}

func TestMetricsCollector(t *testing.T) {
	client, err := airctrl.NewClient("192.0.2.11")
	require.NoError(t, err)
	defer client.Close()

	client.Metrics().CommandsSent.Add(3)

	c := newMetricsCollector(client, func() airctrl.ModelConfig {
		return airctrl.Capabilities(airctrl.ModelUnknown)
	})

	// 16 counters, the latency histogram and the connection gauge. State
	// gauges only appear once a report arrived.
	assert.Equal(t, 18, testutil.CollectAndCount(c))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2*1024*1024))
}
