package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/airctrl/airctrl"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatYAML  OutputFormat = "yaml"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// PrintRecord prints a single record. Structured formats encode v, the
// others print pairs in order.
func (f *Formatter) PrintRecord(v interface{}, pairs map[string]interface{}, order []string) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(v)
	case FormatYAML:
		return f.printYAML(v)
	case FormatCSV:
		row := make([]string, 0, len(order))
		for _, key := range order {
			row = append(row, fmt.Sprint(pairs[key]))
		}
		return f.printCSV(order, [][]string{row})
	default:
		f.PrintKeyValue(pairs, order)
		return nil
	}
}

// PrintRows prints a list of records
func (f *Formatter) PrintRows(v interface{}, headers []string, rows [][]string) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(v)
	case FormatYAML:
		return f.printYAML(v)
	case FormatCSV:
		return f.printCSV(headers, rows)
	default:
		f.PrintTable(headers, rows)
		return nil
	}
}

func (f *Formatter) printJSON(v interface{}) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *Formatter) printYAML(v interface{}) error {
	enc := yaml.NewEncoder(f.writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (f *Formatter) printCSV(headers []string, rows [][]string) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		for j := 0; j < widths[i]; j++ {
			fmt.Fprint(f.writer, "-")
		}
		fmt.Fprint(f.writer, " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintKeyValue prints key-value pairs
func (f *Formatter) PrintKeyValue(pairs map[string]interface{}, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}

var stateOrder = []string{"Power", "Mode", "PM2.5", "Air Quality", "Speed"}

// stateRecord flattens a state for key-value and csv output
func stateRecord(s airctrl.State, cfg airctrl.ModelConfig) map[string]interface{} {
	speed := "-"
	if s.ManualSpeed != nil {
		speed = strconv.Itoa(*s.ManualSpeed)
	}
	return map[string]interface{}{
		"Power":       s.Power,
		"Mode":        s.Mode,
		"PM2.5":       cfg.PM25(s.ParticulateLevel),
		"Air Quality": cfg.AirQuality(s),
		"Speed":       speed,
	}
}

// resultRecord formats a command acknowledgement
func resultRecord(r airctrl.CommandResult) (map[string]interface{}, []string) {
	return map[string]interface{}{
		"Outcome": r.Outcome.String(),
		"Skipped": r.NoOp,
	}, []string{"Outcome", "Skipped"}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
