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
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var dumpFile string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the raw status report of a device",
	Long: `Dump waits for the first status report and writes every reported field
exactly as the purifier sent it, after decryption.

This is useful when adding support for a new model or for debugging.

Examples:
  # Dump all fields to stdout
  edgeo-airctrl dump -H 192.168.1.40

  # Dump to a JSON file
  edgeo-airctrl dump -H 192.168.1.40 -f report.json -o json`,

	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFile, "file", "f", "", "Output file (default stdout)")
}

func runDump(cmd *cobra.Command, args []string) error {
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

	f := NewFormatter(outputFmt)
	if dumpFile != "" {
		file, err := os.Create(dumpFile)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		defer file.Close()
		f.SetWriter(file)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(raw[k])})
	}

	if err := f.PrintRows(raw, []string{"Field", "Value"}, rows); err != nil {
		return err
	}
	if dumpFile != "" {
		fmt.Fprintf(os.Stderr, "Wrote %d fields to %s\n", len(keys), dumpFile)
	}
	return nil
}
