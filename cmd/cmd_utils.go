// cmd_utils.go - Hilfsfunktionen fuer die CLI
// Hauptfunktionen: newTable, writeJSON, precisionFlag, modelPath
package cmd

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/invoke-ai/invokeai/envconfig"
	"github.com/invoke-ai/invokeai/ml"
)

// newTable - Tabelle ohne Rahmen, linksbuendig
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// precisionFlag - Liest --precision, Default aus INVOKEAI_PRECISION
func precisionFlag(cmd *cobra.Command) (ml.DType, error) {
	s, _ := cmd.Flags().GetString("precision")
	if s == "" {
		s = envconfig.Precision()
	}
	return ml.ParseDType(s)
}

// deviceFlag - Liest --device, Default aus INVOKEAI_DEVICE
func deviceFlag(cmd *cobra.Command) (ml.Device, error) {
	s, _ := cmd.Flags().GetString("device")
	if s == "" {
		s = envconfig.Device()
	}
	return ml.ParseDevice(s)
}

// modelPath - Relative Pfade, die nicht existieren, werden unter INVOKEAI_MODELS gesucht
func modelPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(envconfig.Models(), p)
}
