// cmd_lora.go - lora Commands
// Hauptfunktionen: LoraShowHandler, LoraDeltaHandler
package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/invoke-ai/invokeai/format"
	"github.com/invoke-ai/invokeai/lora"
)

func newLoraCmd() *cobra.Command {
	loraCmd := &cobra.Command{
		Use:   "lora",
		Short: "Inspect LoRA adapters",
	}

	showCmd := &cobra.Command{
		Use:   "show FILE",
		Short: "List the layers of a LoRA file",
		Args:  cobra.ExactArgs(1),
		RunE:  LoraShowHandler,
	}
	showCmd.Flags().String("precision", "", "Report sizes for this precision (float32, float16, bfloat16)")
	showCmd.Flags().String("device", "", "Target device (cpu, cuda, cuda:N, mps)")

	deltaCmd := &cobra.Command{
		Use:   "delta FILE LAYER",
		Short: "Reconstruct the weight delta of one layer",
		Args:  cobra.ExactArgs(2),
		RunE:  LoraDeltaHandler,
	}

	loraCmd.AddCommand(showCmd, deltaCmd)
	return loraCmd
}

// LoraShowHandler - Tabelle NAME, RANK, MID, ALPHA, SIZE und die Metadaten
func LoraShowHandler(cmd *cobra.Command, args []string) error {
	dtype, err := precisionFlag(cmd)
	if err != nil {
		return err
	}

	device, err := deviceFlag(cmd)
	if err != nil {
		return err
	}

	m, err := lora.LoadModel(args[0])
	if err != nil {
		return err
	}
	m = m.To(device, dtype)

	out := cmd.OutOrStdout()
	var data [][]string
	for _, name := range m.Layers() {
		l := m.Layer(name)

		mid := "no"
		if l.Mid() != nil {
			mid = "yes"
		}

		alpha := "-"
		if a, ok := l.Alpha(); ok {
			alpha = strconv.FormatFloat(float64(a), 'g', -1, 32)
		}

		data = append(data, []string{name, strconv.Itoa(l.Rank()), mid, alpha, format.HumanBytes(l.Size())})
	}

	table := newTable(out, "NAME", "RANK", "MID", "ALPHA", "SIZE")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(out, "\n%d layers, %s on %s (%s)\n", len(data), format.HumanBytes(m.Size()), device, dtype)

	if len(m.Metadata) > 0 {
		fmt.Fprintln(out, "\nMetadata")
		meta := newTable(out, "KEY", "VALUE")
		for _, k := range slices.Sorted(maps.Keys(m.Metadata)) {
			meta.Append([]string{k, m.Metadata[k]})
		}
		meta.Render()
	}

	return nil
}

// LoraDeltaHandler - Gibt Shape, Norm und Skalierung des Deltas aus
func LoraDeltaHandler(cmd *cobra.Command, args []string) error {
	m, err := lora.LoadModel(args[0])
	if err != nil {
		return err
	}

	l := m.Layer(args[1])
	if l == nil {
		return fmt.Errorf("layer %q not found in %s", args[1], m.Name)
	}

	w, err := l.Weight(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "shape: %v\n", w.Shape())
	fmt.Fprintf(out, "norm:  %.6g\n", w.Norm())
	fmt.Fprintf(out, "scale: %g\n", l.Scale())
	if b := l.Bias(); b != nil {
		fmt.Fprintf(out, "bias:  %v\n", b.Shape())
	}
	return nil
}
