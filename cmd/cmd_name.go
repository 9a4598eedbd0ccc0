// cmd_name.go - name Command
// Hauptfunktionen: NameHandler
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invoke-ai/invokeai/names"
)

func newNameCmd() *cobra.Command {
	nameCmd := &cobra.Command{
		Use:   "name",
		Short: "Generate unique image names",
		Args:  cobra.NoArgs,
		RunE:  NameHandler,
	}

	nameCmd.Flags().String("prefix", "", "Prefix for the generated names")
	nameCmd.Flags().IntP("count", "n", 1, "Number of names to generate")

	return nameCmd
}

// NameHandler - Gibt n neue Bildnamen aus, einen pro Zeile
func NameHandler(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	n, _ := cmd.Flags().GetInt("count")
	if n < 1 {
		return fmt.Errorf("count must be at least 1, got %d", n)
	}

	var svc names.NameService = names.SimpleNameService{}
	for range n {
		fmt.Fprintln(cmd.OutOrStdout(), svc.CreateImageName(prefix))
	}
	return nil
}
