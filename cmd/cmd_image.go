// cmd_image.go - image Commands
// Hauptfunktionen: ImageDTOHandler, ImageSchemaHandler
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/invoke-ai/invokeai/envconfig"
	"github.com/invoke-ai/invokeai/images"
)

func newImageCmd() *cobra.Command {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Inspect image records",
	}

	dtoCmd := &cobra.Command{
		Use:   "dto RECORD",
		Short: "Print the DTO for an image record stored as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  ImageDTOHandler,
	}
	dtoCmd.Flags().String("board", "", "Board the image belongs to")
	dtoCmd.Flags().String("probe", "", "Read width and height from this image file")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print TypeScript definitions of the image DTOs",
		Args:  cobra.NoArgs,
		RunE:  ImageSchemaHandler,
	}

	imageCmd.AddCommand(dtoCmd, schemaCmd)
	return imageCmd
}

// ImageDTOHandler - Liest einen ImageRecord und gibt das angereicherte DTO aus
func ImageDTOHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var record images.ImageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	if probe, _ := cmd.Flags().GetString("probe"); probe != "" {
		f, err := os.Open(probe)
		if err != nil {
			return err
		}
		defer f.Close()

		w, h, format, err := images.Probe(f)
		if err != nil {
			return fmt.Errorf("%s: %w", probe, err)
		}
		slog.Debug("probed image", "file", probe, "format", format, "width", w, "height", h)
		record.Width, record.Height = w, h
	}

	if err := images.ValidateRecord(record); err != nil {
		return err
	}

	var boardID *string
	if board, _ := cmd.Flags().GetString("board"); board != "" {
		boardID = &board
	}

	svc := images.LocalURLService{Base: envconfig.APIBase()}
	return writeJSON(cmd.OutOrStdout(), images.NewDTO(svc, record, boardID))
}

// ImageSchemaHandler - Gibt die TypeScript-Interfaces aus
func ImageSchemaHandler(cmd *cobra.Command, args []string) error {
	ts, err := images.TypeScript()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), ts)
	return err
}
