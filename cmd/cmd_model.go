// cmd_model.go - model Commands
// Hauptfunktionen: ModelShowHandler, ModelResolveHandler, ModelLoadHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/invoke-ai/invokeai/format"
	"github.com/invoke-ai/invokeai/modelmanager"
)

func newModelCmd() *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Resolve and load diffusers models",
	}

	showCmd := &cobra.Command{
		Use:   "show PATH",
		Short: "List the submodels of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  ModelShowHandler,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve PATH",
		Short: "Print the class that loads a model",
		Args:  cobra.ExactArgs(1),
		RunE:  ModelResolveHandler,
	}
	resolveCmd.Flags().String("submodel", "", "Resolve this submodel from model_index.json")

	loadCmd := &cobra.Command{
		Use:   "load PATH",
		Short: "Load a model and report its size",
		Args:  cobra.ExactArgs(1),
		RunE:  ModelLoadHandler,
	}
	loadCmd.Flags().String("base", string(modelmanager.BaseAny), "Base model (sd-1, sd-2, sdxl, flux, any)")
	loadCmd.Flags().String("type", string(modelmanager.ModelTypeCLIPVision), "Model type (clip_vision, t2i_adapter)")
	loadCmd.Flags().String("variant", "", "Repo variant (fp16, fp32)")
	loadCmd.Flags().String("precision", "", "Precision to load the weights in")

	modelCmd.AddCommand(showCmd, resolveCmd, loadCmd)
	return modelCmd
}

// ModelShowHandler - Tabelle aller Submodelle in Datei-Reihenfolge
func ModelShowHandler(cmd *cobra.Command, args []string) error {
	subs, err := modelmanager.Submodels(modelPath(args[0]))
	if err != nil {
		return err
	}

	table := newTable(cmd.OutOrStdout(), "SUBMODEL", "MODULE", "CLASS")
	for _, s := range subs {
		table.Append([]string{string(s.Name), s.Module, s.ClassName})
	}
	table.Render()
	return nil
}

// ModelResolveHandler - Gibt module.Class aus
func ModelResolveHandler(cmd *cobra.Command, args []string) error {
	path := modelPath(args[0])

	var submodel *modelmanager.SubModelType
	if s, _ := cmd.Flags().GetString("submodel"); s != "" {
		sub := modelmanager.SubModelType(s)
		submodel = &sub
	}

	r := modelmanager.Resolver{}
	def, err := r.ResolveDefinition(path, submodel)
	if err != nil {
		return err
	}

	if _, err := r.ResolveClass(path, submodel); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), def)
	return err
}

// ModelLoadHandler - Laedt das Modell ueber die Loader-Registry
func ModelLoadHandler(cmd *cobra.Command, args []string) error {
	dtype, err := precisionFlag(cmd)
	if err != nil {
		return err
	}

	base, _ := cmd.Flags().GetString("base")
	typ, _ := cmd.Flags().GetString("type")
	variant, _ := cmd.Flags().GetString("variant")

	cfg := modelmanager.ModelConfig{
		Name:        args[0],
		Path:        modelPath(args[0]),
		Base:        modelmanager.BaseModelType(base),
		Type:        modelmanager.ModelType(typ),
		Format:      modelmanager.FormatDiffusers,
		RepoVariant: modelmanager.ModelRepoVariant(variant),
	}

	m, err := modelmanager.DefaultLoaders.Load(cmd.Context(), cfg, nil, modelmanager.LoaderOptions{DType: dtype})
	if err != nil {
		return err
	}

	tensors := "-"
	if pm, ok := m.(*modelmanager.PretrainedModel); ok {
		tensors = strconv.Itoa(len(pm.Names()))
	}

	table := newTable(cmd.OutOrStdout(), "CLASS", "TENSORS", "PRECISION", "SIZE")
	table.Append([]string{m.ClassName(), tensors, dtype.String(), format.HumanBytes(m.Size())})
	table.Render()
	return nil
}
