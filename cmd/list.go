package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/vit"
)

// ListHandler prints the registered models as a table.
func ListHandler(cmd *cobra.Command, _ []string) error {
	var data [][]string
	for _, name := range registry.List() {
		cfg, dc, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		patch := strconv.Itoa(cfg.PatchSize)
		backbone := "-"
		if cfg.Hybrid() {
			patch = "-"
			backbone = cfg.Backbone.Kind
		}
		pretrained := "no"
		if dc.URL != "" {
			pretrained = "yes"
		}
		data = append(data, []string{
			name,
			strconv.Itoa(cfg.EmbedDim),
			strconv.Itoa(cfg.Depth),
			strconv.Itoa(cfg.NumHeads),
			patch,
			fmt.Sprintf("%dx%d", dc.InputSize[1], dc.InputSize[2]),
			backbone,
			pretrained,
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "DIM", "DEPTH", "HEADS", "PATCH", "INPUT", "BACKBONE", "PRETRAINED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

// ShowHandler prints a model's resolved configuration as JSON.
func ShowHandler(cmd *cobra.Command, args []string) error {
	name := args[0]
	var opts []registry.Option
	if n, _ := cmd.Flags().GetInt("img-size"); n > 0 {
		opts = append(opts, registry.WithImgSize(n))
	}
	if n, _ := cmd.Flags().GetInt("num-classes"); n >= 0 {
		opts = append(opts, registry.WithNumClasses(n))
	}
	if p, _ := cmd.Flags().GetBool("pretrained"); p {
		opts = append(opts, registry.WithPretrained(true))
	}

	cfg, dc, err := registry.Resolve(name, opts...)
	if err != nil {
		return err
	}
	e, _ := registry.DefaultRegistry.Get(name)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Config      vit.Config     `json:"config"`
		DefaultCfg  vit.DefaultCfg `json:"default_cfg"`
	}{name, e.Description, cfg, dc})
}
