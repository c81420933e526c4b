package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/version"
)

// ConvertHandler rewrites a checkpoint as safetensors. With --model the
// weights are first adapted to that model and strictly loaded into it, so
// the output loads without further filtering.
func ConvertHandler(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	flags := cmd.Flags()
	name, _ := flags.GetString("model")
	imgSize, _ := flags.GetInt("img-size")
	numClasses, _ := flags.GetInt("num-classes")
	f16, _ := flags.GetBool("f16")

	sd, err := checkpoint.Read(in)
	if err != nil {
		return err
	}

	metadata := map[string]string{"format": "pt", "converter": "perceiver " + version.Version}
	if name != "" {
		var opts []registry.Option
		if imgSize > 0 {
			opts = append(opts, registry.WithImgSize(imgSize))
		}
		if numClasses >= 0 {
			opts = append(opts, registry.WithNumClasses(numClasses))
		}
		m, err := registry.CreateContext(cmd.Context(), name, opts...)
		if err != nil {
			return err
		}
		filtered, err := checkpoint.Filter(sd, m)
		if err != nil {
			return err
		}
		if err := checkpoint.Load(m, filtered, true); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		sd = checkpoint.FromModule(m)
		metadata["model"] = name
	}

	dtype := tensor.Float32
	if f16 {
		dtype = tensor.Float16
	}
	if err := checkpoint.WriteSafetensors(out, sd, metadata, dtype); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors (%d values, %s) to %s\n", sd.Len(), sd.NumElements(), dtype, out)
	return nil
}
