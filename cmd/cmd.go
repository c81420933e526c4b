// Package cmd implements the perceiver command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/born-ml/perceiver/envconfig"
	"github.com/born-ml/perceiver/internal/logutil"
	"github.com/born-ml/perceiver/internal/parallel"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI returns the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "perceiver",
		Short:         "Perceiver vision transformer encoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
			parallel.SetWorkers(envconfig.NumThreads())
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered models",
		Args:    cobra.NoArgs,
		RunE:    ListHandler,
	}

	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show the resolved configuration of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}
	showCmd.Flags().Int("img-size", 0, "Input resolution")
	showCmd.Flags().Int("num-classes", -1, "Classifier width (0 removes the head)")
	showCmd.Flags().Bool("pretrained", false, "Resolve as for pretrained weights")

	encodeCmd := &cobra.Command{
		Use:   "encode MODEL IMAGE...",
		Short: "Encode images and summarize the features",
		Args:  cobra.MinimumNArgs(2),
		RunE:  EncodeHandler,
	}
	encodeCmd.Flags().String("checkpoint", "", "Load weights from a .pth or .safetensors file")
	encodeCmd.Flags().Bool("pretrained", false, "Load the published weights")
	encodeCmd.Flags().Int("max-image-len", envconfig.MaxImageLen(), "Tokens kept per image (negative: no limit)")
	encodeCmd.Flags().Bool("mask", false, "Apply masked patch prediction masking")
	encodeCmd.Flags().Uint64("seed", 0, "Seed for initialization and token sampling")
	encodeCmd.Flags().Bool("video", false, "Treat the images as the frames of one clip")
	encodeCmd.Flags().Bool("letterbox", false, "Keep the aspect ratio and zero-pad instead of cropping")
	encodeCmd.Flags().Bool("json", false, "Print the summary as JSON")

	convertCmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Convert a checkpoint to safetensors",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}
	convertCmd.Flags().String("model", "", "Adapt the checkpoint to this model")
	convertCmd.Flags().Int("img-size", 0, "Resize position embeddings for this resolution (with --model)")
	convertCmd.Flags().Int("num-classes", -1, "Classifier width (with --model)")
	convertCmd.Flags().Bool("f16", false, "Store float16 tensors")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP encoder API",
		Args:    cobra.NoArgs,
		RunE:    RunServer,
	}
	serveCmd.Flags().Bool("pretrained", true, "Load published weights for served models")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	envVars := envconfig.AsMap()
	for _, c := range []*cobra.Command{listCmd, showCmd, encodeCmd, convertCmd, serveCmd} {
		switch c {
		case serveCmd:
			appendEnvDocs(c, []envconfig.EnvVar{
				envVars["PERCEIVER_DEBUG"],
				envVars["PERCEIVER_HOST"],
				envVars["PERCEIVER_ORIGINS"],
				envVars["PERCEIVER_CACHE_DIR"],
				envVars["PERCEIVER_THREADS"],
				envVars["PERCEIVER_MAX_IMAGE_LEN"],
				envVars["PERCEIVER_OFFLINE"],
			})
		case encodeCmd, convertCmd:
			appendEnvDocs(c, []envconfig.EnvVar{
				envVars["PERCEIVER_DEBUG"],
				envVars["PERCEIVER_CACHE_DIR"],
				envVars["PERCEIVER_THREADS"],
				envVars["PERCEIVER_OFFLINE"],
			})
		default:
			appendEnvDocs(c, []envconfig.EnvVar{envVars["PERCEIVER_DEBUG"]})
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		listCmd,
		showCmd,
		encodeCmd,
		convertCmd,
		versionCmd,
	)

	return rootCmd
}
