package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/born-ml/perceiver/envconfig"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/server"
	"github.com/born-ml/perceiver/version"
)

// RunServer starts the HTTP API on PERCEIVER_HOST.
func RunServer(cmd *cobra.Command, _ []string) error {
	pretrained, _ := cmd.Flags().GetBool("pretrained")

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln, registry.WithPretrained(pretrained))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "perceiver version is %s\n", version.Version)
}
