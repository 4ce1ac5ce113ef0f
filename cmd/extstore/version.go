package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/infra/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "extstore %s\n", buildinfo.Info())
		},
	}
}
