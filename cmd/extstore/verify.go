package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/index"
	"github.com/any-listen/any-listen-extension-store/core/infra/fetch"
	"github.com/any-listen/any-listen-extension-store/core/verify"
)

type verifyOutput struct {
	Record *extension.Record `json:"record"`
	I18n   i18n.Fragment     `json:"i18n,omitempty"`
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		expectID  string
		publicKey string
	)
	cmd := &cobra.Command{
		Use:   "verify <package-path|url>",
		Short: "Verify a single extension package and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
				return fmt.Errorf("create scratch dir: %w", err)
			}
			assets, err := os.MkdirTemp(cfg.ScratchDir, "assets-")
			if err != nil {
				return fmt.Errorf("create asset dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(assets) }()

			_, pipeline := newPipeline(cfg, assets)
			loc := verify.Local(args[0])
			if fetch.IsHTTP(args[0]) {
				loc = verify.Remote(args[0])
			}
			res, err := pipeline.Run(cmd.Context(), loc, verify.Expectation{ID: expectID, PublicKey: publicKey})
			if err != nil {
				return err
			}
			if loc.URL != "" {
				res.Record.DownloadURL = loc.URL
			}
			data, err := index.Marshal(verifyOutput{Record: res.Record, I18n: res.Fragment})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&expectID, "expect-id", "", "fail unless the manifest declares this id")
	f.StringVar(&publicKey, "public-key", "", "fail unless the package is signed with this key")
	f.String("scratch-dir", "", "directory for downloaded and unpacked packages")
	f.Bool("keep-scratch", false, "keep scratch files after verification")
	return cmd
}
