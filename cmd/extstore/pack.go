package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/manifest"
	"github.com/any-listen/any-listen-extension-store/core/pack"
	"github.com/any-listen/any-listen-extension-store/core/signature"
	"github.com/any-listen/any-listen-extension-store/core/verify"
)

func newPackCmd() *cobra.Command {
	var (
		keyPath string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "pack <bundle-dir>",
		Short: "Sign a bundle directory into an extension package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleDir := args[0]
			// #nosec G304 -- paths are operator-provided.
			data, err := os.ReadFile(filepath.Join(bundleDir, manifest.FileName))
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			raw, err := manifest.Decode(data)
			if err != nil {
				return err
			}
			m, err := manifest.Sanitize(raw, manifest.Options{})
			if err != nil {
				return err
			}

			// #nosec G304 -- paths are operator-provided.
			pemData, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			key, err := signature.ParsePrivateKey(pemData)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = m.ID + verify.PackageExt
			}
			env, err := pack.BuildFile(outPath, bundleDir, key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "packed %s %s into %s\n", m.ID, m.Version, outPath)
			fmt.Fprintf(out, "publicKey: %s\n", env.PublicKey)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "PEM private key to sign with")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "package file to write (default <id>"+verify.PackageExt+")")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
