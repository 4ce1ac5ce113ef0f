package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/signature"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.key"
)

func newKeygenCmd() *cobra.Command {
	var (
		dir   string
		bits  int
		ec    bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair for extension packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath := filepath.Join(dir, privateKeyFile)
			pubPath := filepath.Join(dir, publicKeyFile)
			if !force {
				for _, p := range []string{privPath, pubPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists, use --force to overwrite", p)
					} else if !errors.Is(err, os.ErrNotExist) {
						return err
					}
				}
			}

			var (
				key crypto.Signer
				err error
			)
			if ec {
				key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			} else {
				key, err = rsa.GenerateKey(rand.Reader, bits)
			}
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			der, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				return fmt.Errorf("marshal private key: %w", err)
			}
			pub, err := signature.EncodePublicKey(key.Public())
			if err != nil {
				return err
			}

			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
			privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
			if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(pubPath, []byte(pub+"\n"), 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\npublicKey: %s\n", privPath, pubPath, pub)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&dir, "dir", "d", ".", "directory to write the key pair to")
	f.IntVar(&bits, "bits", 2048, "RSA key size")
	f.BoolVar(&ec, "ecdsa", false, "generate a P-256 ECDSA key instead of RSA")
	f.BoolVar(&force, "force", false, "overwrite existing key files")
	return cmd
}
