// Package pack builds signed extension packages from a bundle directory.
package pack

import (
	"archive/tar"
	"bytes"
	"crypto"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/archive"
	"github.com/any-listen/any-listen-extension-store/core/signature"
	"github.com/any-listen/any-listen-extension-store/core/verify"
)

// Build writes a package for bundleDir to w: an outer tar holding the signed
// gzip bundle and its sig file. It returns the envelope that was embedded.
func Build(w io.Writer, bundleDir string, key crypto.Signer) (signature.Envelope, error) {
	var bundle bytes.Buffer
	if err := archive.Create(&bundle, bundleDir, true); err != nil {
		return signature.Envelope{}, fmt.Errorf("archive bundle: %w", err)
	}
	env, err := signature.Sign(bundle.Bytes(), key)
	if err != nil {
		return signature.Envelope{}, err
	}
	if err := writeOuter(w, signature.EncodeEnvelope(env), bundle.Bytes()); err != nil {
		return signature.Envelope{}, err
	}
	return env, nil
}

// BuildFile is Build into a new file at dst.
func BuildFile(dst, bundleDir string, key crypto.Signer) (signature.Envelope, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return signature.Envelope{}, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return signature.Envelope{}, err
	}
	env, err := Build(out, bundleDir, key)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return signature.Envelope{}, err
	}
	return env, nil
}

func writeOuter(w io.Writer, sig, bundle []byte) error {
	tw := tar.NewWriter(w)
	zero := time.Unix(0, 0).UTC()
	members := []struct {
		name string
		data []byte
	}{
		{verify.SignatureFile, sig},
		{verify.BundleFile, bundle},
	}
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Mode:     0o644,
			Size:     int64(len(m.data)),
			ModTime:  zero,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write %s header: %w", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}
	return tw.Close()
}
