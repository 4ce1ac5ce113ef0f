// Package verify runs the extension verification pipeline: acquire a
// package, unpack it, check its signature, unpack the signed bundle, sanitize
// the manifest and collect localized text.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/any-listen/any-listen-extension-store/core/archive"
	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/manifest"
	"github.com/any-listen/any-listen-extension-store/core/signature"
)

// Package layout.
const (
	PackageExt    = ".alix"
	SignatureFile = "sig"
	BundleFile    = "ext.tgz"
)

// Stage names a pipeline state.
type Stage string

const (
	StageFetched           Stage = "FETCHED"
	StageOuterUnpacked     Stage = "OUTER_UNPACKED"
	StageSignatureChecked  Stage = "SIGNATURE_CHECKED"
	StageInnerUnpacked     Stage = "INNER_UNPACKED"
	StageManifestSanitized Stage = "MANIFEST_SANITIZED"
	StageI18nBound         Stage = "I18N_BOUND"
	StageVerified          Stage = "VERIFIED"
)

// StageError is returned when a run stops. Stage is the state the run
// failed to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Location is where a package comes from: a remote URL or a local file.
type Location struct {
	URL  string
	Path string
}

// Remote returns a location for a package behind url.
func Remote(url string) Location { return Location{URL: url} }

// Local returns a location for a package file on disk.
func Local(path string) Location { return Location{Path: path} }

func (l Location) String() string {
	if l.URL != "" {
		return l.URL
	}
	return l.Path
}

// Expectation pins what a package must turn out to be. Empty fields are not
// checked.
type Expectation struct {
	ID        string
	PublicKey string
}

// Result is a verified extension. Record.DownloadURL is left empty; it
// depends on how the package was published.
type Result struct {
	Record   *extension.Record
	Fragment i18n.Fragment
}

// Downloader fetches a remote package into a local file.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Pipeline holds the collaborators and settings shared by every run.
type Pipeline struct {
	ScratchDir    string
	Downloader    Downloader
	Limits        archive.Limits
	ExtensionsDir string
	AssetBaseURL  string
	KeepScratch   bool
}

// Run verifies the package at loc. Every run works in its own scratch paths,
// removed when the run ends unless KeepScratch is set.
func (p *Pipeline) Run(ctx context.Context, loc Location, expect Expectation) (*Result, error) {
	if err := os.MkdirAll(p.ScratchDir, 0o750); err != nil {
		return nil, &StageError{Stage: StageFetched, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	token := uuid.NewString()
	pkg := filepath.Join(p.ScratchDir, token+PackageExt)
	if !p.KeepScratch {
		defer func() {
			_ = os.Remove(pkg)
			_ = os.RemoveAll(archive.DestFor(pkg))
		}()
	}

	if err := p.fetch(ctx, loc, pkg); err != nil {
		return nil, &StageError{Stage: StageFetched, Err: err}
	}

	outer, err := p.Limits.Extract(ctx, pkg)
	if err != nil {
		return nil, &StageError{Stage: StageOuterUnpacked, Err: err}
	}

	env, err := checkSignature(outer, expect.PublicKey)
	if err != nil {
		return nil, &StageError{Stage: StageSignatureChecked, Err: err}
	}

	var (
		m    *extension.Manifest
		frag i18n.Fragment
	)
	bundle := filepath.Join(outer, BundleFile)
	err = p.Limits.WithExtracted(ctx, bundle, func(inner string) error {
		var serr error
		if m, serr = p.sanitize(inner, expect.ID); serr != nil {
			return &StageError{Stage: StageManifestSanitized, Err: serr}
		}
		frag = i18n.ReadFragment(inner)
		return nil
	})
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return nil, stageErr
		}
		return nil, &StageError{Stage: StageInnerUnpacked, Err: err}
	}

	logging.Debug("verify", "package verified", "id", m.ID, "version", m.Version, "source", loc.String())
	return &Result{
		Record:   extension.NewRecord(m, env.PublicKey),
		Fragment: frag,
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, loc Location, dst string) error {
	switch {
	case loc.URL != "":
		if p.Downloader == nil {
			return extension.Errorf(extension.ErrAcquisition, "no downloader configured for %s", loc.URL)
		}
		return p.Downloader.Download(ctx, loc.URL, dst)
	case loc.Path != "":
		return copyLocal(loc.Path, dst)
	default:
		return extension.Errorf(extension.ErrAcquisition, "empty package location")
	}
}

func copyLocal(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return extension.Wrap(extension.ErrAcquisition, "open package", err)
	}
	if !info.Mode().IsRegular() {
		return extension.Errorf(extension.ErrAcquisition, "package %s is not a regular file", src)
	}
	// #nosec G304 -- src is confined to the extension's source directory.
	in, err := os.Open(src)
	if err != nil {
		return extension.Wrap(extension.ErrAcquisition, "open package", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return extension.Wrap(extension.ErrAcquisition, "create scratch package", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return extension.Wrap(extension.ErrAcquisition, "copy package", err)
	}
	if err := out.Close(); err != nil {
		return extension.Wrap(extension.ErrAcquisition, "copy package", err)
	}
	return nil
}

func checkSignature(outer, expectedKey string) (signature.Envelope, error) {
	sigData, err := os.ReadFile(filepath.Join(outer, SignatureFile))
	if err != nil {
		return signature.Envelope{}, extension.Wrap(extension.ErrSignature, "read "+SignatureFile, err)
	}
	payload, err := os.ReadFile(filepath.Join(outer, BundleFile))
	if err != nil {
		return signature.Envelope{}, extension.Wrap(extension.ErrArchive, "read "+BundleFile, err)
	}
	env, err := signature.ParseEnvelope(sigData)
	if err != nil {
		return signature.Envelope{}, err
	}
	if err := signature.VerifyExpected(payload, env, expectedKey); err != nil {
		return signature.Envelope{}, err
	}
	return env, nil
}

func (p *Pipeline) sanitize(inner, expectID string) (*extension.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(inner, manifest.FileName))
	if err != nil {
		return nil, extension.Wrap(extension.ErrManifest, "read "+manifest.FileName, err)
	}
	raw, err := manifest.Decode(data)
	if err != nil {
		return nil, err
	}
	return manifest.Sanitize(raw, manifest.Options{
		BundleDir:     inner,
		ExtensionsDir: p.ExtensionsDir,
		AssetBaseURL:  p.AssetBaseURL,
		ExpectID:      expectID,
	})
}
