// Package archive unpacks and builds the tar archives used for extension
// packages. Both the outer .alix package and the inner ext.tgz bundle go
// through here.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/pathguard"
)

const (
	defaultMaxFiles      = 2048
	defaultMaxFileBytes  = 32 << 20
	defaultMaxTotalBytes = 256 << 20
)

// Limits bounds what a single extraction may write.
type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// DefaultLimits is used by the package-level helpers.
var DefaultLimits = Limits{
	MaxFiles:      defaultMaxFiles,
	MaxFileBytes:  defaultMaxFileBytes,
	MaxTotalBytes: defaultMaxTotalBytes,
}

func (l Limits) withDefaults() Limits {
	if l.MaxFiles <= 0 {
		l.MaxFiles = defaultMaxFiles
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = defaultMaxFileBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = defaultMaxTotalBytes
	}
	return l
}

// Extract unpacks archivePath with DefaultLimits.
func Extract(ctx context.Context, archivePath string) (string, error) {
	return DefaultLimits.Extract(ctx, archivePath)
}

// WithExtracted extracts with DefaultLimits and runs fn on the result.
func WithExtracted(ctx context.Context, archivePath string, fn func(dir string) error) error {
	return DefaultLimits.WithExtracted(ctx, archivePath, fn)
}

// Extract unpacks archivePath next to itself, into the path with its final
// extension stripped, and returns that directory. On failure the directory is
// removed before the error is returned.
func (l Limits) Extract(ctx context.Context, archivePath string) (string, error) {
	dest := DestFor(archivePath)
	if dest == "" {
		return "", extension.Errorf(extension.ErrArchive, "cannot derive destination for %s", archivePath)
	}
	if err := l.extract(ctx, archivePath, dest); err != nil {
		_ = os.RemoveAll(dest)
		if errors.Is(err, extension.ErrPathTraversal) || errors.Is(err, extension.ErrArchive) {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", extension.Wrap(extension.ErrArchive, "extract "+filepath.Base(archivePath), err)
	}
	return dest, nil
}

// WithExtracted extracts archivePath and hands the directory to fn. If fn
// fails the directory is removed; on success it is kept for the caller's
// scratch cleanup.
func (l Limits) WithExtracted(ctx context.Context, archivePath string, fn func(dir string) error) error {
	dir, err := l.Extract(ctx, archivePath)
	if err != nil {
		return err
	}
	if err := fn(dir); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

// DestFor returns the extraction directory for archivePath.
func DestFor(archivePath string) string {
	ext := filepath.Ext(archivePath)
	dest := strings.TrimSuffix(archivePath, ext)
	if dest == archivePath || filepath.Base(dest) == "" {
		return ""
	}
	return dest
}

func (l Limits) extract(ctx context.Context, archivePath, dest string) error {
	l = l.withDefaults()
	// #nosec G304 -- archive path is a scratch file owned by the pipeline.
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	src := bufio.NewReader(file)
	var r io.Reader = src
	magic, err := src.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}
	tr := tar.NewReader(r)
	var (
		files   int
		totalSz int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" || name == "." {
			continue
		}
		target, err := pathguard.Join(dest, name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			files++
			if files > l.MaxFiles {
				return extension.Errorf(extension.ErrArchive, "archive exceeds max files (%d)", l.MaxFiles)
			}
			if hdr.Size < 0 || hdr.Size > l.MaxFileBytes {
				return extension.Errorf(extension.ErrArchive, "archive member too large: %s", hdr.Name)
			}
			totalSz += hdr.Size
			if totalSz > l.MaxTotalBytes {
				return extension.Errorf(extension.ErrArchive, "archive exceeds max size (%d bytes)", l.MaxTotalBytes)
			}
			if err := writeMember(target, tr, hdr.Size); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
		default:
			return extension.Errorf(extension.ErrArchive, "unsupported archive member %s (type %q)", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeMember(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	// #nosec G304 -- target path is validated by pathguard.Join.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, size); err != nil && !errors.Is(err, io.EOF) {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Create writes srcDir as a tar stream to w, gzip-compressed when gz is set.
// Entries are sorted and timestamps zeroed so identical trees produce
// identical bytes.
func Create(w io.Writer, srcDir string, gz bool) error {
	var paths []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		if d.IsDir() || d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(paths)

	var (
		out  = w
		gzw  *gzip.Writer
		zero = time.Unix(0, 0).UTC()
	)
	if gz {
		gzw = gzip.NewWriter(w)
		out = gzw
	}
	tw := tar.NewWriter(out)
	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			ModTime: zero,
		}
		if info.IsDir() {
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = 0o644
			hdr.Size = info.Size()
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if err := copyFile(tw, path); err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if gzw != nil {
		return gzw.Close()
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	// #nosec G304 -- path comes from walking the operator's bundle directory.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
