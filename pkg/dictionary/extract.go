package dictionary

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Extractor materializes the members of an archive into a directory.
// Implementations never leave a partially written member under its final name.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// ExtractorFor picks an in-process extractor from the archive name's suffix.
// It returns nil when the suffix is not recognized.
func ExtractorFor(name string) Extractor {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".zip"):
		return ZipExtractor{}
	case strings.HasSuffix(n, ".tgz"), strings.HasSuffix(n, ".tar.gz"):
		return TarGzExtractor{}
	case strings.HasSuffix(n, ".gz"):
		return GzipExtractor{}
	}
	return nil
}

// DocumentName returns the name of the document inside a jmdict-simplified
// release archive: the archive suffix and the "+<build>" tag are dropped, so
// "jmdict-eng-3.5.0+20230710121913.json.zip" holds "jmdict-eng-3.5.0.json".
func DocumentName(archiveName string) string {
	name := archiveName
	n := strings.ToLower(name)
	for _, suffix := range []string{".tar.gz", ".tgz", ".zip", ".gz"} {
		if strings.HasSuffix(n, suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if i := strings.LastIndex(stem, "+"); i > 0 {
		stem = stem[:i]
	}
	return stem + ext
}

// CommandExtractor runs an external tool. Args may contain the placeholders
// {archive} and {dir}. The tool writes into a staging directory inside the
// destination; its output is moved into place only when it exits cleanly.
type CommandExtractor struct {
	Name string
	Args []string
}

// UnzipCommand extracts with `unzip -o -q <archive> -d <dir>`.
func UnzipCommand() CommandExtractor {
	return CommandExtractor{Name: "unzip", Args: []string{"-o", "-q", "{archive}", "-d", "{dir}"}}
}

func (c CommandExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	staging, err := os.MkdirTemp(destDir, ".extract-")
	if err != nil {
		return &ExtractError{Tool: c.Name, Archive: archivePath, ExitCode: -1, Err: err}
	}
	defer os.RemoveAll(staging)

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, "{archive}", archivePath)
		args[i] = strings.ReplaceAll(a, "{dir}", staging)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ExtractError{Tool: c.Name, Archive: archivePath, ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return &ExtractError{Tool: c.Name, Archive: archivePath, ExitCode: -1, Err: err}
	}
	for _, e := range entries {
		target := filepath.Join(destDir, e.Name())
		if e.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return &ExtractError{Tool: c.Name, Archive: archivePath, ExitCode: -1, Err: err}
			}
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), target); err != nil {
			return &ExtractError{Tool: c.Name, Archive: archivePath, ExitCode: -1, Err: err}
		}
	}
	return nil
}

// ZipExtractor extracts every regular file of a zip archive.
type ZipExtractor struct{}

func (ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	fail := func(err error) error {
		return &ExtractError{Tool: "zip", Archive: archivePath, ExitCode: -1, Err: err}
	}
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fail(err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fail(fmt.Errorf("open member %s: %w", f.Name, err))
		}
		err = writeMember(destDir, f.Name, &ctxReader{ctx: ctx, r: rc})
		rc.Close()
		if err != nil {
			return fail(err)
		}
	}
	return nil
}

// TarGzExtractor extracts every regular file of a gzip-compressed tarball,
// the format of current jmdict-simplified releases.
type TarGzExtractor struct{}

func (TarGzExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	fail := func(err error) error {
		return &ExtractError{Tool: "tar.gz", Archive: archivePath, ExitCode: -1, Err: err}
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return fail(fmt.Errorf("failed to create gzip reader: %w", err))
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fail(fmt.Errorf("error reading tar archive: %w", err))
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeMember(destDir, header.Name, &ctxReader{ctx: ctx, r: tarReader}); err != nil {
			return fail(err)
		}
	}
}

// GzipExtractor decompresses a single-member .gz file. The member is named
// from the gzip header, or from the archive name without its .gz suffix.
type GzipExtractor struct{}

func (GzipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	fail := func(err error) error {
		return &ExtractError{Tool: "gzip", Archive: archivePath, ExitCode: -1, Err: err}
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fail(err)
	}
	defer zr.Close()

	name := filepath.Base(zr.Name)
	if zr.Name == "" {
		name = strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	}
	if err := writeMember(destDir, name, &ctxReader{ctx: ctx, r: zr}); err != nil {
		return fail(err)
	}
	return nil
}

// writeMember streams r into destDir/name through a temp file in the same
// directory, renaming it into place only after a complete write.
func writeMember(destDir, name string, r io.Reader) error {
	if !filepath.IsLocal(name) {
		return fmt.Errorf("member %q escapes destination", name)
	}
	target := filepath.Join(destDir, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".member-*")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write member %s: %w", name, err)
	}
	return nil
}

// ctxReader stops a long copy once ctx is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
