package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Bundler compresses run artifacts with zstd.
type Bundler struct {
	level int
}

// NewBundler creates a bundler. Levels follow zstd, 1 through 19; out of
// range values are rejected.
func NewBundler(level int) (*Bundler, error) {
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("archive: zstd level must be 1-19, got %d", level)
	}
	return &Bundler{level: level}, nil
}

// DefaultBundler returns a bundler at level 3, the speed/ratio middle ground.
func DefaultBundler() *Bundler {
	return &Bundler{level: 3}
}

func (b *Bundler) newWriter(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(b.level)),
		zstd.WithEncoderConcurrency(1),
	)
}

// CompressFile writes a zstd-compressed copy of path next to it and returns
// the new path. The source file is left in place.
func (b *Bundler) CompressFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	out := path + ".zst"
	dst, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", out, err)
	}
	defer func() { _ = dst.Close() }()

	enc, err := b.newWriter(dst)
	if err != nil {
		return "", fmt.Errorf("archive: zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("archive: compress %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("archive: finish %s: %w", out, err)
	}
	return out, nil
}

// DecompressFile expands a .zst file into memory.
func DecompressFile(path string) ([]byte, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress %s: %w", path, err)
	}
	return data, nil
}

// BundleRun packs the given files into a single tar.zst at dst. Entries keep
// their base names only, so a bundle extracts flat.
func (b *Bundler) BundleRun(dst string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("archive: nothing to bundle")
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	enc, err := b.newWriter(out)
	if err != nil {
		return fmt.Errorf("archive: zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	for _, path := range paths {
		if err := addFile(tw, path); err != nil {
			_ = tw.Close()
			_ = enc.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("archive: finish tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("archive: finish %s: %w", dst, err)
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("archive: header %s: %w", path, err)
	}
	hdr.Name = filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: write header %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}

// ListBundle returns the entry names of a tar.zst bundle.
func ListBundle(path string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd reader: %w", err)
	}
	defer dec.Close()

	var names []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read bundle %s: %w", path, err)
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}
