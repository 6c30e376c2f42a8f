package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MTreeFile is one File-kind record to embed in a built .MTREE manifest.
type MTreeFile struct {
	Path         string
	Size         int64
	SHA256Digest string
}

var tarTemplate = tar.Header{
	Uid:     0,
	Gid:     0,
	Uname:   "root",
	Gname:   "root",
	ModTime: time.Unix(0, 0),
	Format:  tar.FormatGNU,
}

// BuildMTree renders files as a .MTREE mini-language document, one "type
// absent" line per entry.
func BuildMTree(files []MTreeFile) []byte {
	var buf bytes.Buffer
	for _, f := range files {
		fmt.Fprintf(&buf, "%s time=1704931316.0 size=%d sha256digest=%s\n", f.Path, f.Size, f.SHA256Digest)
	}
	return buf.Bytes()
}

// BuildPackage builds a fake Arch package artifact: a tar stream holding an
// empty ".BUILDINFO" member, a gzip-compressed ".MTREE" member built from
// files, and one zero-filled member per file, compressed as ext ("zst" or
// "xz").
func BuildPackage(files []MTreeFile, ext string) ([]byte, error) {
	mtreeGz, err := gzipBytes(BuildMTree(files))
	if err != nil {
		return nil, err
	}

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	header := tarTemplate
	header.Typeflag = tar.TypeReg
	header.Name = ".BUILDINFO"
	header.Mode = 0644
	header.Size = 0
	if err := tw.WriteHeader(&header); err != nil {
		return nil, err
	}

	mtreeHeader := tarTemplate
	mtreeHeader.Typeflag = tar.TypeReg
	mtreeHeader.Name = ".MTREE"
	mtreeHeader.Mode = 0644
	mtreeHeader.Size = int64(len(mtreeGz))
	if err := tw.WriteHeader(&mtreeHeader); err != nil {
		return nil, err
	}
	if _, err := tw.Write(mtreeGz); err != nil {
		return nil, err
	}

	for _, f := range files {
		h := tarTemplate
		h.Typeflag = tar.TypeReg
		h.Name = f.Path
		h.Mode = 0644
		h.Size = f.Size
		if err := tw.WriteHeader(&h); err != nil {
			return nil, err
		}
		if _, err := tw.Write(make([]byte, f.Size)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}

	return compress(ext, tarBuf.Bytes())
}

func gzipBytes(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compress(ext string, input []byte) ([]byte, error) {
	var buf bytes.Buffer
	var writer io.WriteCloser
	var err error

	switch ext {
	case "xz":
		writer, err = xz.NewWriter(&buf)
	case "zst":
		writer, err = zstd.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unknown compression: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	if _, err := writer.Write(input); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
