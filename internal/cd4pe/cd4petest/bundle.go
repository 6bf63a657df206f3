package cd4petest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"
)

// File is one entry of a test job bundle.
type File struct {
	Name    string // path inside the archive, e.g. cd4pe_job/jobs/unix/JOB
	Content string
	Mode    int64 // defaults to 0o644
	Dir     bool
}

// Script returns an executable stage script entry.
func Script(stage, content string) File {
	return File{Name: "cd4pe_job/jobs/unix/" + stage, Content: content, Mode: 0o755}
}

// Bundle builds a gzipped tar archive from files.
func Bundle(t testing.TB, files ...File) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, Mode: f.Mode}
		if f.Dir {
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(f.Content))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", f.Name, err)
		}
		if !f.Dir {
			if _, err := tw.Write([]byte(f.Content)); err != nil {
				t.Fatalf("write tar entry %s: %v", f.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}
