package workspace

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UnpackReport summarizes an extracted archive.
type UnpackReport struct {
	Files int
	Dirs  int
	Bytes int64
}

// Unpack extracts the job archive into the working directory and makes
// sure the jobs and repo directories exist afterwards. Entries that would
// land outside the working directory are rejected, including writes that
// pass through a symlink unpacked earlier from the same archive.
func (l Layout) Unpack(ctx context.Context) (UnpackReport, error) {
	report, err := extractTarGz(ctx, l.ArchivePath(), l.WorkingDir)
	if err != nil {
		return report, err
	}

	for _, dir := range []string{l.JobsDir(), l.RepoDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return report, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return report, nil
}

func extractTarGz(ctx context.Context, archivePath, destDir string) (UnpackReport, error) {
	var report UnpackReport

	f, err := os.Open(archivePath)
	if err != nil {
		return report, fmt.Errorf("open job archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return report, fmt.Errorf("read job archive %s: %w", archivePath, err)
	}
	defer gz.Close()

	realRoot, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return report, fmt.Errorf("resolve working directory: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("read job archive entry: %w", err)
		}

		dst, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return report, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := checkParents(destDir, dst, hdr.Name); err != nil {
				return report, err
			}
			if err := os.MkdirAll(dst, dirMode(hdr)); err != nil {
				return report, fmt.Errorf("create directory %q: %w", hdr.Name, err)
			}
			report.Dirs++
		case tar.TypeReg:
			if err := makeParent(destDir, realRoot, dst, hdr.Name); err != nil {
				return report, err
			}
			if info, err := os.Lstat(dst); err == nil && info.Mode()&os.ModeSymlink != 0 {
				return report, fmt.Errorf("archive entry %q would write through a symlink", hdr.Name)
			}
			n, err := writeFile(dst, tr, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return report, fmt.Errorf("extract %q: %w", hdr.Name, err)
			}
			report.Files++
			report.Bytes += n
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return report, fmt.Errorf("symlink %q has absolute target %q", hdr.Name, hdr.Linkname)
			}
			if _, err := safeJoin(destDir, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return report, fmt.Errorf("symlink %q: %w", hdr.Name, err)
			}
			if err := makeParent(destDir, realRoot, dst, hdr.Name); err != nil {
				return report, err
			}
			// Resolve against what is already on disk: the lexical check above
			// cannot see links created by earlier entries.
			target := filepath.Dir(dst) + string(filepath.Separator) + filepath.FromSlash(hdr.Linkname)
			inside, err := resolvesWithin(realRoot, target)
			if err != nil {
				return report, fmt.Errorf("symlink %q: %w", hdr.Name, err)
			}
			if !inside {
				return report, fmt.Errorf("symlink %q target %q escapes the working directory", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return report, fmt.Errorf("create symlink %q: %w", hdr.Name, err)
			}
			report.Files++
		default:
			// pax headers, hard links and devices carry nothing a job needs
			continue
		}
	}
}

func writeFile(dst string, r io.Reader, perm os.FileMode) (int64, error) {
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if closeErr != nil {
		return n, closeErr
	}
	// OpenFile's mode is filtered by umask; scripts must keep their exec bit.
	return n, os.Chmod(dst, perm)
}

func dirMode(hdr *tar.Header) os.FileMode {
	if perm := os.FileMode(hdr.Mode).Perm(); perm != 0 {
		return perm | 0o700
	}
	return 0o755
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the working directory", name)
	}
	return filepath.Join(root, cleaned), nil
}

// checkParents refuses an entry whose parent directories below root include
// a symlink.
func checkParents(root, dst, name string) error {
	rel, err := filepath.Rel(root, filepath.Dir(dst))
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", name, err)
	}
	if rel == "." {
		return nil
	}

	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive entry %q: %w", name, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive entry %q passes through symlink %q", name, part)
		}
	}
	return nil
}

// makeParent creates the parent directory of dst and confirms it still
// resolves inside realRoot.
func makeParent(root, realRoot, dst, name string) error {
	if err := checkParents(root, dst, name); err != nil {
		return err
	}
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent of %q: %w", name, err)
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return fmt.Errorf("resolve parent of %q: %w", name, err)
	}
	if !isWithin(realRoot, resolved) {
		return fmt.Errorf("archive entry %q escapes the working directory", name)
	}
	return nil
}

// resolvesWithin follows the existing prefix of path through the filesystem
// and joins the missing remainder lexically. path must not be cleaned first
// or ".." after a symlink would be applied to the wrong directory.
func resolvesWithin(realRoot, path string) (bool, error) {
	existing, rest := path, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return isWithin(realRoot, filepath.Join(resolved, rest)), nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
		i := strings.LastIndex(existing, string(filepath.Separator))
		if i <= 0 {
			return false, nil
		}
		rest = filepath.Join(existing[i+1:], rest)
		existing = existing[:i]
	}
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
