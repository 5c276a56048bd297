package update

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
)

const backupSuffix = ".old"

// Installer replaces the installed application with a verified artifact.
type Installer interface {
	Install(ctx context.Context, artifact, downloadURL string) error
}

// BundleInstaller swaps the application bundle at Target by rename.
//
// The artifact is staged in a temporary directory next to Target so both renames stay on one
// filesystem. Target is first moved to Target.old, then the staged bundle takes its place. If the
// second rename fails the backup is moved back.
type BundleInstaller struct {
	Target string
}

// ResolveBundle returns the directory of a macOS .app bundle containing exe, or exe itself.
func ResolveBundle(exe string) string {
	marker := ".app" + string(filepath.Separator) + "Contents" + string(filepath.Separator) + "MacOS" + string(filepath.Separator)
	if i := strings.Index(exe, marker); i >= 0 {
		return exe[:i+len(".app")]
	}
	return exe
}

// Install stages artifact (.tar.gz, .tgz, .zip or a bare executable) and swaps it into Target.
func (b *BundleInstaller) Install(ctx context.Context, artifact, downloadURL string) error {
	logger := logging.From(ctx)

	staging, err := os.MkdirTemp(filepath.Dir(b.Target), ".game-grove-update-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create staging directory", goerr.V("target", b.Target))
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	name := artifactName(downloadURL)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		err = extractTarGz(artifact, staging)
	case strings.HasSuffix(name, ".zip"):
		err = extractZip(artifact, staging)
	default:
		err = copyExecutable(artifact, filepath.Join(staging, filepath.Base(b.Target)))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to stage update", goerr.V("artifact", name))
	}

	staged, err := singleEntry(staging)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := swap(b.Target, staged); err != nil {
		return err
	}
	logger.Info("Installed update", "target", b.Target, "artifact", name)
	return nil
}

func swap(target, staged string) error {
	backup := target + backupSuffix
	if err := os.RemoveAll(backup); err != nil {
		return goerr.Wrap(err, "failed to clear previous backup", goerr.V("backup", backup))
	}
	backedUp := true
	if err := os.Rename(target, backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to move current bundle aside", goerr.V("target", target))
		}
		backedUp = false
	}

	if err := os.Rename(staged, target); err != nil {
		if !backedUp {
			return goerr.Wrap(err, "failed to move new bundle into place", goerr.V("target", target))
		}
		if rerr := os.Rename(backup, target); rerr != nil {
			return goerr.Wrap(model.ErrStorage, "install interrupted and rollback failed",
				goerr.V("target", target), goerr.V("backup", backup),
				goerr.V("cause", err.Error()), goerr.V("rollback", rerr.Error()))
		}
		return goerr.Wrap(err, "failed to move new bundle into place", goerr.V("target", target))
	}
	return nil
}

// RecoverPending repairs an interrupted install of target at startup. A missing target with a
// backup is restored from the backup; a backup next to a present target is removed.
func RecoverPending(ctx context.Context, target string) error {
	logger := logging.From(ctx)
	backup := target + backupSuffix

	if _, err := os.Lstat(backup); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Restoring previous version after interrupted update", "target", target)
		if err := os.Rename(backup, target); err != nil {
			return goerr.Wrap(model.ErrStorage, "failed to restore previous version",
				goerr.V("target", target), goerr.V("cause", err.Error()))
		}
		return nil
	}

	if err := os.RemoveAll(backup); err != nil {
		logger.Warn("Failed to remove update backup", "backup", backup, "error", err)
	}
	return nil
}

func artifactName(downloadURL string) string {
	if u, err := url.Parse(downloadURL); err == nil && u.Path != "" {
		return strings.ToLower(path.Base(u.Path))
	}
	return strings.ToLower(path.Base(downloadURL))
}

func singleEntry(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read staging directory")
	}
	if len(entries) != 1 {
		return "", goerr.New("update artifact must contain exactly one top-level entry", goerr.V("entries", len(entries)))
	}
	return filepath.Join(dir, entries[0].Name()), nil
}

// safeJoin joins name under dir and rejects paths escaping dir.
func safeJoin(dir, name string) (string, error) {
	dest := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", goerr.New("invalid file path detected", goerr.V("file", name))
	}
	return dest, nil
}

func copyExecutable(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writeFile(dest string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return goerr.Wrap(err, "failed to open zip archive")
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, err := safeJoin(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return goerr.Wrap(err, "failed to open file in zip", goerr.V("file", file.Name))
		}
		err = writeFile(target, rc, file.Mode())
		_ = rc.Close()
		if err != nil {
			return goerr.Wrap(err, "failed to extract file", goerr.V("file", file.Name))
		}
	}
	return nil
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return goerr.Wrap(err, "failed to open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read tar archive")
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return goerr.Wrap(err, "failed to extract file", goerr.V("file", hdr.Name))
			}
		case tar.TypeSymlink:
			// Bundles carry relative framework links; absolute or escaping links are refused.
			if filepath.IsAbs(hdr.Linkname) {
				return goerr.New("absolute symlink in archive", goerr.V("file", hdr.Name))
			}
			if _, err := safeJoin(dest, path.Join(path.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
