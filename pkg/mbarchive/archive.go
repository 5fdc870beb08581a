// Turns a dump directory into a single .tar.gz and back
package mbarchive

import (
	archivetar "archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/juju/utils/v3/tar"
)

type ArchiveError struct {
	Op   string // "compress" | "decompress"
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// the directory itself is the only top-level entry in the archive. the archive is
// written next to the other backups (layout decides where) and its path is returned.
func Compress(sourceDir string, layout *mbnaming.Layout) (string, error) {
	sourceDir = filepath.Clean(sourceDir)

	archivePath := layout.ArchiveFilePath(filepath.Base(sourceDir))

	if err := writeArchive(sourceDir, archivePath); err != nil {
		return "", &ArchiveError{Op: "compress", Path: sourceDir, Err: err}
	}

	return archivePath, nil
}

func Decompress(archivePath string, destDir string) (string, error) {
	if err := extractArchive(archivePath, destDir); err != nil {
		return "", &ArchiveError{Op: "decompress", Path: archivePath, Err: err}
	}

	return destDir, nil
}

func writeArchive(sourceDir string, archivePath string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}

	if err := writeTarball(sourceDir, archiveFile); err != nil {
		archiveFile.Close()
		os.Remove(archivePath)
		return err
	}

	if err := archiveFile.Close(); err != nil {
		os.Remove(archivePath)
		return err
	}

	return nil
}

func writeTarball(sourceDir string, archiveFile *os.File) error {
	tarball := gzip.NewWriter(archiveFile)

	// everything up to and including the separator before the directory name is
	// stripped, so entries are "<dirName>/..."
	stripPrefix := strings.TrimSuffix(filepath.Dir(sourceDir), string(os.PathSeparator)) + string(os.PathSeparator)

	if _, err := tar.TarFiles([]string{sourceDir}, tarball, stripPrefix); err != nil {
		tarball.Close()
		return err
	}

	// flushes the gzip footer. the underlying file stays open
	return tarball.Close()
}

func extractArchive(archivePath string, destDir string) error {
	// the bucket can hold objects we didn't write, so nothing is extracted until
	// every entry is known to stay inside destDir
	if err := eachEntry(archivePath, func(hdr *archivetar.Header) error {
		return checkEntry(destDir, hdr)
	}); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	return withTarball(archivePath, func(tarball io.Reader) error {
		return tar.UntarFiles(tarball, destDir)
	})
}

func checkEntry(destDir string, hdr *archivetar.Header) error {
	if !isWithin(destDir, filepath.Join(destDir, hdr.Name)) {
		return fmt.Errorf("entry %q escapes destination", hdr.Name)
	}

	if hdr.Typeflag == archivetar.TypeSymlink {
		if filepath.IsAbs(hdr.Linkname) {
			return fmt.Errorf("symlink %q has absolute target %q", hdr.Name, hdr.Linkname)
		}

		target := filepath.Join(destDir, filepath.Dir(hdr.Name), hdr.Linkname)
		if !isWithin(destDir, target) {
			return fmt.Errorf("symlink %q points outside destination: %q", hdr.Name, hdr.Linkname)
		}
	}

	return nil
}

func isWithin(root string, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func eachEntry(archivePath string, visit func(hdr *archivetar.Header) error) error {
	return withTarball(archivePath, func(tarball io.Reader) error {
		entries := archivetar.NewReader(tarball)

		for {
			hdr, err := entries.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}

			if err := visit(hdr); err != nil {
				return err
			}
		}
	})
}

// gunzipped contents of the archive
func withTarball(archivePath string, fn func(tarball io.Reader) error) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	tarball, err := gzip.NewReader(archiveFile)
	if err != nil {
		return err
	}
	defer tarball.Close()

	return fn(tarball)
}
