package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CreateArchive zips the named entries under sourceDir into outPath.
// Entries are directories or files relative to sourceDir; paths in
// exclude are skipped by prefix match. Returns the archive size.
func CreateArchive(sourceDir string, include, exclude []string, outPath string) (int64, error) {
	if len(include) == 0 {
		include = []string{"."}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}

	writer := zip.NewWriter(out)

	archiveErr := func() error {
		for _, entry := range include {
			root := filepath.Join(sourceDir, entry)
			info, err := os.Stat(root)
			if os.IsNotExist(err) {
				// Absent include entries are tolerated; a fresh server
				// may not have generated its world yet
				continue
			}
			if err != nil {
				return err
			}

			if !info.IsDir() {
				if err := addFile(writer, sourceDir, root, exclude); err != nil {
					return err
				}
				continue
			}

			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				return addFile(writer, sourceDir, path, exclude)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}()

	if archiveErr == nil {
		archiveErr = writer.Close()
	} else {
		writer.Close()
	}
	if closeErr := out.Close(); archiveErr == nil {
		archiveErr = closeErr
	}

	if archiveErr != nil {
		os.Remove(outPath)
		return 0, fmt.Errorf("failed to build archive: %w", archiveErr)
	}

	stat, err := os.Stat(outPath)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func addFile(writer *zip.Writer, sourceDir, path string, exclude []string) error {
	rel, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)

	for _, ex := range exclude {
		ex = filepath.ToSlash(ex)
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return nil
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	entry, err := writer.Create(rel)
	if err != nil {
		return err
	}

	_, err = io.Copy(entry, file)
	return err
}

// ExtractArchive unzips an archive into destDir. Used to restore a
// backup into the server directory.
func ExtractArchive(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		cleaned := filepath.Clean(filepath.FromSlash(file.Name))
		if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || cleaned == ".." {
			return fmt.Errorf("archive entry escapes destination: %s", file.Name)
		}
		target := filepath.Join(destDir, cleaned)

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}

		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			src.Close()
			return err
		}

		_, copyErr := io.Copy(dst, src)
		src.Close()
		if closeErr := dst.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
