package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// createArchive streams srcDir into a gzip-compressed tar file at
// destPath, one entry at a time, so the full tree is never buffered in
// memory.
func createArchive(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if d.IsDir() {
			header.Name += "/"
			return tw.WriteHeader(header)
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// extractArchive inverts createArchive, writing into destDir, which must
// not already contain the extracted tree.
func extractArchive(srcPath, destDir string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// LoadSnapshot applies spec's four-way branch for bringing up a data
// directory from a snapshot archive:
//   - dbPath missing, snapPath present -> extract.
//   - dbPath present, !ignoreIfDBExists -> DatabaseAlreadyExists.
//   - snapPath missing, !ignoreMissingSnap -> SnapshotMissing.
//   - otherwise -> no-op.
func LoadSnapshot(dbPath, snapPath string, ignoreIfDBExists, ignoreMissingSnap bool) error {
	dbExists := pathExists(dbPath)
	snapExists := pathExists(snapPath)

	if !dbExists && snapExists {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create database directory", err)
		}
		if err := extractArchive(snapPath, dbPath); err != nil {
			os.RemoveAll(dbPath)
			return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to extract snapshot archive", err)
		}
		return nil
	}

	if dbExists && !ignoreIfDBExists {
		return apperrors.New(apperrors.ErrCodeAlreadyExists, "database already exists").WithContext("db_path", dbPath)
	}

	if !snapExists && !ignoreMissingSnap {
		return apperrors.New(apperrors.ErrCodeNotFound, "snapshot archive is missing").WithContext("snap_path", snapPath)
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
