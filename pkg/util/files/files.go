package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func Exists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	} else {
		return false, fmt.Errorf("Failed to determine if %s exists: %w", path, err)
	}
}

func IsDir(path string) (bool, error) {
	file, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return file.Mode().IsDir(), nil
}

func IsExecutable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}

// CopyFile copies src to dest, creating or truncating dest. The source's
// file mode is preserved.
func CopyFile(src string, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("Failed to open %s while copying to %s: %w", src, dest, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("Failed to stat %s while copying to %s: %w", src, dest, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("Failed to create %s while copying %s: %w", dest, src, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("Failed to copy %s to %s: %w", src, dest, err)
	}
	return out.Close()
}

// SyncFile copies src to dest unless dest is already up to date. When
// ignoreMtime is false, an existing dest with the same size and a
// modification time at or after src's is left alone. When ignoreMtime is
// true the modification times are not consulted and only identical sizes
// skip the copy; a freshly rewritten source with an old timestamp is still
// picked up.
func SyncFile(src string, dest string, ignoreMtime bool) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("Failed to stat %s: %w", src, err)
	}

	destInfo, err := os.Stat(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return CopyFile(src, dest)
	case err != nil:
		return fmt.Errorf("Failed to stat %s: %w", dest, err)
	}

	if srcInfo.Size() == destInfo.Size() {
		if ignoreMtime {
			same, err := sameContents(src, dest)
			if err != nil {
				return err
			}
			if same {
				return nil
			}
		} else if !destInfo.ModTime().Before(srcInfo.ModTime()) {
			return nil
		}
	}
	return CopyFile(src, dest)
}

// CopyDirectory recursively copies the contents of src into dest.
func CopyDirectory(src string, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("Failed to read directory %s: %w", src, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("Failed to create directory %s: %w", dest, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := CopyDirectory(srcPath, destPath); err != nil {
				return err
			}
		} else if err := CopyFile(srcPath, destPath); err != nil {
			return err
		}
	}
	return nil
}

func sameContents(a string, b string) (bool, error) {
	ab, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return string(ab) == string(bb), nil
}
