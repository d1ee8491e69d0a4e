package session

import (
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to dir/name through a temp file and rename so
// a concurrent Load never sees a partial file.
func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	targetPath := filepath.Join(dir, name)

	f, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if err := f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
