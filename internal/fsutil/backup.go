// Package fsutil holds the shared file persistence primitive.
package fsutil

import (
	"io"
	"os"
)

// BackupAndWrite persists data to path with the back-up-and-overwrite scheme:
// copy the existing file to <path>.bak, write the new content over <path>,
// remove the back-up on success, restore it on write failure. Survives a
// crash between copy and write (the back-up holds the previous contents) but
// is not atomic against power loss mid-write.
func BackupAndWrite(path string, data []byte) error {
	bak := path + ".bak"
	hadPrev := false
	if _, err := os.Stat(path); err == nil {
		hadPrev = true
		if err := copyFile(path, bak); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if hadPrev {
			if rerr := copyFile(bak, path); rerr != nil {
				return err
			}
		}
		return err
	}
	if hadPrev {
		os.Remove(bak)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, cpErr := io.Copy(out, in)
	closeErr := out.Close()
	if cpErr != nil {
		return cpErr
	}
	return closeErr
}
