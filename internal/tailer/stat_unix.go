//go:build unix

package tailer

import (
	"fmt"
	"os"
	"syscall"
)

// statPath stats the path and returns its inode and size.
func statPath(path string) (uint64, int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return inodeOf(fi)
}

// statFile stats an open handle, immune to the path being renamed away.
func statFile(f *os.File) (uint64, int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	return inodeOf(fi)
}

func inodeOf(fi os.FileInfo) (uint64, int64, error) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("no stat_t for %s", fi.Name())
	}
	return st.Ino, fi.Size(), nil
}
