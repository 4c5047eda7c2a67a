package fio

import (
	"errors"
	"os"
	"path/filepath"
)

// FileReader is a thin, explicitly-opened wrapper over *os.File used by the
// column index's non-unix blob reader (columnindex/mmap_other.go) for
// positional reads.
type FileReader struct {
	path   string
	file   *os.File
	opened bool

	exists bool
}

func NewFileReader(path string) *FileReader {
	_, err := os.Stat(path)

	return &FileReader{
		path:   path,
		exists: err == nil,
	}
}

func (f *FileReader) Exists() bool {
	return f.exists
}

func (f *FileReader) Raw() *os.File {
	return f.file
}

func (f *FileReader) Open(readOnly bool) (topErr error) {
	var perm os.FileMode = 0644

	if readOnly {
		f.file, topErr = os.OpenFile(f.path, os.O_RDONLY, perm)
	} else {
		f.file, topErr = os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, perm)
	}

	if topErr == nil {
		f.opened = true
	}

	return topErr
}

func (f *FileReader) Close() error {
	if !f.opened {
		return nil
	}
	return f.file.Close()
}

func (f *FileReader) ReadAt(out []byte, off, length int) (err error) {
	if !f.opened {
		return errors.New("file not opened")
	}

	readBytes, err := f.file.ReadAt(out, int64(off))
	if err != nil {
		return err
	}
	if readBytes != length {
		return errors.New("read bytes mismatch")
	}

	return nil
}

// WriteFileAtomic writes data to path by writing to a sibling temp file and
// renaming it into place, so a reader never observes a partially-written
// column index or partition meta file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
