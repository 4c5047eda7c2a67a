//go:build !unix

package columnindex

import (
	"os"

	"github.com/evtdb/eventindex/fio"
)

// readBlob falls back to fio.FileReader's positional read on platforms
// without the unix mmap family.
func readBlob(path string) ([]byte, error) {
	fr := fio.NewFileReader(path)
	if !fr.Exists() {
		return nil, os.ErrNotExist
	}
	if err := fr.Open(true); err != nil {
		return nil, err
	}
	defer fr.Close()

	stat, err := fr.Raw().Stat()
	if err != nil {
		return nil, err
	}
	size := int(stat.Size())
	if size == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	if err := fr.ReadAt(buf, 0, size); err != nil {
		return nil, err
	}
	return buf, nil
}
