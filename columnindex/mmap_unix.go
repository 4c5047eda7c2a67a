//go:build unix

package columnindex

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// readBlob maps path into memory read-only and copies it into a plain
// byte slice, so the mapping can be torn down immediately instead of
// living for as long as the returned bytes are referenced.
func readBlob(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, err
	}
	size := stat.Size
	if size == 0 {
		return []byte{}, nil
	}

	mapped, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	defer unix.Munmap(mapped)

	out := make([]byte, len(mapped))
	copy(out, mapped)
	return out, nil
}
