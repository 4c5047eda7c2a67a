package compression

import (
	"bytes"

	"github.com/pierrec/lz4/v4"
)

func CompressLz4(src []byte, output *bytes.Buffer) error {
	zw := lz4.NewWriter(output)

	zw.Write(src)
	flushErr := zw.Flush()

	if flushErr != nil {
		return flushErr
	}

	return zw.Close()
}

// DecompressLz4 reverses CompressLz4, reading frames written by zw above.
func DecompressLz4(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))

	out := bytes.Buffer{}
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}
