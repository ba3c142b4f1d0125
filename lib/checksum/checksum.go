package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Writer hashes everything written through it.
type Writer struct {
	hash  hash.Hash
	bytes int64
}

func NewWriter() *Writer {
	return &Writer{hash: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.hash.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Sum returns the hex encoded sha256 of the data written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.hash.Sum(nil))
}

// Size returns number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.bytes
}
