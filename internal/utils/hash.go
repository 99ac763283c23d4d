package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashingReader считает SHA-256 и количество байт по мере чтения
type HashingReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.size += int64(n)
	}
	return n, err
}

// Sum возвращает hex SHA-256 прочитанных данных
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// Size количество прочитанных байт
func (hr *HashingReader) Size() int64 {
	return hr.size
}
