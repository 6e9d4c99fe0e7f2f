package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// contentHashBlockSize is the block length of the content-hash scheme:
// the file is split into 4 MiB blocks, each block is SHA-256 hashed,
// and the concatenated digests are hashed once more.
const contentHashBlockSize = 4 * 1024 * 1024

// ContentHash computes the content hash of everything read from r.
func ContentHash(r io.Reader) (string, error) {
	overall := sha256.New()
	buf := make([]byte, contentHashBlockSize)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := sha256.Sum256(buf[:n])
			overall.Write(block[:])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(overall.Sum(nil)), nil
}

// FileContentHash computes the content hash of a file on disk.
func FileContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return ContentHash(f)
}
