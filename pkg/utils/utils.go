package utils

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// FinalPrefix marks sealed artifacts in the storage directory
const FinalPrefix = "final-"

const maxSessionIDLength = 200

// TotalChunks returns ceil(fileSize / chunkSize)
func TotalChunks(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ChunkBounds returns the [start, end) byte range of chunk index
func ChunkBounds(index int, chunkSize, fileSize int64) (int64, int64) {
	start := int64(index) * chunkSize
	end := start + chunkSize
	if end > fileSize {
		end = fileSize
	}
	return start, end
}

// ExpectedChunkLength returns the exact byte length chunk index must have
func ExpectedChunkLength(index int, chunkSize, fileSize int64) int64 {
	start, end := ChunkBounds(index, chunkSize, fileSize)
	if end < start {
		return 0
	}
	return end - start
}

// ValidateSessionID rejects identifiers that cannot safely name a staging file
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("upload id is required")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("upload id exceeds %d characters", maxSessionIDLength)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("upload id %q is reserved", id)
	}
	if strings.HasPrefix(id, FinalPrefix) {
		return fmt.Errorf("upload id cannot start with %q", FinalPrefix)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("upload id contains invalid character %q", r)
		}
	}
	return nil
}

// SanitizeFileName reduces a client-declared file name to a safe base name
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload.bin"
	}
	return name
}

// FinalName returns the immutable artifact name for a sealed upload.
// The hash prefix keeps two sessions with the same file name apart.
func FinalName(fileName, hash string) string {
	short := hash
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("%s%s-%s", FinalPrefix, short, SanitizeFileName(fileName))
}

// ChunkChecksum returns the hex BLAKE3 digest used to verify chunk bodies
func ChunkChecksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
