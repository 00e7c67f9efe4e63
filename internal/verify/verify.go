package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrIntegrity = errors.New("integrity check failed")

// FileSHA256 streams the file once and returns its hex digest and size.
func FileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("error hashing file: %v", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ValidatorDigest extracts a usable digest from a strong ETag. Servers
// that set the ETag to a bare hex digest (MD5, SHA-1, SHA-256 by length)
// can be checked against the local hash; anything else is opaque.
func ValidatorDigest(etag string) (string, bool) {
	v := strings.TrimSpace(etag)
	if strings.HasPrefix(v, "W/") {
		return "", false // weak validator, not a content digest
	}
	v = strings.Trim(v, `"`)
	if len(v) != 32 && len(v) != 40 && len(v) != 64 {
		return "", false
	}
	if _, err := hex.DecodeString(v); err != nil {
		return "", false
	}
	return strings.ToLower(v), true
}

// Check hashes the file at path and validates it against the expected
// size and any remote validator. It returns the hex sha256 on success and
// ErrIntegrity (wrapped) when a known validator mismatches.
func Check(path string, expectedSize *int64, etag string, checksum string) (string, error) {
	sum, size, err := FileSHA256(path)
	if err != nil {
		return "", err
	}
	if expectedSize != nil && size != *expectedSize {
		return "", fmt.Errorf("%w: size %d, expected %d", ErrIntegrity, size, *expectedSize)
	}
	if checksum != "" && !strings.EqualFold(checksum, sum) {
		return "", fmt.Errorf("%w: sha256 mismatch", ErrIntegrity)
	}
	if digest, ok := ValidatorDigest(etag); ok && len(digest) == 64 {
		if digest != sum {
			return "", fmt.Errorf("%w: etag digest mismatch", ErrIntegrity)
		}
	}
	return sum, nil
}
