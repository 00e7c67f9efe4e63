package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestFileSHA256(t *testing.T) {
	content := []byte("hello world")
	path := writeTemp(t, content)
	want := sha256.Sum256(content)

	sum, size, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
	assert.Equal(t, int64(len(content)), size)
}

func TestValidatorDigest(t *testing.T) {
	md5Hex := "9e107d9d372bb6826bd81d3542a419d6"
	sha256Hex := "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f"

	got, ok := ValidatorDigest(`"` + sha256Hex + `"`)
	assert.True(t, ok)
	assert.Equal(t, sha256Hex, got)

	_, ok = ValidatorDigest(`W/"` + sha256Hex + `"`)
	assert.False(t, ok, "weak validators are opaque")

	got, ok = ValidatorDigest(md5Hex)
	assert.True(t, ok)
	assert.Equal(t, md5Hex, got)

	_, ok = ValidatorDigest(`"33a64df551425fcc55e4d42a148795d9f25f89d4"` + "x")
	assert.False(t, ok)
	_, ok = ValidatorDigest(`"not-a-digest"`)
	assert.False(t, ok)
}

func TestCheckSizeMismatch(t *testing.T) {
	path := writeTemp(t, []byte("short"))
	expected := int64(100)
	_, err := Check(path, &expected, "", "")
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestCheckETagDigestMismatch(t *testing.T) {
	content := []byte("payload")
	path := writeTemp(t, content)
	wrong := sha256.Sum256([]byte("other"))
	_, err := Check(path, nil, `"`+hex.EncodeToString(wrong[:])+`"`, "")
	require.ErrorIs(t, err, ErrIntegrity)

	right := sha256.Sum256(content)
	sum, err := Check(path, nil, `"`+hex.EncodeToString(right[:])+`"`, "")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(right[:]), sum)
}

func TestCheckOpaqueETagIgnored(t *testing.T) {
	content := []byte("payload")
	path := writeTemp(t, content)
	sum, err := Check(path, nil, `"abc-123"`, "")
	require.NoError(t, err)
	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestCheckExplicitChecksum(t *testing.T) {
	content := []byte("payload")
	path := writeTemp(t, content)
	want := sha256.Sum256(content)
	sum, err := Check(path, nil, "", hex.EncodeToString(want[:]))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	_, err = Check(path, nil, "", "0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrIntegrity)
}
