package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proeugene/field-syncer/internal/fc"
)

func testIdentity() *fc.Identity {
	id := &fc.Identity{
		Variant:        "BTFL",
		APIMajor:       1,
		APIMinor:       43,
		BlackboxDevice: fc.BlackboxDeviceFlash,
	}
	copy(id.UID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return id
}

func TestOpen_LayoutAndExclusivity(t *testing.T) {
	store := &Store{Root: t.TempDir()}
	now := time.Date(2026, 8, 1, 14, 30, 5, 0, time.UTC)

	sess, err := store.Open(testIdentity(), now)
	require.NoError(t, err)
	defer sess.Discard()

	want := filepath.Join(store.Root, "fc_BTFL_uid-0102030405060708", "2026-08-01_143005")
	assert.Equal(t, want, sess.Dir)
	_, err = os.Stat(filepath.Join(sess.Dir, FlashFileName))
	assert.NoError(t, err)

	// a second session at the same timestamp must not overwrite
	_, err = store.Open(testIdentity(), now)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestWriteHashVerify(t *testing.T) {
	store := &Store{Root: t.TempDir()}
	sess, err := store.Open(testIdentity(), time.Now())
	require.NoError(t, err)

	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i * 13)
	}
	for off := 0; off < len(data); off += 4096 {
		end := off + 4096
		if end > len(data) {
			end = len(data)
		}
		_, err := sess.Write(data[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, sess.CloseFile())

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), sess.SHA256Hex())
	assert.Equal(t, int64(len(data)), sess.Bytes())
	assert.NoError(t, sess.Verify())
}

func TestVerify_DetectsOnDiskCorruption(t *testing.T) {
	store := &Store{Root: t.TempDir()}
	sess, err := store.Open(testIdentity(), time.Now())
	require.NoError(t, err)
	_, err = sess.Write([]byte("blackbox contents"))
	require.NoError(t, err)
	require.NoError(t, sess.CloseFile())

	// flip one byte behind the session's back
	path := filepath.Join(sess.Dir, FlashFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[3] ^= 0x40
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	err = sess.Verify()
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.NotEqual(t, verr.Expected, verr.Actual)
}

func TestWriteManifest_DurableAndParseable(t *testing.T) {
	store := &Store{Root: t.TempDir()}
	sess, err := store.Open(testIdentity(), time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = sess.Write([]byte{0xAB, 0xCD})
	require.NoError(t, err)
	require.NoError(t, sess.CloseFile())

	m := sess.Manifest()
	m.EraseAttempted = true
	require.NoError(t, sess.WriteManifest(m))

	// no tmp file left behind
	_, err = os.Stat(filepath.Join(sess.Dir, ManifestFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	raw, err := os.ReadFile(filepath.Join(sess.Dir, ManifestFileName))
	require.NoError(t, err)
	got, err := ParseManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "2026-08-01T10:00:00Z", got.CreatedUTC)
	assert.Equal(t, "BTFL", got.FC.Variant)
	assert.Equal(t, "0102030405060708090a0b0c", got.FC.UID)
	assert.Equal(t, "1.43", got.FC.APIVersion)
	assert.Equal(t, fc.BlackboxDeviceFlash, got.FC.BlackboxDevice)
	assert.Equal(t, FlashFileName, got.File.Name)
	assert.Equal(t, int64(2), got.File.Bytes)
	assert.Equal(t, sess.SHA256Hex(), got.File.SHA256)
	assert.True(t, got.EraseAttempted)
	assert.False(t, got.EraseCompleted)

	// the erase_completed flip rewrites through the same tmp+rename path
	m.EraseCompleted = true
	require.NoError(t, sess.WriteManifest(m))
	raw, err = os.ReadFile(filepath.Join(sess.Dir, ManifestFileName))
	require.NoError(t, err)
	got, err = ParseManifest(raw)
	require.NoError(t, err)
	assert.True(t, got.EraseCompleted)
}

func TestManifest_FieldNames(t *testing.T) {
	m := NewManifest(testIdentity(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), 7, "ff")
	data, err := json.Marshal(m)
	require.NoError(t, err)
	for _, key := range []string{
		`"version"`, `"created_utc"`, `"fc"`, `"variant"`, `"uid"`,
		`"api_version"`, `"blackbox_device"`, `"file"`, `"name"`,
		`"bytes"`, `"sha256"`, `"erase_attempted"`, `"erase_completed"`,
	} {
		assert.Contains(t, string(data), key)
	}
}

func TestDiscard_RemovesDirectory(t *testing.T) {
	store := &Store{Root: t.TempDir()}
	sess, err := store.Open(testIdentity(), time.Now())
	require.NoError(t, err)
	_, err = sess.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, sess.Discard())
	_, err = os.Stat(sess.Dir)
	assert.True(t, os.IsNotExist(err))
}
