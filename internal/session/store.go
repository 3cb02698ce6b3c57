package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/proeugene/field-syncer/internal/fc"
)

// dirTimestamp names the per-attempt subdirectory. Second resolution is
// enough because the leaf create is exclusive: a collision fails the sync
// rather than overwriting an earlier dump.
var dirTimestamp *strftime.Strftime

func init() {
	p, err := strftime.New("%Y-%m-%d_%H%M%S")
	if err != nil {
		panic(err)
	}
	dirTimestamp = p
}

// ErrSessionExists means the timestamped directory already exists.
var ErrSessionExists = errors.New("session directory already exists")

// VerifyError reports an on-disk hash that differs from the streamed hash.
type VerifyError struct {
	Expected string
	Actual   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("sha256 mismatch: streamed %s, on disk %s", e.Expected, e.Actual)
}

// Store roots the per-FC session tree.
type Store struct {
	Root string
}

// Session is one sync attempt: an exclusive timestamped directory, the flash
// file with a running hash, and eventually a manifest.
type Session struct {
	Dir     string
	Started time.Time

	id    *fc.Identity
	file  *os.File
	hash  hash.Hash
	bytes int64
}

// Open creates <root>/fc_<variant>_uid-<uid8hex>/<YYYY-MM-DD_HHMMSS>/ with
// exclusive semantics and opens the flash file for append-only writing.
func (s *Store) Open(id *fc.Identity, now time.Time) (*Session, error) {
	parent := filepath.Join(s.Root, fmt.Sprintf("fc_%s_uid-%s", id.Variant, id.UIDPrefix()))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create fc directory: %w", err)
	}
	dir := filepath.Join(parent, dirTimestamp.FormatString(now.UTC()))
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, dir)
		}
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FlashFileName),
		os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("create flash file: %w", err)
	}
	return &Session{
		Dir:     dir,
		Started: now.UTC(),
		id:      id,
		file:    f,
		hash:    sha256.New(),
	}, nil
}

// Write appends to the flash file and folds the bytes into the running hash.
func (sess *Session) Write(p []byte) (int, error) {
	n, err := sess.file.Write(p)
	sess.hash.Write(p[:n])
	sess.bytes += int64(n)
	if err != nil {
		return n, fmt.Errorf("write flash file: %w", err)
	}
	return n, nil
}

// Bytes is the number of flash bytes written so far.
func (sess *Session) Bytes() int64 { return sess.bytes }

// SHA256Hex is the hash of everything written so far.
func (sess *Session) SHA256Hex() string {
	return hex.EncodeToString(sess.hash.Sum(nil))
}

// CloseFile fsyncs and closes the flash file. Idempotent.
func (sess *Session) CloseFile() error {
	if sess.file == nil {
		return nil
	}
	f := sess.file
	sess.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync flash file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close flash file: %w", err)
	}
	return nil
}

// Verify reopens the flash file and hashes it from disk. A mismatch against
// the streamed hash is fatal to erase; the file is retained so the pilot can
// retry.
func (sess *Session) Verify() error {
	f, err := os.Open(filepath.Join(sess.Dir, FlashFileName))
	if err != nil {
		return fmt.Errorf("reopen flash file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("reread flash file: %w", err)
	}
	expected := sess.SHA256Hex()
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return &VerifyError{Expected: expected, Actual: actual}
	}
	return nil
}

// WriteManifest writes manifest.json via tmp+rename and fsyncs the directory
// so the audit trail is durable before any erase byte goes out. Rewriting an
// existing manifest (the erase_completed flip) goes through the same path.
func (sess *Session) WriteManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	tmp := filepath.Join(sess.Dir, ManifestFileName+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create manifest tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(sess.Dir, ManifestFileName)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return syncDir(sess.Dir)
}

// Manifest builds the manifest skeleton from the session state.
func (sess *Session) Manifest() Manifest {
	return NewManifest(sess.id, sess.Started, sess.bytes, sess.SHA256Hex())
}

// Discard removes the session directory entirely; used when the stream
// fails before a verified copy exists.
func (sess *Session) Discard() error {
	if sess.file != nil {
		_ = sess.file.Close()
		sess.file = nil
	}
	return os.RemoveAll(sess.Dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
