package session

import (
	"encoding/json"
	"time"

	"github.com/proeugene/field-syncer/internal/fc"
)

// FlashFileName is the raw flash dump inside a session directory.
const FlashFileName = "raw_flash.bbl"

// ManifestFileName is the JSON audit sidecar.
const ManifestFileName = "manifest.json"

// Manifest documents one sync attempt. Invariant: once EraseCompleted is
// true, a prior disk read of File.Bytes bytes hashed to exactly File.SHA256.
type Manifest struct {
	Version        int          `json:"version"`
	CreatedUTC     string       `json:"created_utc"`
	FC             ManifestFC   `json:"fc"`
	File           ManifestFile `json:"file"`
	EraseAttempted bool         `json:"erase_attempted"`
	EraseCompleted bool         `json:"erase_completed"`
}

type ManifestFC struct {
	Variant        string `json:"variant"`
	UID            string `json:"uid"`
	APIVersion     string `json:"api_version"`
	BlackboxDevice int    `json:"blackbox_device"`
}

type ManifestFile struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// NewManifest fills the invariant fields from the session state.
func NewManifest(id *fc.Identity, created time.Time, bytes int64, sha256Hex string) Manifest {
	return Manifest{
		Version:    1,
		CreatedUTC: created.UTC().Format(time.RFC3339),
		FC: ManifestFC{
			Variant:        id.Variant,
			UID:            id.UIDHex(),
			APIVersion:     id.APIVersionString(),
			BlackboxDevice: id.BlackboxDevice,
		},
		File: ManifestFile{
			Name:   FlashFileName,
			Bytes:  bytes,
			SHA256: sha256Hex,
		},
	}
}

// ParseManifest reads a manifest back; used by tests and the browse
// collaborator.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(data, &m)
	return m, err
}
