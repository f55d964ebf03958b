package syncpub

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// ============================================================================
// Manifest
//
// manifest.json is the root descriptor of a published sync directory. Its
// field names are a wire contract shared with every other client, so the
// JSON tags below must not change. Readers ignore fields they do not know.
// ============================================================================

// FormatVersion is the protocol format written by this producer.
const FormatVersion = "1.0"

// Encryption parameters as they appear in the manifest.
const (
	AlgorithmAESGCM = "aes-256-gcm"
	KDFPBKDF2SHA256 = "pbkdf2-sha256"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// ISOTime is a UTC timestamp carried with millisecond precision.
type ISOTime struct {
	time.Time
}

func (t ISOTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Truncate(time.Millisecond).Format(isoMillis))), nil
}

func (t *ISOTime) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

// EncryptionParams describes how encrypted files were keyed.
type EncryptionParams struct {
	Salt       string `json:"salt"` // base64
	Algorithm  string `json:"algorithm"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
}

// FileRecord describes one file of the sync directory.
type FileRecord struct {
	Hash      string   `json:"hash"`
	Size      int64    `json:"size"`
	Modified  *ISOTime `json:"modified,omitempty"`
	Encrypted bool     `json:"encrypted"`
	IV        string   `json:"iv,omitempty"` // base64, encrypted files only
}

// Manifest is the parsed form of manifest.json.
type Manifest struct {
	FormatVersion       string                `json:"formatVersion"`
	SyncVersion         int64                 `json:"syncVersion"`
	LastModified        ISOTime               `json:"lastModified"`
	ProducerID          string                `json:"producerId,omitempty"`
	BlogName            string                `json:"blogName,omitempty"`
	HasEncryptedContent bool                  `json:"hasEncryptedContent"`
	EncryptionParams    *EncryptionParams     `json:"encryptionParams,omitempty"`
	Files               map[string]FileRecord `json:"files"`
}

// FileEntry is one output file handed to BuildManifest.
type FileEntry struct {
	Path      string
	Data      []byte
	Encrypted bool
	IV        []byte
	Modified  time.Time // optional
}

// BuildManifest assembles a manifest for entries. salt is recorded only when
// at least one entry is encrypted.
func BuildManifest(entries []FileEntry, version int64, producerID, blogName string, salt []byte, now time.Time) *Manifest {
	m := &Manifest{
		FormatVersion: FormatVersion,
		SyncVersion:   version,
		LastModified:  ISOTime{now.UTC().Truncate(time.Millisecond)},
		ProducerID:    producerID,
		BlogName:      blogName,
		Files:         make(map[string]FileRecord, len(entries)),
	}

	for _, e := range entries {
		rec := FileRecord{
			Hash:      Digest(e.Data),
			Size:      int64(len(e.Data)),
			Encrypted: e.Encrypted,
		}
		if !e.Modified.IsZero() {
			rec.Modified = &ISOTime{e.Modified.UTC().Truncate(time.Millisecond)}
		}
		if e.Encrypted {
			rec.IV = base64.StdEncoding.EncodeToString(e.IV)
			m.HasEncryptedContent = true
		}
		m.Files[e.Path] = rec
	}

	if m.HasEncryptedContent && len(salt) > 0 {
		m.EncryptionParams = &EncryptionParams{
			Salt:       base64.StdEncoding.EncodeToString(salt),
			Algorithm:  AlgorithmAESGCM,
			KDF:        KDFPBKDF2SHA256,
			Iterations: PBKDF2Iterations,
		}
	}
	return m
}

// Marshal renders the manifest as indented JSON. Map keys are sorted by
// encoding/json, so equal manifests produce equal bytes.
func (m *Manifest) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, NewError(KindMalformedManifest, ManifestPath, "failed to encode manifest", err)
	}
	return b, nil
}

// rawManifest mirrors Manifest with pointers so absent fields can be told
// apart from zero values.
type rawManifest struct {
	FormatVersion       string                    `json:"formatVersion"`
	SyncVersion         *int64                    `json:"syncVersion"`
	LastModified        *ISOTime                  `json:"lastModified"`
	ProducerID          string                    `json:"producerId"`
	BlogName            string                    `json:"blogName"`
	HasEncryptedContent bool                      `json:"hasEncryptedContent"`
	EncryptionParams    *EncryptionParams         `json:"encryptionParams"`
	Files               map[string]*rawFileRecord `json:"files"`
}

type rawFileRecord struct {
	Hash      *string  `json:"hash"`
	Size      int64    `json:"size"`
	Modified  *ISOTime `json:"modified"`
	Encrypted bool     `json:"encrypted"`
	IV        string   `json:"iv"`
}

// ParseManifest decodes and validates manifest bytes. Every failure is a
// KindMalformedManifest error.
func ParseManifest(b []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, NewError(KindMalformedManifest, ManifestPath, "invalid JSON", err)
	}
	if raw.SyncVersion == nil {
		return nil, NewError(KindMalformedManifest, ManifestPath, "syncVersion is missing", nil)
	}
	if raw.Files == nil {
		return nil, NewError(KindMalformedManifest, ManifestPath, "files is missing", nil)
	}

	m := &Manifest{
		FormatVersion:       raw.FormatVersion,
		SyncVersion:         *raw.SyncVersion,
		ProducerID:          raw.ProducerID,
		BlogName:            raw.BlogName,
		HasEncryptedContent: raw.HasEncryptedContent,
		EncryptionParams:    raw.EncryptionParams,
		Files:               make(map[string]FileRecord, len(raw.Files)),
	}
	if raw.LastModified != nil {
		m.LastModified = *raw.LastModified
	}
	for p, rec := range raw.Files {
		if rec == nil || rec.Hash == nil {
			return nil, NewError(KindMalformedManifest, p, "file record has no hash", nil)
		}
		m.Files[p] = FileRecord{
			Hash:      *rec.Hash,
			Size:      rec.Size,
			Modified:  rec.Modified,
			Encrypted: rec.Encrypted,
			IV:        rec.IV,
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the structural invariants of a manifest.
func (m *Manifest) Validate() error {
	if m.SyncVersion < 0 {
		return NewError(KindMalformedManifest, ManifestPath, "syncVersion is negative", nil)
	}
	if m.Files == nil {
		return NewError(KindMalformedManifest, ManifestPath, "files is missing", nil)
	}
	for p, rec := range m.Files {
		if p == "" {
			return NewError(KindMalformedManifest, ManifestPath, "empty file path", nil)
		}
		if rec.Hash == "" {
			return NewError(KindMalformedManifest, p, "file record has no hash", nil)
		}
		if rec.Encrypted && rec.IV == "" {
			return NewError(KindMalformedManifest, p, "encrypted file has no iv", nil)
		}
	}
	if m.HasEncryptedContent && (m.EncryptionParams == nil || m.EncryptionParams.Salt == "") {
		return NewError(KindMalformedManifest, ManifestPath, "encrypted content without a salt", nil)
	}
	return nil
}

// Paths returns every file path in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Salt decodes the key-derivation salt. Returns nil when the manifest
// carries no encryption parameters.
func (m *Manifest) Salt() ([]byte, error) {
	if m.EncryptionParams == nil || m.EncryptionParams.Salt == "" {
		return nil, nil
	}
	salt, err := base64.StdEncoding.DecodeString(m.EncryptionParams.Salt)
	if err != nil {
		return nil, NewError(KindMalformedManifest, ManifestPath, "salt is not valid base64", err)
	}
	return salt, nil
}

// TotalSize sums the size of every file in the manifest.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, rec := range m.Files {
		n += rec.Size
	}
	return n
}
