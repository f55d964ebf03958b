package syncpub_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"postalgic/syncpub"
)

// TestParseManifestMalformed verifies every missing required field is
// reported as a malformed manifest.
func TestParseManifestMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{"syncVersion": `},
		{"missing syncVersion", `{"formatVersion":"1.0","files":{}}`},
		{"missing files", `{"formatVersion":"1.0","syncVersion":3}`},
		{"negative version", `{"syncVersion":-1,"files":{}}`},
		{"record without hash", `{"syncVersion":1,"files":{"blog.json":{"size":3}}}`},
		{"encrypted without iv", `{"syncVersion":1,"hasEncryptedContent":true,"encryptionParams":{"salt":"AAAAAAAAAAAAAAAAAAAAAA=="},"files":{"drafts/d.json.enc":{"hash":"ab","encrypted":true}}}`},
		{"encrypted without salt", `{"syncVersion":1,"hasEncryptedContent":true,"files":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := syncpub.ParseManifest([]byte(tt.json))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !syncpub.IsKind(err, syncpub.KindMalformedManifest) {
				t.Errorf("expected malformed manifest, got %v", err)
			}
		})
	}
}

// TestParseManifestIgnoresUnknownFields verifies additive fields are tolerated.
func TestParseManifestIgnoresUnknownFields(t *testing.T) {
	raw := `{
		"formatVersion": "1.1",
		"syncVersion": 12,
		"lastModified": "2024-03-01T10:00:00.123Z",
		"producerId": "ios-device",
		"futureField": {"nested": true},
		"files": {"blog.json": {"hash": "abc", "size": 10, "encrypted": false, "extra": 1}}
	}`
	m, err := syncpub.ParseManifest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.SyncVersion != 12 || m.ProducerID != "ios-device" {
		t.Errorf("unexpected manifest %+v", m)
	}
	if m.Files["blog.json"].Hash != "abc" {
		t.Errorf("file record not parsed")
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	if !m.LastModified.Equal(want) {
		t.Errorf("lastModified = %v, want %v", m.LastModified.Time, want)
	}
}

// TestBuildManifest verifies digests, sizes and encryption metadata.
func TestBuildManifest(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, syncpub.SaltSize)
	entries := []syncpub.FileEntry{
		{Path: "blog.json", Data: []byte("hello world")},
		{Path: "drafts/d1.json.enc", Data: []byte("cipher"), Encrypted: true, IV: bytes.Repeat([]byte{2}, 12)},
	}
	now := time.Date(2024, 3, 1, 10, 0, 0, 987_654_321, time.UTC)

	m := syncpub.BuildManifest(entries, 7, "producer", "My Blog", salt, now)

	if m.FormatVersion != syncpub.FormatVersion || m.SyncVersion != 7 {
		t.Errorf("unexpected header %+v", m)
	}
	blog := m.Files["blog.json"]
	if blog.Hash != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" || blog.Size != 11 {
		t.Errorf("unexpected blog record %+v", blog)
	}
	if blog.Encrypted || blog.IV != "" {
		t.Error("plaintext file must not carry encryption metadata")
	}
	if !m.HasEncryptedContent || m.EncryptionParams == nil {
		t.Fatal("expected encryption params")
	}
	if m.EncryptionParams.Iterations != syncpub.PBKDF2Iterations || m.EncryptionParams.Algorithm != syncpub.AlgorithmAESGCM {
		t.Errorf("unexpected encryption params %+v", m.EncryptionParams)
	}
	if m.Files["drafts/d1.json.enc"].IV == "" {
		t.Error("encrypted file must carry its IV")
	}

	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"lastModified": "2024-03-01T10:00:00.987Z"`) {
		t.Errorf("lastModified not rendered with millisecond precision:\n%s", b)
	}

	// Wire names are a contract with other clients
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"formatVersion", "syncVersion", "lastModified", "producerId", "blogName", "hasEncryptedContent", "encryptionParams", "files"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("missing wire field %q", key)
		}
	}

	parsed, err := syncpub.ParseManifest(b)
	if err != nil {
		t.Fatalf("failed to parse built manifest: %v", err)
	}
	salt2, err := parsed.Salt()
	if err != nil || !bytes.Equal(salt2, salt) {
		t.Errorf("salt did not survive: %v", err)
	}
}

// TestBuildManifestWithoutDrafts verifies no encryption params are emitted
// when nothing is encrypted.
func TestBuildManifestWithoutDrafts(t *testing.T) {
	m := syncpub.BuildManifest([]syncpub.FileEntry{{Path: "blog.json", Data: []byte("{}")}}, 1, "p", "b", []byte("ignored-salt-16b"), time.Now())
	if m.HasEncryptedContent || m.EncryptionParams != nil {
		t.Errorf("unexpected encryption metadata %+v", m.EncryptionParams)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("valid manifest rejected: %v", err)
	}
}
