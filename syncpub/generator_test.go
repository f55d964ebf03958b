package syncpub_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"postalgic/models"
	"postalgic/syncpub"
)

func snapshotOf(t *testing.T, store *models.Store) *models.Snapshot {
	t.Helper()
	snap, err := store.Snapshot(context.Background(), testBlogID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return snap
}

// TestGenerateLayout verifies every entity lands at its id-keyed path and
// only drafts are encrypted.
func TestGenerateLayout(t *testing.T) {
	snap := snapshotOf(t, seedSource(t))

	res, err := syncpub.Generate(snap, nil, testPassword, syncpub.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	for _, p := range []string{
		"blog.json",
		"categories/index.json", "categories/c1.json", "categories/c2.json",
		"tags/index.json",
		"posts/index.json", "posts/p1.json", "posts/p2.json", "posts/p3.json",
		"drafts/index.json.enc", "drafts/d1.json.enc",
		"sidebar/index.json", "static-files/index.json", "embed-images/index.json",
	} {
		if _, ok := res.Files[p]; !ok {
			t.Errorf("missing %s", p)
		}
		rec, ok := res.Manifest.Files[p]
		if !ok {
			t.Errorf("manifest does not list %s", p)
			continue
		}
		if rec.Hash != syncpub.Digest(res.Files[p]) {
			t.Errorf("manifest hash for %s does not match its bytes", p)
		}
		if rec.Hash != res.FileHashes[p] {
			t.Errorf("file hash snapshot disagrees for %s", p)
		}
	}

	if _, ok := res.Files["posts/d1.json"]; ok {
		t.Error("draft leaked into published posts")
	}
	if bytes.Contains(res.Files["drafts/d1.json.enc"], []byte("unpublished thoughts")) {
		t.Error("draft content written in clear text")
	}
	if !res.Manifest.Files["drafts/d1.json.enc"].Encrypted || res.Manifest.Files["posts/p1.json"].Encrypted {
		t.Error("only drafts should be encrypted")
	}
	if !res.Manifest.HasEncryptedContent || res.Manifest.EncryptionParams == nil {
		t.Error("manifest must carry encryption params when drafts exist")
	}

	var post models.Post
	if err := json.Unmarshal(res.Files["posts/p1.json"], &post); err != nil {
		t.Fatalf("post file is not JSON: %v", err)
	}
	if post.ID != "p1" || post.CategoryID != "c1" {
		t.Errorf("unexpected post %+v", post)
	}
}

// TestGenerateDraftDecryptsWithManifestParams verifies a consumer can
// decrypt a draft from the manifest alone plus the password.
func TestGenerateDraftDecryptsWithManifestParams(t *testing.T) {
	res, err := syncpub.Generate(snapshotOf(t, seedSource(t)), nil, testPassword, syncpub.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	salt, err := res.Manifest.Salt()
	if err != nil {
		t.Fatalf("bad salt: %v", err)
	}
	key, _ := syncpub.DeriveKey(testPassword, salt)
	iv, _ := base64.StdEncoding.DecodeString(res.Manifest.Files["drafts/d1.json.enc"].IV)

	plain, err := syncpub.Decrypt(res.Files["drafts/d1.json.enc"], iv, key)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	var draft models.Post
	if err := json.Unmarshal(plain, &draft); err != nil {
		t.Fatalf("draft is not JSON: %v", err)
	}
	if draft.ID != "d1" || !draft.IsDraft {
		t.Errorf("unexpected draft %+v", draft)
	}
}

// TestGenerateVersioning verifies the version always increments by one from
// the highest known version, even without content changes.
func TestGenerateVersioning(t *testing.T) {
	snap := snapshotOf(t, seedSource(t))

	tests := []struct {
		name     string
		previous *models.SyncState
		base     int64
		want     int64
	}{
		{"first publish", nil, 0, 1},
		{"from state", &models.SyncState{LastSyncedVersion: 4}, 0, 5},
		{"remote ahead", &models.SyncState{LastSyncedVersion: 4}, 9, 10},
		{"state ahead", &models.SyncState{LastSyncedVersion: 12}, 3, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := syncpub.Generate(snap, tt.previous, testPassword, syncpub.GenerateOptions{BaseVersion: tt.base})
			if err != nil {
				t.Fatalf("generate failed: %v", err)
			}
			if res.Manifest.SyncVersion != tt.want {
				t.Errorf("version = %d, want %d", res.Manifest.SyncVersion, tt.want)
			}
		})
	}
}

// TestGenerateDeterministic verifies identical input yields identical
// plaintext files and digests.
func TestGenerateDeterministic(t *testing.T) {
	snap := snapshotOf(t, seedSource(t))
	salt := bytes.Repeat([]byte{3}, syncpub.SaltSize)
	opts := syncpub.GenerateOptions{Salt: salt, Now: t0, ProducerID: "p"}

	a, err := syncpub.Generate(snap, nil, testPassword, opts)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	b, err := syncpub.Generate(snap, nil, testPassword, opts)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	for p, rec := range a.Manifest.Files {
		if rec.Encrypted {
			continue // fresh IV per call
		}
		if b.Manifest.Files[p].Hash != rec.Hash {
			t.Errorf("non-deterministic output for %s", p)
		}
	}
	if a.Manifest.EncryptionParams.Salt != b.Manifest.EncryptionParams.Salt {
		t.Error("salt override not honored")
	}
}

// TestGenerateDraftsNeedPassword verifies drafts are never published
// without a password.
func TestGenerateDraftsNeedPassword(t *testing.T) {
	_, err := syncpub.Generate(snapshotOf(t, seedSource(t)), nil, "", syncpub.GenerateOptions{})
	if !syncpub.IsKind(err, syncpub.KindAuthenticationFailed) {
		t.Errorf("expected authentication error, got %v", err)
	}
}

// TestGenerateWithoutDrafts verifies no salt or password is needed when
// there is nothing to encrypt.
func TestGenerateWithoutDrafts(t *testing.T) {
	store := openStore(t)
	err := store.Put(context.Background(), testBlogID,
		&models.Blog{ID: testBlogID, Name: "Plain", UpdatedAt: t0},
		&models.StaticFile{ID: "sf1", Filename: "favicon.ico", MimeType: "image/x-icon", Data: []byte{1, 2, 3}, UpdatedAt: t0},
	)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	res, err := syncpub.Generate(snapshotOf(t, store), nil, "", syncpub.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if res.Manifest.HasEncryptedContent || res.Manifest.EncryptionParams != nil {
		t.Error("unexpected encryption metadata")
	}
	if !bytes.Equal(res.Files["static-files/favicon.ico"], []byte{1, 2, 3}) {
		t.Error("static file bytes not written verbatim")
	}
	if _, ok := res.Files["drafts/index.json.enc"]; ok {
		t.Error("drafts index written without drafts")
	}
}

// TestGenerateRejectsSharedFilename verifies that two embed images with
// the same filename fail generation instead of overwriting each other.
func TestGenerateRejectsSharedFilename(t *testing.T) {
	store := openStore(t)
	err := store.Put(context.Background(), testBlogID,
		&models.Blog{ID: testBlogID, Name: "Images", UpdatedAt: t0},
		&models.Post{ID: "p1", Title: "One", UpdatedAt: t0},
		&models.Post{ID: "p2", Title: "Two", UpdatedAt: t0},
		&models.EmbedImage{ID: "e1", PostID: "p1", Filename: "image1.jpg", Data: []byte("AAA"), UpdatedAt: t0},
		&models.EmbedImage{ID: "e2", PostID: "p2", Filename: "image1.jpg", Data: []byte("BBB"), UpdatedAt: t0},
	)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	res, err := syncpub.Generate(snapshotOf(t, store), nil, "", syncpub.GenerateOptions{})
	if err == nil {
		t.Fatalf("expected an error for a shared filename, got %d files", len(res.Files))
	}
	if !strings.Contains(err.Error(), "embed-images/image1.jpg") {
		t.Errorf("error should name the colliding path, got %v", err)
	}
}

// TestGenerateWriteTo verifies the on-disk layout under sync/.
func TestGenerateWriteTo(t *testing.T) {
	fs := afero.NewMemMapFs()
	res := publishTo(t, seedSource(t), fs, 0)

	onDisk, err := afero.ReadFile(fs, "/site/sync/manifest.json")
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if !bytes.Equal(onDisk, res.ManifestBytes) {
		t.Error("manifest bytes differ on disk")
	}
	for p, data := range res.Files {
		got, err := afero.ReadFile(fs, "/site/sync/"+p)
		if err != nil {
			t.Errorf("missing %s: %v", p, err)
			continue
		}
		if syncpub.Digest(got) != res.Manifest.Files[p].Hash || !bytes.Equal(got, data) {
			t.Errorf("bytes on disk differ for %s", p)
		}
	}
}
