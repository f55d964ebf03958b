package syncpub_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"postalgic/models"
	"postalgic/syncpub"
)

const (
	testBlogID   = "blog-1"
	testPassword = "abc123"
	testSiteURL  = "https://blog.example.com"
	siteRoot     = "/site"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// openStore opens an in-memory store and registers its cleanup.
func openStore(t *testing.T) *models.Store {
	t.Helper()
	store, err := models.OpenStore("")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedSource creates the producing device: 3 posts, 1 draft, 2 categories.
// Post p3 references a category that does not exist.
func seedSource(t *testing.T) *models.Store {
	t.Helper()
	store := openStore(t)

	err := store.Put(context.Background(), testBlogID,
		&models.Blog{ID: testBlogID, Name: "Test Blog", URL: testSiteURL, CreatedAt: t0, UpdatedAt: t0},
		&models.Category{ID: "c1", Name: "Go", Stub: "go", CreatedAt: t0, UpdatedAt: t0},
		&models.Category{ID: "c2", Name: "Travel", Stub: "travel", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "p1", Title: "One", Content: "first post", CategoryID: "c1", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "p2", Title: "Two", Content: "second post", CategoryID: "c2", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "p3", Title: "Three", Content: "third post", CategoryID: "gone", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "d1", Title: "Secret", Content: "unpublished thoughts", IsDraft: true, CreatedAt: t0, UpdatedAt: t0},
	)
	if err != nil {
		t.Fatalf("failed to seed source store: %v", err)
	}
	return store
}

// publishTo generates the sync directory of the source blog at version
// baseVersion+1 and writes it under siteRoot.
func publishTo(t *testing.T, src *models.Store, fs afero.Fs, baseVersion int64) *syncpub.GenerateResult {
	t.Helper()
	snap, err := src.Snapshot(context.Background(), testBlogID)
	if err != nil {
		t.Fatalf("failed to snapshot source: %v", err)
	}
	res, err := syncpub.Generate(snap, nil, testPassword, syncpub.GenerateOptions{
		BaseVersion: baseVersion,
		ProducerID:  "producer-a",
		Now:         t0,
	})
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}
	if err := res.WriteTo(fs, siteRoot); err != nil {
		t.Fatalf("failed to write sync directory: %v", err)
	}
	return res
}

func newPuller(store syncpub.LocalStore, fs afero.Fs) *syncpub.Puller {
	return &syncpub.Puller{
		Store: store,
		NewFetcher: func(string) syncpub.Fetcher {
			return syncpub.DirFetcher{Fs: fs, Root: siteRoot}
		},
	}
}

// importedFixture publishes version 5 from a seeded source and imports it
// into a fresh store.
func importedFixture(t *testing.T) (src, dst *models.Store, fs afero.Fs) {
	t.Helper()
	src = seedSource(t)
	dst = openStore(t)
	fs = afero.NewMemMapFs()
	publishTo(t, src, fs, 4)

	res, err := newPuller(dst, fs).ImportFromScratch(context.Background(), testSiteURL, testPassword)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("import reported errors: %v", res.Errors)
	}
	return src, dst, fs
}

func getPost(t *testing.T, store *models.Store, id string) *models.Post {
	t.Helper()
	post := &models.Post{}
	found, err := store.Get(context.Background(), testBlogID, models.KindPost, id, post)
	if err != nil {
		t.Fatalf("failed to get post %s: %v", id, err)
	}
	if !found {
		return nil
	}
	return post
}
