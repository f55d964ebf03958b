package publish_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"postalgic/models"
	"postalgic/publish"
	"postalgic/syncpub"
)

const (
	testBlogID   = "blog-1"
	testPassword = "abc123"
	testSiteURL  = "https://blog.example.com"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *models.Store {
	t.Helper()
	store, err := models.OpenStore("")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedBlog creates a blog with two posts and a draft, with sync enabled.
func seedBlog(t *testing.T) *models.Store {
	t.Helper()
	ctx := context.Background()
	store := openStore(t)
	err := store.Put(ctx, testBlogID,
		&models.Blog{ID: testBlogID, Name: "Test Blog", URL: testSiteURL, CreatedAt: t0, UpdatedAt: t0},
		&models.Category{ID: "c1", Name: "Go", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "p1", Title: "One", Content: "first post", CategoryID: "c1", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "p2", Title: "Two <b>", Content: "second post", CreatedAt: t0, UpdatedAt: t0},
		&models.Post{ID: "d1", Title: "Secret", Content: "unpublished", IsDraft: true, CreatedAt: t0, UpdatedAt: t0},
	)
	if err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	if _, err := store.SetSyncEnabled(ctx, testBlogID, true, testSiteURL); err != nil {
		t.Fatalf("failed to enable sync: %v", err)
	}
	return store
}

// newOrchestrator publishes every blog under /www/<blog id> on site and
// reads it back from there.
func newOrchestrator(store *models.Store, site afero.Fs) *publish.Orchestrator {
	return &publish.Orchestrator{
		Store:       store,
		Credentials: syncpub.StaticCredentials{"": testPassword},
		Site:        publish.HTMLSite{},
		Publishers: func(blogID string) (publish.Publisher, error) {
			return &publish.DirectoryPublisher{Fs: site, Root: "/www/" + blogID}, nil
		},
		Fetchers: func(string) syncpub.Fetcher {
			return syncpub.DirFetcher{Fs: site, Root: "/www/" + testBlogID}
		},
		Locker:  publish.NewLocker(""),
		WorkFs:  afero.NewMemMapFs(),
		WorkDir: "/work",
	}
}

func publishedVersion(t *testing.T, site afero.Fs) int64 {
	t.Helper()
	b, err := afero.ReadFile(site, "/www/"+testBlogID+"/sync/manifest.json")
	if err != nil {
		t.Fatalf("no published manifest: %v", err)
	}
	m, err := syncpub.ParseManifest(b)
	if err != nil {
		t.Fatalf("published manifest invalid: %v", err)
	}
	return m.SyncVersion
}

func syncState(t *testing.T, store *models.Store) *models.SyncState {
	t.Helper()
	st, err := store.SyncState(context.Background(), testBlogID)
	if err != nil {
		t.Fatalf("failed to load sync state: %v", err)
	}
	return st
}

func TestPublishFirstTime(t *testing.T) {
	ctx := context.Background()
	store := seedBlog(t)
	site := afero.NewMemMapFs()
	o := newOrchestrator(store, site)

	var phases []publish.Phase
	res, err := o.Publish(ctx, testBlogID, publish.PublishOptions{
		OnProgress: func(p publish.Phase, msg string) {
			if len(phases) == 0 || phases[len(phases)-1] != p {
				phases = append(phases, p)
			}
		},
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if res.Version != 1 {
		t.Errorf("expected version 1, got %d", res.Version)
	}
	if res.Publisher != "directory" {
		t.Errorf("unexpected publisher %q", res.Publisher)
	}
	if v := publishedVersion(t, site); v != 1 {
		t.Errorf("expected published version 1, got %d", v)
	}

	want := []publish.Phase{publish.PhaseSyncingDown, publish.PhaseGenerating, publish.PhaseUploading,
		publish.PhaseUpdatingLocalState, publish.PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d: expected %s, got %s", i, want[i], phases[i])
		}
	}
	if p := o.Phase(testBlogID); p != publish.PhaseDone {
		t.Errorf("expected final phase done, got %s", p)
	}

	st := syncState(t, store)
	if st.LastSyncedVersion != 1 {
		t.Errorf("expected local version 1, got %d", st.LastSyncedVersion)
	}
	if st.LastPublishedAt.IsZero() {
		t.Error("LastPublishedAt not recorded")
	}
	if _, ok := st.LocalFileHashes["posts/p1.json"]; !ok {
		t.Errorf("local hashes missing post: %v", st.LocalFileHashes)
	}

	index, err := afero.ReadFile(site, "/www/"+testBlogID+"/index.html")
	if err != nil {
		t.Fatalf("index.html not published: %v", err)
	}
	if !strings.Contains(string(index), "Two &lt;b&gt;") {
		t.Errorf("post title not escaped in index: %s", index)
	}
	if ok, _ := afero.Exists(site, "/www/"+testBlogID+"/posts/p1/index.html"); !ok {
		t.Error("post page not published")
	}
	if ok, _ := afero.Exists(site, "/www/"+testBlogID+"/sync/drafts/d1.json.enc"); !ok {
		t.Error("encrypted draft not published")
	}
}

func TestPublishRoundTripBetweenDevices(t *testing.T) {
	ctx := context.Background()
	site := afero.NewMemMapFs()

	storeA := seedBlog(t)
	a := newOrchestrator(storeA, site)
	if _, err := a.Publish(ctx, testBlogID, publish.PublishOptions{}); err != nil {
		t.Fatalf("publish from A failed: %v", err)
	}

	storeB := openStore(t)
	b := newOrchestrator(storeB, site)
	imported, err := b.Import(ctx, testSiteURL, publish.PullOptions{})
	if err != nil {
		t.Fatalf("import on B failed: %v", err)
	}
	if imported.BlogID != testBlogID || imported.Version != 1 {
		t.Fatalf("unexpected import result %+v", imported)
	}

	// B edits p1 and publishes
	err = storeB.Put(ctx, testBlogID, &models.Post{ID: "p1", Title: "One", Content: "edited on B",
		CategoryID: "c1", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)})
	if err != nil {
		t.Fatalf("edit on B failed: %v", err)
	}
	res, err := b.Publish(ctx, testBlogID, publish.PublishOptions{})
	if err != nil {
		t.Fatalf("publish from B failed: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("expected B to publish version 2, got %d", res.Version)
	}

	// A edits p2, then publishes: the pull brings B's edit first
	err = storeA.Put(ctx, testBlogID, &models.Post{ID: "p2", Title: "Two", Content: "edited on A",
		CreatedAt: t0, UpdatedAt: t0.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("edit on A failed: %v", err)
	}
	res, err = a.Publish(ctx, testBlogID, publish.PublishOptions{})
	if err != nil {
		t.Fatalf("second publish from A failed: %v", err)
	}
	if res.Pull == nil || res.Pull.Applied != 1 {
		t.Fatalf("expected A to pull one change, got %+v", res.Pull)
	}
	if res.Version != 3 {
		t.Errorf("expected version 3, got %d", res.Version)
	}

	p1 := &models.Post{}
	if _, err := storeA.Get(ctx, testBlogID, models.KindPost, "p1", p1); err != nil {
		t.Fatalf("get p1: %v", err)
	}
	if p1.Content != "edited on B" {
		t.Errorf("A did not receive B's edit: %q", p1.Content)
	}

	// B pulls A's edit
	pull, err := b.Pull(ctx, testBlogID, publish.PullOptions{})
	if err != nil {
		t.Fatalf("pull on B failed: %v", err)
	}
	if pull.Version != 3 {
		t.Errorf("expected B at version 3, got %d", pull.Version)
	}
	p2 := &models.Post{}
	if _, err := storeB.Get(ctx, testBlogID, models.KindPost, "p2", p2); err != nil {
		t.Fatalf("get p2: %v", err)
	}
	if p2.Content != "edited on A" {
		t.Errorf("B did not receive A's edit: %q", p2.Content)
	}
}

func TestPublishForceSkipsPull(t *testing.T) {
	ctx := context.Background()
	site := afero.NewMemMapFs()

	storeA := seedBlog(t)
	a := newOrchestrator(storeA, site)
	if _, err := a.Publish(ctx, testBlogID, publish.PublishOptions{}); err != nil {
		t.Fatalf("publish from A failed: %v", err)
	}
	storeB := openStore(t)
	b := newOrchestrator(storeB, site)
	if _, err := b.Import(ctx, testSiteURL, publish.PullOptions{}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	storeB.Put(ctx, testBlogID, &models.Post{ID: "p1", Content: "from B", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)})
	if _, err := b.Publish(ctx, testBlogID, publish.PublishOptions{}); err != nil {
		t.Fatalf("publish from B failed: %v", err)
	}

	res, err := a.Publish(ctx, testBlogID, publish.PublishOptions{Force: true})
	if err != nil {
		t.Fatalf("force publish failed: %v", err)
	}
	if res.Pull != nil {
		t.Error("force publish should not pull")
	}
	// A is at 1 locally but 2 is live, so the next version is 3
	if res.Version != 3 {
		t.Errorf("expected version 3, got %d", res.Version)
	}
	p1 := &models.Post{}
	storeA.Get(ctx, testBlogID, models.KindPost, "p1", p1)
	if p1.Content != "first post" {
		t.Errorf("force publish must not absorb remote changes, got %q", p1.Content)
	}
}

func TestPublishAbortsWhenPullFails(t *testing.T) {
	ctx := context.Background()
	site := afero.NewMemMapFs()

	storeA := seedBlog(t)
	a := newOrchestrator(storeA, site)
	if _, err := a.Publish(ctx, testBlogID, publish.PublishOptions{}); err != nil {
		t.Fatalf("publish from A failed: %v", err)
	}
	storeB := openStore(t)
	b := newOrchestrator(storeB, site)
	if _, err := b.Import(ctx, testSiteURL, publish.PullOptions{}); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	storeA.Put(ctx, testBlogID, &models.Post{ID: "p1", Content: "v2", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)})
	if _, err := a.Publish(ctx, testBlogID, publish.PublishOptions{}); err != nil {
		t.Fatalf("second publish failed: %v", err)
	}
	// Corrupt the changed post so B cannot verify it
	afero.WriteFile(site, "/www/"+testBlogID+"/sync/posts/p1.json", []byte(`{"id":"p1","content":"tampered"}`), 0o644)

	before := syncState(t, storeB)
	_, err := b.Publish(ctx, testBlogID, publish.PublishOptions{})
	if !syncpub.IsKind(err, syncpub.KindHashMismatch) {
		t.Fatalf("expected HashMismatch, got %v", err)
	}
	if v := publishedVersion(t, site); v != 2 {
		t.Errorf("failed publish must not upload, live version is %d", v)
	}
	if after := syncState(t, storeB); after.LastSyncedVersion != before.LastSyncedVersion {
		t.Errorf("local version moved from %d to %d", before.LastSyncedVersion, after.LastSyncedVersion)
	}
	if p := b.Phase(testBlogID); p != publish.PhaseFailed {
		t.Errorf("expected failed phase, got %s", p)
	}
}

func TestPublishLockConflict(t *testing.T) {
	store := seedBlog(t)
	o := newOrchestrator(store, afero.NewMemMapFs())

	release, err := o.Locker.TryAcquire(testBlogID)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	if _, err := o.Publish(context.Background(), testBlogID, publish.PublishOptions{}); !errors.Is(err, publish.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress from publish, got %v", err)
	}
	if _, err := o.Pull(context.Background(), testBlogID, publish.PullOptions{}); !errors.Is(err, publish.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress from pull, got %v", err)
	}
}

func TestPublishCanceledDuringUpload(t *testing.T) {
	store := seedBlog(t)
	site := afero.NewMemMapFs()
	o := newOrchestrator(store, site)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := o.Publish(ctx, testBlogID, publish.PublishOptions{
		OnProgress: func(p publish.Phase, msg string) {
			if p == publish.PhaseUploading && strings.HasPrefix(msg, "Uploaded file 1 ") {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok, _ := afero.Exists(site, "/www/"+testBlogID+"/sync/manifest.json"); ok {
		t.Error("manifest must not be uploaded after cancellation")
	}
	if st := syncState(t, store); st.LastSyncedVersion != 0 || !st.LastPublishedAt.IsZero() {
		t.Errorf("local state changed by a canceled publish: %+v", st)
	}
}

func TestPublishWithSyncDisabled(t *testing.T) {
	ctx := context.Background()
	store := seedBlog(t)
	if _, err := store.SetSyncEnabled(ctx, testBlogID, false, ""); err != nil {
		t.Fatalf("disable sync: %v", err)
	}
	site := afero.NewMemMapFs()
	o := newOrchestrator(store, site)

	res, err := o.Publish(ctx, testBlogID, publish.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if res.Version != 0 {
		t.Errorf("expected no sync version, got %d", res.Version)
	}
	if ok, _ := afero.Exists(site, "/www/"+testBlogID+"/index.html"); !ok {
		t.Error("site not published")
	}
	if ok, _ := afero.DirExists(site, "/www/"+testBlogID+"/sync"); ok {
		t.Error("sync directory published while sync is disabled")
	}
	if _, err := o.Pull(ctx, testBlogID, publish.PullOptions{}); !errors.Is(err, publish.ErrSyncDisabled) {
		t.Errorf("expected ErrSyncDisabled, got %v", err)
	}
}

func TestPublishDraftsWithoutPassword(t *testing.T) {
	store := seedBlog(t)
	site := afero.NewMemMapFs()
	o := newOrchestrator(store, site)
	o.Credentials = syncpub.StaticCredentials{}

	_, err := o.Publish(context.Background(), testBlogID, publish.PublishOptions{})
	if !syncpub.IsKind(err, syncpub.KindAuthenticationFailed) {
		t.Fatalf("expected AuthenticationFailed, got %v", err)
	}
	if ok, _ := afero.Exists(site, "/www/"+testBlogID+"/index.html"); ok {
		t.Error("nothing should be uploaded when generation fails")
	}
}
