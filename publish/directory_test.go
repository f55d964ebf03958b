package publish_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"postalgic/publish"
)

func writeFiles(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		if err := afero.WriteFile(fs, dir+"/"+rel, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
}

func TestDirectoryPublisherUpload(t *testing.T) {
	work := afero.NewMemMapFs()
	writeFiles(t, work, "/work", map[string]string{
		"index.html":             "<html></html>",
		"sync/manifest.json":     "{}",
		"sync/blog.json":         "{}",
		"sync/posts/p1.json":     "{}",
		"posts/hello/index.html": "<html></html>",
	})

	dest := afero.NewMemMapFs()
	// Left over from an earlier publish
	writeFiles(t, dest, "/www", map[string]string{
		"sync/posts/old.json": "{}",
		"robots.txt":          "User-agent: *",
	})

	pub := &publish.DirectoryPublisher{Fs: dest, Root: "/www"}
	var order []string
	err := pub.Upload(context.Background(), work, "/work", func(rel string, n, total int, size int64) {
		order = append(order, rel)
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if len(order) != 5 {
		t.Fatalf("expected 5 progress calls, got %d", len(order))
	}
	if last := order[len(order)-1]; last != "sync/manifest.json" {
		t.Errorf("manifest must be uploaded last, got %s", last)
	}

	for _, rel := range []string{"index.html", "sync/blog.json", "sync/posts/p1.json", "posts/hello/index.html", "robots.txt"} {
		if ok, _ := afero.Exists(dest, "/www/"+rel); !ok {
			t.Errorf("expected %s at destination", rel)
		}
	}
	if ok, _ := afero.Exists(dest, "/www/sync/posts/old.json"); ok {
		t.Error("stale sync file should have been removed")
	}
}

func TestDirectoryPublisherFetchExistingManifest(t *testing.T) {
	dest := afero.NewMemMapFs()
	pub := &publish.DirectoryPublisher{Fs: dest, Root: "/www"}

	b, err := pub.FetchExistingManifest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil manifest before first publish, got %q", b)
	}

	writeFiles(t, dest, "/www", map[string]string{"sync/manifest.json": `{"syncVersion":3}`})
	b, err = pub.FetchExistingManifest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"syncVersion":3}` {
		t.Errorf("unexpected manifest %q", b)
	}
}

func TestDirectoryPublisherStopsWhenCanceled(t *testing.T) {
	work := afero.NewMemMapFs()
	writeFiles(t, work, "/work", map[string]string{
		"a.html":             "a",
		"b.html":             "b",
		"sync/manifest.json": "{}",
	})
	dest := afero.NewMemMapFs()
	pub := &publish.DirectoryPublisher{Fs: dest, Root: "/www"}

	ctx, cancel := context.WithCancel(context.Background())
	err := pub.Upload(ctx, work, "/work", func(rel string, n, total int, size int64) {
		cancel()
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok, _ := afero.Exists(dest, "/www/a.html"); !ok {
		t.Error("the file in flight should have completed")
	}
	if ok, _ := afero.Exists(dest, "/www/sync/manifest.json"); ok {
		t.Error("manifest must not be uploaded after cancellation")
	}
}
