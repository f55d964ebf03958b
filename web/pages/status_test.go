package pages

import (
	"strings"
	"testing"
	"time"
)

func TestStatusPageListsBlogs(t *testing.T) {
	synced := time.Now().Add(-3 * time.Hour)
	page := Status{
		Title: "Postalgic",
		Blogs: []BlogRow{
			{ID: "b1", Name: "Cats & Dogs", SyncEnabled: true, RemoteURL: "https://pets.example.com",
				LastSyncedVersion: 7, LastSyncedAt: &synced, Phase: "idle"},
			{ID: "b2", Name: "Drafts", Phase: "failed"},
		},
	}

	html := page.Render()

	for _, want := range []string{
		"Cats &amp; Dogs",
		"Sync: on",
		"Sync: off",
		"Version: 7",
		"3 hours ago",
		"Last published: never",
		`id="phase-b1"`,
		"phase-failed",
		"/events",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("status page missing %q", want)
		}
	}
}

func TestStatusPageEmpty(t *testing.T) {
	html := Status{Title: "Postalgic"}.Render()
	if !strings.Contains(html, "No blogs yet") {
		t.Error("expected empty state message")
	}
}
