package syncpub_test

import (
	"testing"
	"time"

	"postalgic/models"
	"postalgic/syncpub"
)

// TestResolveLastModifiedWins verifies the remote copy wins iff it is
// strictly newer.
func TestResolveLastModifiedWins(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{-time.Hour, -time.Millisecond, 0, time.Millisecond, time.Hour}

	for _, d := range offsets {
		local := &models.Post{ID: "p1", Content: "local", UpdatedAt: base}
		remote := &models.Post{ID: "p1", Content: "remote", UpdatedAt: base.Add(d)}

		winner := syncpub.Resolve(local, remote).(*models.Post)
		wantRemote := d > 0
		if (winner.Content == "remote") != wantRemote {
			t.Errorf("offset %v: winner = %s, want remote=%v", d, winner.Content, wantRemote)
		}
		if syncpub.RemoteWins(local, remote) != wantRemote {
			t.Errorf("offset %v: RemoteWins disagrees with Resolve", d)
		}
	}
}
