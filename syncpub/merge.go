package syncpub

import (
	"encoding/json"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/sergi/go-diff/diffmatchpatch"

	"postalgic/models"
)

// ============================================================================
// Conflict Resolution
//
// Last-modified-wins at entity granularity: a remote copy replaces the local
// one only when its timestamp is strictly newer. Equal timestamps keep the
// local copy. There is no field-level merge.
// ============================================================================

const maxLoggedPatch = 512

// RemoteWins reports whether remote should replace local.
func RemoteWins(local, remote models.Entity) bool {
	return remote.Modified().After(local.Modified())
}

// Resolve returns the entity that survives a merge of local and remote.
func Resolve(local, remote models.Entity) models.Entity {
	if RemoteWins(local, remote) {
		return remote
	}
	return local
}

// logDiscardedRemote records what a losing remote change would have altered.
func logDiscardedRemote(path string, local, remote models.Entity) {
	localJSON, err1 := json.Marshal(local)
	remoteJSON, err2 := json.Marshal(remote)
	if err1 != nil || err2 != nil {
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(localJSON), string(remoteJSON), false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patch := dmp.PatchToText(dmp.PatchMake(string(localJSON), diffs))
	if len(patch) > maxLoggedPatch {
		patch = patch[:maxLoggedPatch] + "..."
	}

	logger.Debug("Kept local copy, remote change is not newer",
		"path", path,
		"id", local.EntityID(),
		"local_updated_at", local.Modified().Format(time.RFC3339Nano),
		"remote_updated_at", remote.Modified().Format(time.RFC3339Nano),
		"discarded_patch", patch,
	)
}

// newEntity returns an empty entity of kind for decoding into.
func newEntity(kind models.Kind) models.Entity {
	switch kind {
	case models.KindBlog:
		return &models.Blog{}
	case models.KindCategory:
		return &models.Category{}
	case models.KindTag:
		return &models.Tag{}
	case models.KindPost:
		return &models.Post{}
	case models.KindSidebar:
		return &models.SidebarObject{}
	case models.KindStaticFile:
		return &models.StaticFile{}
	case models.KindEmbedImage:
		return &models.EmbedImage{}
	case models.KindTheme:
		return &models.Theme{}
	}
	return nil
}
