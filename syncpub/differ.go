package syncpub

import (
	"sort"

	"postalgic/models"
)

// ChangeSet is the result of comparing a remote manifest with local state.
// Every list is sorted.
type ChangeSet struct {
	NewFiles      []string `json:"newFiles"`
	ModifiedFiles []string `json:"modifiedFiles"`
	DeletedFiles  []string `json:"deletedFiles"`
	HasChanges    bool     `json:"hasChanges"`
}

// Count is the number of changed paths.
func (cs *ChangeSet) Count() int {
	return len(cs.NewFiles) + len(cs.ModifiedFiles) + len(cs.DeletedFiles)
}

// Diff computes what changed remotely since the device last synced. Only the
// manifest is consulted. When the versions match, files is not inspected.
func Diff(remote *Manifest, local *models.SyncState) *ChangeSet {
	cs := &ChangeSet{NewFiles: []string{}, ModifiedFiles: []string{}, DeletedFiles: []string{}}

	var hashes map[string]string
	if local != nil {
		if remote.SyncVersion == local.LastSyncedVersion {
			return cs
		}
		hashes = local.LocalFileHashes
	}

	for p, rec := range remote.Files {
		h, ok := hashes[p]
		switch {
		case !ok:
			cs.NewFiles = append(cs.NewFiles, p)
		case h != rec.Hash:
			cs.ModifiedFiles = append(cs.ModifiedFiles, p)
		}
	}
	for p := range hashes {
		if _, ok := remote.Files[p]; !ok {
			cs.DeletedFiles = append(cs.DeletedFiles, p)
		}
	}

	sort.Strings(cs.NewFiles)
	sort.Strings(cs.ModifiedFiles)
	sort.Strings(cs.DeletedFiles)
	cs.HasChanges = cs.Count() > 0
	return cs
}
