package syncpub

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/models"
)

// ============================================================================
// Sync Data Generator
//
// Generate turns one snapshot of a blog into the complete sync directory:
// one JSON file per entity at a path keyed by its stable id, one index per
// collection, raw bytes for static files and embed images, and the manifest.
// Drafts are the only encrypted content. Nothing here touches the network.
// ============================================================================

// GenerateOptions tunes a generation.
type GenerateOptions struct {
	// BaseVersion is the highest version known to exist remotely. The new
	// version is max(previous.LastSyncedVersion, BaseVersion)+1.
	BaseVersion int64
	// Salt overrides the random salt. Only tests should set it.
	Salt []byte
	// Now stamps the manifest. Zero means time.Now().
	Now time.Time
	// ProducerID overrides previous.ProducerID.
	ProducerID string
}

// GenerateResult is the in-memory sync directory.
type GenerateResult struct {
	// Files holds every file except the manifest, keyed by sync path.
	Files         map[string][]byte
	Manifest      *Manifest
	ManifestBytes []byte
	// FileHashes is the new LocalFileHashes snapshot for SyncState.
	FileHashes map[string]string
}

// indexEntry is one row of a collection index file. Only the fields that
// make sense for a collection are filled.
type indexEntry struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Name            string    `json:"name,omitempty"`
	Stub            string    `json:"stub,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	MimeType        string    `json:"mimeType,omitempty"`
	IsSpecialFile   bool      `json:"isSpecialFile,omitempty"`
	SpecialFileType string    `json:"specialFileType,omitempty"`
	PostID          string    `json:"postId,omitempty"`
	Order           int       `json:"order,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Hash            string    `json:"hash"`
}

// Generate produces the sync directory for snap. password is required only
// when the snapshot has drafts.
func Generate(snap *models.Snapshot, previous *models.SyncState, password string, opts GenerateOptions) (*GenerateResult, error) {
	if snap == nil || snap.Blog == nil {
		return nil, serr.New("cannot generate sync data without blog settings")
	}

	g := &generator{entries: make([]FileEntry, 0, 64), seen: make(map[string]bool, 64)}

	if len(snap.Drafts) > 0 {
		if password == "" {
			return nil, NewError(KindAuthenticationFailed, DraftsDir, "a sync password is required to publish drafts", nil)
		}
		g.salt = opts.Salt
		if g.salt == nil {
			salt, err := NewSalt()
			if err != nil {
				return nil, err
			}
			g.salt = salt
		}
		key, err := DeriveKey(password, g.salt)
		if err != nil {
			return nil, err
		}
		g.key = key
	}

	if err := g.addJSON(BlogPath, snap.Blog, snap.Blog.UpdatedAt); err != nil {
		return nil, err
	}

	var idx []indexEntry
	for _, c := range snap.Categories {
		h, err := g.addEntity(CategoriesDir, c.ID, c, c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{ID: c.ID, Name: c.Name, Stub: c.Stub, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, Hash: h})
	}
	if err := g.addIndex(CategoriesDir, idx); err != nil {
		return nil, err
	}

	idx = nil
	for _, t := range snap.Tags {
		h, err := g.addEntity(TagsDir, t.ID, t, t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{ID: t.ID, Name: t.Name, Stub: t.Stub, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, Hash: h})
	}
	if err := g.addIndex(TagsDir, idx); err != nil {
		return nil, err
	}

	idx = nil
	for _, p := range snap.Posts {
		h, err := g.addEntity(PostsDir, p.ID, p, p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{ID: p.ID, Title: p.Title, Stub: p.Stub, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, Hash: h})
	}
	if err := g.addIndex(PostsDir, idx); err != nil {
		return nil, err
	}

	if len(snap.Drafts) > 0 {
		idx = nil
		for _, d := range snap.Drafts {
			h, err := g.addEntity(DraftsDir, d.ID, d, d.UpdatedAt)
			if err != nil {
				return nil, err
			}
			idx = append(idx, indexEntry{ID: d.ID, Title: d.Title, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt, Hash: h})
		}
		if err := g.addIndex(DraftsDir, idx); err != nil {
			return nil, err
		}
	}

	idx = nil
	for _, s := range snap.Sidebar {
		h, err := g.addEntity(SidebarDir, s.ID, s, s.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{ID: s.ID, Title: s.Title, Order: s.Order, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Hash: h})
	}
	if err := g.addIndex(SidebarDir, idx); err != nil {
		return nil, err
	}

	idx = nil
	for _, f := range snap.StaticFiles {
		h, err := g.addBinary(StaticFilesDir, f.Filename, f.Data, f.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{
			ID: f.ID, Filename: f.Filename, MimeType: f.MimeType, IsSpecialFile: f.IsSpecialFile,
			SpecialFileType: f.SpecialFileType, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt, Hash: h,
		})
	}
	if err := g.addIndex(StaticFilesDir, idx); err != nil {
		return nil, err
	}

	idx = nil
	for _, e := range snap.EmbedImages {
		h, err := g.addBinary(EmbedImagesDir, e.Filename, e.Data, e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		idx = append(idx, indexEntry{
			ID: e.ID, PostID: e.PostID, Filename: e.Filename, Order: e.Order,
			CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, Hash: h,
		})
	}
	if err := g.addIndex(EmbedImagesDir, idx); err != nil {
		return nil, err
	}

	for _, th := range snap.Themes {
		if _, err := g.addEntity(ThemesDir, th.Identifier, th, th.UpdatedAt); err != nil {
			return nil, err
		}
	}

	// Version bookkeeping
	var prevVersion int64
	producerID := opts.ProducerID
	if previous != nil {
		prevVersion = previous.LastSyncedVersion
		if producerID == "" {
			producerID = previous.ProducerID
		}
	}
	version := max(prevVersion, opts.BaseVersion) + 1

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	sort.Slice(g.entries, func(i, j int) bool { return g.entries[i].Path < g.entries[j].Path })
	manifest := BuildManifest(g.entries, version, producerID, snap.Blog.Name, g.salt, now)
	manifestBytes, err := manifest.Marshal()
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{
		Files:         make(map[string][]byte, len(g.entries)),
		Manifest:      manifest,
		ManifestBytes: manifestBytes,
		FileHashes:    make(map[string]string, len(g.entries)),
	}
	for _, e := range g.entries {
		res.Files[e.Path] = e.Data
		res.FileHashes[e.Path] = manifest.Files[e.Path].Hash
	}

	logger.Info("Generated sync data", "blog_id", snap.Blog.ID, "version", version,
		"files", len(res.Files), "drafts", len(snap.Drafts))
	return res, nil
}

// WriteTo writes the sync directory under dir/sync on fs.
func (r *GenerateResult) WriteTo(fs afero.Fs, dir string) error {
	root := path.Join(dir, SyncDir)
	for p, data := range r.Files {
		full := path.Join(root, p)
		if err := fs.MkdirAll(path.Dir(full), 0o755); err != nil {
			return serr.Wrap(err, "failed to create sync directory", "path", full)
		}
		if err := afero.WriteFile(fs, full, data, 0o644); err != nil {
			return serr.Wrap(err, "failed to write sync file", "path", full)
		}
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return serr.Wrap(err, "failed to create sync directory", "path", root)
	}
	if err := afero.WriteFile(fs, path.Join(root, ManifestPath), r.ManifestBytes, 0o644); err != nil {
		return serr.Wrap(err, "failed to write manifest")
	}
	return nil
}

type generator struct {
	entries []FileEntry
	seen    map[string]bool // sync paths already emitted
	salt    []byte
	key     []byte
}

func (g *generator) add(p string, data []byte, modified time.Time, encrypt bool) (string, error) {
	// Static files and embed images are keyed by filename, so two of them can collide.
	if g.seen[p] {
		return "", serr.New("two entities map to the same sync path: " + p)
	}
	g.seen[p] = true

	e := FileEntry{Path: p, Modified: modified}
	if encrypt {
		ciphertext, iv, err := Encrypt(data, g.key)
		if err != nil {
			return "", serr.Wrap(err, "failed to encrypt", "path", p)
		}
		e.Data, e.IV, e.Encrypted = ciphertext, iv, true
	} else {
		e.Data = data
	}
	g.entries = append(g.entries, e)
	return Digest(e.Data), nil
}

func (g *generator) addJSON(p string, v any, modified time.Time) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return serr.Wrap(err, "failed to encode", "path", p)
	}
	_, err = g.add(p, data, modified, false)
	return err
}

func (g *generator) addEntity(dir, id string, v any, modified time.Time) (string, error) {
	if !validName(id) {
		return "", serr.New("invalid identifier for sync path", "collection", dir, "id", id)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", serr.Wrap(err, "failed to encode", "collection", dir, "id", id)
	}
	return g.add(entityPath(dir, id), data, modified, dir == DraftsDir)
}

func (g *generator) addBinary(dir, filename string, data []byte, modified time.Time) (string, error) {
	if !validName(filename) || filename == indexFile {
		return "", serr.New("invalid filename for sync path", "collection", dir, "filename", filename)
	}
	if data == nil {
		data = []byte{}
	}
	return g.add(binaryPath(dir, filename), data, modified, false)
}

func (g *generator) addIndex(dir string, entries []indexEntry) error {
	if entries == nil {
		entries = []indexEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return serr.Wrap(err, "failed to encode index", "collection", dir)
	}
	_, err = g.add(indexPath(dir), data, time.Time{}, dir == DraftsDir)
	return err
}

// validName reports whether s can be used as a single path segment.
func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
