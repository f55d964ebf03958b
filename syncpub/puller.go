package syncpub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"postalgic/models"
)

// ============================================================================
// Importer / Puller
//
// A pull runs in two phases. Phase 1 downloads, hash-verifies and decrypts
// every changed file, collecting per-file failures (hash mismatches,
// decryption failures, undecodable entities) without stopping. Phase 2
// merges everything that survived, applies guarded deletions and writes the
// new SyncState, all inside one store transaction.
//
// Whole-operation failures (manifest unreachable, a file that cannot be
// downloaded at all, a failed commit, cancellation) return an error and
// leave the local store and SyncState exactly as they were.
// ============================================================================

// LocalStore is the local datastore consumed by the puller.
// *models.Store implements it.
type LocalStore interface {
	SyncState(ctx context.Context, blogID string) (*models.SyncState, error)
	Snapshot(ctx context.Context, blogID string) (*models.Snapshot, error)
	Get(ctx context.Context, blogID string, kind models.Kind, id string, dst models.Entity) (bool, error)
	Update(ctx context.Context, fn func(tx models.Tx) error) error
}

// FetcherFactory returns a fetcher for the site published at sourceURL.
type FetcherFactory func(sourceURL string) Fetcher

// HTTPFetchers returns a FetcherFactory producing HTTPFetchers.
func HTTPFetchers(timeout time.Duration) FetcherFactory {
	return func(sourceURL string) Fetcher {
		return NewHTTPFetcher(sourceURL, timeout)
	}
}

// Puller imports and pulls blogs from their published sync directory.
type Puller struct {
	Store      LocalStore
	NewFetcher FetcherFactory
	// OnProgress, if set, receives a message at every suspension point.
	OnProgress func(message string)
}

// UpdateCheck is the result of CheckForUpdates.
type UpdateCheck struct {
	BlogID        string     `json:"blogId"`
	RemoteVersion int64      `json:"remoteVersion"`
	LocalVersion  int64      `json:"localVersion"`
	Changes       *ChangeSet `json:"changes"`
	DownloadSize  int64      `json:"downloadSize"` // bytes of new and modified files
}

// CheckForUpdates fetches only the manifest and reports what a pull would
// download.
func (p *Puller) CheckForUpdates(ctx context.Context, blogID string) (*UpdateCheck, error) {
	state, f, err := p.remote(ctx, blogID)
	if err != nil {
		return nil, err
	}

	p.progress("Checking for updates")
	manifest, err := FetchManifest(ctx, f)
	if err != nil {
		return nil, err
	}

	cs := Diff(manifest, state)
	check := &UpdateCheck{
		BlogID:        blogID,
		RemoteVersion: manifest.SyncVersion,
		LocalVersion:  state.LastSyncedVersion,
		Changes:       cs,
	}
	for _, path := range cs.NewFiles {
		check.DownloadSize += manifest.Files[path].Size
	}
	for _, path := range cs.ModifiedFiles {
		check.DownloadSize += manifest.Files[path].Size
	}

	logger.Info("Checked for updates", "blog_id", blogID, "remote_version", manifest.SyncVersion,
		"local_version", state.LastSyncedVersion, "changes", cs.Count())
	return check, nil
}

// PullChanges brings a blog up to date with its published sync directory.
func (p *Puller) PullChanges(ctx context.Context, blogID, password string) (*SyncResult, error) {
	state, f, err := p.remote(ctx, blogID)
	if err != nil {
		return nil, err
	}

	p.progress("Fetching manifest")
	manifest, err := FetchManifest(ctx, f)
	if err != nil {
		return nil, err
	}

	cs := Diff(manifest, state)
	if manifest.SyncVersion == state.LastSyncedVersion {
		logger.Info("Already up to date", "blog_id", blogID, "version", manifest.SyncVersion)
		return &SyncResult{BlogID: blogID, Version: manifest.SyncVersion, UpToDate: true, Changes: cs}, nil
	}

	logger.Info("Pulling changes", "blog_id", blogID, "remote_version", manifest.SyncVersion,
		"local_version", state.LastSyncedVersion, "new", len(cs.NewFiles),
		"modified", len(cs.ModifiedFiles), "deleted", len(cs.DeletedFiles))

	b := newBatch(blogID, manifest, state, cs, password)
	if err := p.run(ctx, f, b); err != nil {
		return nil, err
	}

	res := &SyncResult{
		BlogID:  blogID,
		Version: manifest.SyncVersion,
		Changes: cs,
		Applied: b.applied,
		Skipped: b.skipped,
		Deleted: b.deleted,
		Errors:  b.errs,
	}
	logger.Info("Pull completed", "blog_id", blogID, "summary", res.Summary())
	return res, nil
}

// ImportFromScratch creates a new local blog from the site published at
// sourceURL, preserving every entity id. It refuses to overwrite a blog
// that already exists locally.
func (p *Puller) ImportFromScratch(ctx context.Context, sourceURL, password string) (*ImportResult, error) {
	if sourceURL == "" {
		return nil, serr.New("a source URL is required to import a blog")
	}
	f := p.NewFetcher(sourceURL)

	p.progress("Fetching manifest")
	manifest, err := FetchManifest(ctx, f)
	if err != nil {
		return nil, err
	}
	if _, ok := manifest.Files[BlogPath]; !ok {
		return nil, NewError(KindMalformedManifest, BlogPath, "manifest does not list blog settings", nil)
	}

	// Blog settings come first: they carry the id everything else is stored under
	b := newBatch("", manifest, &models.SyncState{LocalFileHashes: map[string]string{}}, nil, password)
	blogBytes, err := p.fetchVerified(ctx, f, b, BlogPath)
	if err != nil {
		return nil, err
	}
	blog := &models.Blog{}
	if err := json.Unmarshal(blogBytes, blog); err != nil || blog.ID == "" {
		return nil, NewError(KindMalformedManifest, BlogPath, "invalid blog settings", err)
	}

	exists, err := p.Store.Get(ctx, blog.ID, models.KindBlog, blog.ID, &models.Blog{})
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, serr.New("blog already exists locally, pull instead of importing", "blog_id", blog.ID)
	}

	b.blogID = blog.ID
	b.importing = true
	b.files[BlogPath] = blogBytes
	b.state = &models.SyncState{
		BlogID:          blog.ID,
		ProducerID:      models.NewID(),
		LocalFileHashes: map[string]string{},
		SyncEnabled:     true,
		RemoteURL:       sourceURL,
	}
	b.changes = &ChangeSet{NewFiles: manifest.Paths(), ModifiedFiles: []string{}, DeletedFiles: []string{}}
	b.changes.HasChanges = len(b.changes.NewFiles) > 0

	logger.Info("Importing blog", "blog_id", blog.ID, "name", blog.Name, "version", manifest.SyncVersion,
		"files", len(manifest.Files), "size", humanize.Bytes(uint64(manifest.TotalSize())))

	if err := p.run(ctx, f, b); err != nil {
		return nil, err
	}

	res := &ImportResult{
		BlogID:   blog.ID,
		BlogName: blog.Name,
		Version:  manifest.SyncVersion,
		Counts:   b.counts,
		Errors:   b.errs,
	}
	logger.Info("Import completed", "blog_id", blog.ID, "entities", b.applied, "errors", len(b.errs))
	return res, nil
}

// remote loads the sync state of a blog and a fetcher for its remote site.
func (p *Puller) remote(ctx context.Context, blogID string) (*models.SyncState, Fetcher, error) {
	state, err := p.Store.SyncState(ctx, blogID)
	if err != nil {
		return nil, nil, err
	}
	if state.RemoteURL == "" {
		return nil, nil, serr.New("blog has no remote URL to sync from", "blog_id", blogID)
	}
	return state, p.NewFetcher(state.RemoteURL), nil
}

func (p *Puller) progress(msg string) {
	if p.OnProgress != nil {
		p.OnProgress(msg)
	}
}

// ----------------------------------------------------------------------------
// Batch
// ----------------------------------------------------------------------------

type pathEntity struct {
	path   string
	entity models.Entity
}

type batch struct {
	blogID    string
	manifest  *Manifest
	state     *models.SyncState // as loaded before the pull
	changes   *ChangeSet
	password  string
	importing bool

	key    []byte
	keyErr *Error

	files    map[string][]byte // verified plaintext by path
	failed   map[string]bool
	errs     []*Error
	entities []pathEntity
	metadata []pathEntity                     // binary entities whose bytes did not change
	indexes  map[string]map[string]indexEntry // dir -> filename -> entry

	applied, skipped, deleted int
	counts                    map[string]int
}

func newBatch(blogID string, m *Manifest, state *models.SyncState, cs *ChangeSet, password string) *batch {
	return &batch{
		blogID:   blogID,
		manifest: m,
		state:    state,
		changes:  cs,
		password: password,
		files:    make(map[string][]byte),
		failed:   make(map[string]bool),
		indexes:  make(map[string]map[string]indexEntry),
		counts:   make(map[string]int),
	}
}

func (b *batch) fail(err *Error) {
	logger.LogErr(err, "sync file failed", "blog_id", b.blogID, "path", err.Path)
	b.failed[err.Path] = true
	b.errs = append(b.errs, err)
}

// keyFor derives the draft key once per batch.
func (b *batch) keyFor(path string) ([]byte, error) {
	if b.key != nil {
		return b.key, nil
	}
	if b.keyErr != nil {
		return nil, &Error{Kind: b.keyErr.Kind, Path: path, Msg: b.keyErr.Msg, Err: b.keyErr.Err}
	}

	if b.password == "" {
		b.keyErr = NewError(KindAuthenticationFailed, "", "sync password required to decrypt drafts", nil)
		return b.keyFor(path)
	}
	if p := b.manifest.EncryptionParams; p != nil && p.Iterations != 0 && p.Iterations != PBKDF2Iterations {
		b.keyErr = NewError(KindMalformedManifest, "", fmt.Sprintf("unsupported key derivation iterations %d", p.Iterations), nil)
		return b.keyFor(path)
	}
	salt, err := b.manifest.Salt()
	if err != nil {
		b.keyErr = err.(*Error)
		return b.keyFor(path)
	}
	key, err := DeriveKey(b.password, salt)
	if err != nil {
		b.keyErr = NewError(KindMalformedManifest, "", "cannot derive draft key", err)
		return b.keyFor(path)
	}
	b.key = key
	return key, nil
}

// ----------------------------------------------------------------------------
// Phase 1: download and verify
// ----------------------------------------------------------------------------

// fetchVerified downloads path, checks it against the manifest digest and
// decrypts it when the manifest marks it encrypted.
func (p *Puller) fetchVerified(ctx context.Context, f Fetcher, b *batch, path string) ([]byte, error) {
	rec, ok := b.manifest.Files[path]
	if !ok {
		return nil, NewError(KindMalformedManifest, path, "file is not listed in the manifest", nil)
	}

	data, err := f.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if got := Digest(data); got != rec.Hash {
		return nil, NewError(KindHashMismatch, path, "expected "+rec.Hash+", got "+got, nil)
	}
	if !rec.Encrypted {
		return data, nil
	}

	key, err := b.keyFor(path)
	if err != nil {
		return nil, err
	}
	iv, err := base64.StdEncoding.DecodeString(rec.IV)
	if err != nil {
		return nil, NewError(KindMalformedManifest, path, "iv is not valid base64", err)
	}
	plain, err := Decrypt(data, iv, key)
	if err != nil {
		return nil, NewError(KindAuthenticationFailed, path, "could not decrypt, check the sync password", err)
	}
	return plain, nil
}

// perFile reports whether err only concerns one file and must not abort the pull.
func perFile(err error) (*Error, bool) {
	switch KindOf(err) {
	case KindHashMismatch, KindAuthenticationFailed, KindMalformedManifest:
		se, _ := err.(*Error)
		return se, se != nil
	}
	return nil, false
}

func (p *Puller) download(ctx context.Context, f Fetcher, b *batch) error {
	paths := append(append([]string{}, b.changes.NewFiles...), b.changes.ModifiedFiles...)
	sort.Strings(paths)

	total := len(paths)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, done := b.files[path]; done {
			continue
		}
		coll, _ := classifyPath(path)
		if coll == collUnknown {
			logger.Debug("Ignoring unknown sync path", "path", path)
			continue
		}

		data, err := p.fetchVerified(ctx, f, b, path)
		if err != nil {
			if se, ok := perFile(err); ok {
				b.fail(se)
				continue
			}
			return err
		}
		b.files[path] = data

		msg := fmt.Sprintf("Downloaded %s (file %d of %d, %s)", path, i+1, total,
			humanize.Bytes(uint64(b.manifest.Files[path].Size)))
		logger.Debug(msg, "blog_id", b.blogID)
		p.progress(msg)
	}
	return nil
}

// loadIndex returns the filename-keyed index of a binary collection,
// fetching it when it was not part of the change set.
func (p *Puller) loadIndex(ctx context.Context, f Fetcher, b *batch, dir string) (map[string]indexEntry, error) {
	if idx, ok := b.indexes[dir]; ok {
		return idx, nil
	}

	path := indexPath(dir)
	if b.failed[path] {
		return nil, NewError(KindMalformedManifest, path, "index failed to download", nil)
	}
	data, ok := b.files[path]
	if !ok {
		var err error
		if data, err = p.fetchVerified(ctx, f, b, path); err != nil {
			return nil, err
		}
	}

	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, NewError(KindMalformedManifest, path, "invalid index", err)
	}
	idx := make(map[string]indexEntry, len(entries))
	for _, e := range entries {
		idx[e.Filename] = e
	}
	b.indexes[dir] = idx
	return idx, nil
}

// ----------------------------------------------------------------------------
// Decoding
// ----------------------------------------------------------------------------

func (p *Puller) decode(ctx context.Context, f Fetcher, b *batch) error {
	paths := make([]string, 0, len(b.files))
	for path := range b.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data := b.files[path]
		coll, key := classifyPath(path)

		var (
			e   models.Entity
			err error
		)
		switch coll {
		case collIndex, collUnknown:
			continue
		case collBlog:
			blog := &models.Blog{}
			err = json.Unmarshal(data, blog)
			if err == nil && blog.ID != b.blogID {
				return serr.New("remote blog id does not match local blog", "local", b.blogID, "remote", blog.ID)
			}
			e = blog
		case collCategory:
			e, err = decodeJSON(data, &models.Category{})
		case collTag:
			e, err = decodeJSON(data, &models.Tag{})
		case collSidebar:
			e, err = decodeJSON(data, &models.SidebarObject{})
		case collTheme:
			e, err = decodeJSON(data, &models.Theme{})
		case collPost, collDraft:
			post := &models.Post{}
			if err = json.Unmarshal(data, post); err == nil {
				post.IsDraft = coll == collDraft
			}
			e = post
		case collStaticFile, collEmbedImage:
			dir := StaticFilesDir
			if coll == collEmbedImage {
				dir = EmbedImagesDir
			}
			idx, idxErr := p.loadIndex(ctx, f, b, dir)
			if idxErr != nil {
				if se, ok := perFile(idxErr); ok {
					b.fail(&Error{Kind: se.Kind, Path: path, Msg: "metadata unavailable: " + se.Msg, Err: se.Err})
					continue
				}
				return idxErr
			}
			entry, ok := idx[key]
			if !ok {
				b.fail(NewError(KindMalformedManifest, path, "file is not listed in its index", nil))
				continue
			}
			e = binaryEntity(coll, entry, data)
		}

		if err != nil {
			b.fail(NewError(KindMalformedManifest, path, "invalid "+coll.String()+" data", err))
			continue
		}
		if coll != collBlog && coll != collStaticFile && coll != collEmbedImage && e.EntityID() != key {
			b.fail(NewError(KindMalformedManifest, path, "id does not match its path", nil))
			continue
		}
		b.entities = append(b.entities, pathEntity{path: path, entity: e})
	}

	// A changed binary index with unchanged bytes carries metadata edits only
	for _, dir := range []string{StaticFilesDir, EmbedImagesDir} {
		if _, ok := b.files[indexPath(dir)]; !ok {
			continue
		}
		idx, err := p.loadIndex(ctx, f, b, dir)
		if err != nil {
			if se, ok := perFile(err); ok {
				b.fail(se)
				continue
			}
			return err
		}
		coll := collStaticFile
		if dir == EmbedImagesDir {
			coll = collEmbedImage
		}
		for _, filename := range sortedKeys(idx) {
			path := binaryPath(dir, filename)
			if _, fetched := b.files[path]; fetched || b.failed[path] {
				continue
			}
			b.metadata = append(b.metadata, pathEntity{path: path, entity: binaryEntity(coll, idx[filename], nil)})
		}
	}
	return nil
}

func sortedKeys(idx map[string]indexEntry) []string {
	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func decodeJSON(data []byte, e models.Entity) (models.Entity, error) {
	return e, json.Unmarshal(data, e)
}

func binaryEntity(coll collection, entry indexEntry, data []byte) models.Entity {
	if coll == collStaticFile {
		return &models.StaticFile{
			ID: entry.ID, Filename: entry.Filename, MimeType: entry.MimeType,
			IsSpecialFile: entry.IsSpecialFile, SpecialFileType: entry.SpecialFileType,
			Data: data, CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt,
		}
	}
	return &models.EmbedImage{
		ID: entry.ID, PostID: entry.PostID, Filename: entry.Filename, Order: entry.Order,
		Data: data, CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt,
	}
}

// ----------------------------------------------------------------------------
// Phase 2: apply
// ----------------------------------------------------------------------------

func (p *Puller) run(ctx context.Context, f Fetcher, b *batch) error {
	if err := p.download(ctx, f, b); err != nil {
		return err
	}
	if err := p.decode(ctx, f, b); err != nil {
		return err
	}

	// Deletions are honored only when the remote manifest is newer than
	// what this device last reconciled.
	deleteAllowed := b.manifest.SyncVersion > b.state.LastSyncedVersion
	var local *models.Snapshot
	if !b.importing && deleteAllowed && len(b.changes.DeletedFiles) > 0 {
		snap, err := p.Store.Snapshot(ctx, b.blogID)
		if err != nil {
			return err
		}
		local = snap
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	p.progress(fmt.Sprintf("Applying %d changes", len(b.entities)))
	var applied, skipped, deleted int
	counts := make(map[string]int)

	err := p.Store.Update(ctx, func(tx models.Tx) error {
		applied, skipped, deleted = 0, 0, 0
		clear(counts)

		incoming := make(map[models.Kind]map[string]bool)
		for _, pe := range b.entities {
			k := pe.entity.EntityKind()
			if incoming[k] == nil {
				incoming[k] = make(map[string]bool)
			}
			incoming[k][pe.entity.EntityID()] = true
		}

		for _, pe := range b.entities {
			if post, ok := pe.entity.(*models.Post); ok {
				if err := clearDanglingRefs(ctx, tx, b.blogID, post, incoming); err != nil {
					return err
				}
			}
			wrote, err := mergeEntity(ctx, tx, b.blogID, pe)
			if err != nil {
				return err
			}
			if wrote {
				applied++
				coll, _ := classifyPath(pe.path)
				counts[coll.String()]++
			} else {
				skipped++
			}
		}

		for _, pe := range b.metadata {
			wrote, err := mergeMetadata(ctx, tx, b.blogID, pe)
			if err != nil {
				return err
			}
			if wrote {
				applied++
			}
		}

		if deleteAllowed {
			for _, path := range b.changes.DeletedFiles {
				n, err := deleteForPath(ctx, tx, b.blogID, path, local, incoming)
				if err != nil {
					return err
				}
				deleted += n
			}
		}

		return tx.SaveSyncState(ctx, nextState(b, deleteAllowed))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewError(KindStorageTransactionFailed, "", "failed to apply pulled changes", err)
	}

	b.applied, b.skipped, b.deleted, b.counts = applied, skipped, deleted, counts
	p.progress(fmt.Sprintf("Committed version %d", b.manifest.SyncVersion))
	return nil
}

// mergeEntity inserts a new entity or applies last-modified-wins to an
// existing one. Reports whether the remote copy was written.
func mergeEntity(ctx context.Context, tx models.Tx, blogID string, pe pathEntity) (bool, error) {
	remote := pe.entity
	local := newEntity(remote.EntityKind())
	found, err := tx.Get(ctx, blogID, remote.EntityKind(), remote.EntityID(), local)
	if err != nil {
		return false, err
	}
	if found && !RemoteWins(local, remote) {
		logDiscardedRemote(pe.path, local, remote)
		return false, nil
	}
	if err := tx.Put(ctx, blogID, remote); err != nil {
		return false, err
	}
	return true, nil
}

// mergeMetadata applies a metadata-only change to an existing static file
// or embed image, keeping its local bytes.
func mergeMetadata(ctx context.Context, tx models.Tx, blogID string, pe pathEntity) (bool, error) {
	remote := pe.entity
	local := newEntity(remote.EntityKind())
	found, err := tx.Get(ctx, blogID, remote.EntityKind(), remote.EntityID(), local)
	if err != nil || !found || !RemoteWins(local, remote) {
		return false, err
	}

	switch r := remote.(type) {
	case *models.StaticFile:
		r.Data = local.(*models.StaticFile).Data
	case *models.EmbedImage:
		r.Data = local.(*models.EmbedImage).Data
	}
	if err := tx.Put(ctx, blogID, remote); err != nil {
		return false, err
	}
	return true, nil
}

// clearDanglingRefs unsets references to categories and tags that exist
// neither locally nor in the incoming batch.
func clearDanglingRefs(ctx context.Context, tx models.Tx, blogID string, post *models.Post, incoming map[models.Kind]map[string]bool) error {
	exists := func(kind models.Kind, id string) (bool, error) {
		if incoming[kind][id] {
			return true, nil
		}
		return tx.Get(ctx, blogID, kind, id, newEntity(kind))
	}

	if post.CategoryID != "" {
		ok, err := exists(models.KindCategory, post.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("Clearing dangling category reference", "post_id", post.ID, "category_id", post.CategoryID)
			post.CategoryID = ""
		}
	}

	if len(post.TagIDs) > 0 {
		kept := post.TagIDs[:0:0]
		for _, id := range post.TagIDs {
			ok, err := exists(models.KindTag, id)
			if err != nil {
				return err
			}
			if ok {
				kept = append(kept, id)
			} else {
				logger.Debug("Dropping dangling tag reference", "post_id", post.ID, "tag_id", id)
			}
		}
		post.TagIDs = kept
	}
	return nil
}

// deleteForPath removes the local entity behind a path the remote no longer
// lists. Ids written by the same batch are never deleted.
func deleteForPath(ctx context.Context, tx models.Tx, blogID, path string, local *models.Snapshot, incoming map[models.Kind]map[string]bool) (int, error) {
	coll, key := classifyPath(path)

	var kind models.Kind
	id := key
	switch coll {
	case collCategory:
		kind = models.KindCategory
	case collTag:
		kind = models.KindTag
	case collSidebar:
		kind = models.KindSidebar
	case collTheme:
		kind = models.KindTheme
	case collPost, collDraft:
		kind = models.KindPost
		post := &models.Post{}
		found, err := tx.Get(ctx, blogID, kind, id, post)
		if err != nil {
			return 0, err
		}
		// A post published since the last sync moves from drafts/ to posts/
		if !found || post.IsDraft != (coll == collDraft) {
			return 0, nil
		}
	case collStaticFile:
		kind = models.KindStaticFile
		id = ""
		if local != nil {
			for _, sf := range local.StaticFiles {
				if sf.Filename == key {
					id = sf.ID
				}
			}
		}
	case collEmbedImage:
		kind = models.KindEmbedImage
		id = ""
		if local != nil {
			for _, img := range local.EmbedImages {
				if img.Filename == key {
					id = img.ID
				}
			}
		}
	default:
		return 0, nil
	}

	if id == "" || incoming[kind][id] {
		return 0, nil
	}
	if err := tx.Delete(ctx, blogID, kind, id); err != nil {
		return 0, err
	}
	logger.Debug("Deleted entity removed remotely", "blog_id", blogID, "kind", string(kind), "id", id)
	return 1, nil
}

// nextState computes the SyncState committed with a pull. Failed paths keep
// their previous hash so the next pull retries them, and the version only
// advances when every file was processed.
func nextState(b *batch, deleteAllowed bool) *models.SyncState {
	next := b.state.Clone()
	next.BlogID = b.blogID

	for _, list := range [][]string{b.changes.NewFiles, b.changes.ModifiedFiles} {
		for _, path := range list {
			if b.failed[path] {
				continue
			}
			next.LocalFileHashes[path] = b.manifest.Files[path].Hash
		}
	}
	if deleteAllowed {
		for _, path := range b.changes.DeletedFiles {
			delete(next.LocalFileHashes, path)
		}
	}

	if len(b.errs) == 0 {
		next.LastSyncedVersion = b.manifest.SyncVersion
		next.LastSyncedAt = time.Now()
	}
	return next
}
