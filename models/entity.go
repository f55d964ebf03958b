package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Entities
//
// Every record that travels through the sync directory carries an explicit,
// opaque string identifier. Identifiers are assigned once (NewID) when an
// entity is first authored and are then preserved verbatim by export, import
// and every sync cycle. Storage never assigns surrogate keys.
// ============================================================================

// Kind names an entity collection. It is also the discriminator column
// of the entities table.
type Kind string

const (
	KindBlog       Kind = "blog"
	KindCategory   Kind = "category"
	KindTag        Kind = "tag"
	KindPost       Kind = "post" // drafts are posts with IsDraft set
	KindSidebar    Kind = "sidebar"
	KindStaticFile Kind = "static_file"
	KindEmbedImage Kind = "embed_image"
	KindTheme      Kind = "theme"
)

// Entity is implemented by every syncable record.
// Modified is the last-modified timestamp used for conflict resolution.
type Entity interface {
	EntityKind() Kind
	EntityID() string
	Modified() time.Time
	normalize()
}

// NewID returns a fresh stable identifier for a locally authored entity.
func NewID() string {
	return uuid.New().String()
}

// Timestamp normalizes t to UTC with millisecond precision, which is
// the precision carried on the wire. Store.Put applies it to every
// entity timestamp before the payload is encoded.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Blog holds the blog settings. Blog.ID partitions every other row in the store.
type Blog struct {
	ID              string    `json:"id" msgpack:"id"`
	Name            string    `json:"name" msgpack:"name"`
	URL             string    `json:"url" msgpack:"url"`
	Tagline         string    `json:"tagline,omitempty" msgpack:"tagline"`
	AuthorName      string    `json:"authorName,omitempty" msgpack:"author_name"`
	AuthorURL       string    `json:"authorUrl,omitempty" msgpack:"author_url"`
	AuthorEmail     string    `json:"authorEmail,omitempty" msgpack:"author_email"`
	ThemeIdentifier string    `json:"themeIdentifier,omitempty" msgpack:"theme_identifier"`
	Timezone        string    `json:"timezone,omitempty" msgpack:"timezone"`
	CreatedAt       time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (b *Blog) EntityKind() Kind    { return KindBlog }
func (b *Blog) EntityID() string    { return b.ID }
func (b *Blog) Modified() time.Time { return b.UpdatedAt }

func (b *Blog) normalize() {
	b.CreatedAt, b.UpdatedAt = Timestamp(b.CreatedAt), Timestamp(b.UpdatedAt)
}

// Category groups posts. A post references at most one category by id.
type Category struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	Description string    `json:"description,omitempty" msgpack:"description"`
	Stub        string    `json:"stub,omitempty" msgpack:"stub"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (c *Category) EntityKind() Kind    { return KindCategory }
func (c *Category) EntityID() string    { return c.ID }
func (c *Category) Modified() time.Time { return c.UpdatedAt }

func (c *Category) normalize() {
	c.CreatedAt, c.UpdatedAt = Timestamp(c.CreatedAt), Timestamp(c.UpdatedAt)
}

type Tag struct {
	ID        string    `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	Stub      string    `json:"stub,omitempty" msgpack:"stub"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (t *Tag) EntityKind() Kind    { return KindTag }
func (t *Tag) EntityID() string    { return t.ID }
func (t *Tag) Modified() time.Time { return t.UpdatedAt }

func (t *Tag) normalize() {
	t.CreatedAt, t.UpdatedAt = Timestamp(t.CreatedAt), Timestamp(t.UpdatedAt)
}

// Post is a published post or, when IsDraft is set, a draft.
// Drafts are the only content that is encrypted in the sync payload.
type Post struct {
	ID         string    `json:"id" msgpack:"id"`
	Title      string    `json:"title,omitempty" msgpack:"title"`
	Content    string    `json:"content" msgpack:"content"`
	Stub       string    `json:"stub,omitempty" msgpack:"stub"`
	IsDraft    bool      `json:"isDraft" msgpack:"is_draft"`
	CategoryID string    `json:"categoryId,omitempty" msgpack:"category_id"`
	TagIDs     []string  `json:"tagIds,omitempty" msgpack:"tag_ids"`
	CreatedAt  time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (p *Post) EntityKind() Kind    { return KindPost }
func (p *Post) EntityID() string    { return p.ID }
func (p *Post) Modified() time.Time { return p.UpdatedAt }

func (p *Post) normalize() {
	p.CreatedAt, p.UpdatedAt = Timestamp(p.CreatedAt), Timestamp(p.UpdatedAt)
}

// Sidebar object types
const (
	SidebarText     = "text"
	SidebarLinkList = "linkList"
)

type SidebarLink struct {
	Title string `json:"title" msgpack:"title"`
	URL   string `json:"url" msgpack:"url"`
	Order int    `json:"order" msgpack:"order"`
}

type SidebarObject struct {
	ID        string        `json:"id" msgpack:"id"`
	Title     string        `json:"title" msgpack:"title"`
	Type      string        `json:"type" msgpack:"type"`
	Order     int           `json:"order" msgpack:"order"`
	Content   string        `json:"content,omitempty" msgpack:"content"`
	Links     []SidebarLink `json:"links,omitempty" msgpack:"links"`
	CreatedAt time.Time     `json:"createdAt" msgpack:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" msgpack:"updated_at"`
}

func (s *SidebarObject) EntityKind() Kind    { return KindSidebar }
func (s *SidebarObject) EntityID() string    { return s.ID }
func (s *SidebarObject) Modified() time.Time { return s.UpdatedAt }

func (s *SidebarObject) normalize() {
	s.CreatedAt, s.UpdatedAt = Timestamp(s.CreatedAt), Timestamp(s.UpdatedAt)
}

// StaticFile is an uploaded file served at the site root (favicon, social
// share image, robots.txt...). Data is never part of the JSON metadata; it
// travels as its own file in the sync directory.
type StaticFile struct {
	ID              string    `json:"id" msgpack:"id"`
	Filename        string    `json:"filename" msgpack:"filename"`
	MimeType        string    `json:"mimeType" msgpack:"mime_type"`
	IsSpecialFile   bool      `json:"isSpecialFile" msgpack:"is_special_file"`
	SpecialFileType string    `json:"specialFileType,omitempty" msgpack:"special_file_type"`
	Data            []byte    `json:"-" msgpack:"data"`
	CreatedAt       time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (f *StaticFile) EntityKind() Kind    { return KindStaticFile }
func (f *StaticFile) EntityID() string    { return f.ID }
func (f *StaticFile) Modified() time.Time { return f.UpdatedAt }

func (f *StaticFile) normalize() {
	f.CreatedAt, f.UpdatedAt = Timestamp(f.CreatedAt), Timestamp(f.UpdatedAt)
}

// EmbedImage is an image attached to a post's embed block.
type EmbedImage struct {
	ID        string    `json:"id" msgpack:"id"`
	PostID    string    `json:"postId" msgpack:"post_id"`
	Filename  string    `json:"filename" msgpack:"filename"`
	Order     int       `json:"order" msgpack:"order"`
	Data      []byte    `json:"-" msgpack:"data"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (e *EmbedImage) EntityKind() Kind    { return KindEmbedImage }
func (e *EmbedImage) EntityID() string    { return e.ID }
func (e *EmbedImage) Modified() time.Time { return e.UpdatedAt }

func (e *EmbedImage) normalize() {
	e.CreatedAt, e.UpdatedAt = Timestamp(e.CreatedAt), Timestamp(e.UpdatedAt)
}

// Theme is a user-customized theme. Built-in themes are not synced.
// The Identifier doubles as the stable id.
type Theme struct {
	Identifier string            `json:"identifier" msgpack:"identifier"`
	Name       string            `json:"name" msgpack:"name"`
	Templates  map[string]string `json:"templates" msgpack:"templates"`
	CreatedAt  time.Time         `json:"createdAt" msgpack:"created_at"`
	UpdatedAt  time.Time         `json:"updatedAt" msgpack:"updated_at"`
}

func (t *Theme) EntityKind() Kind    { return KindTheme }
func (t *Theme) EntityID() string    { return t.Identifier }
func (t *Theme) Modified() time.Time { return t.UpdatedAt }

func (t *Theme) normalize() {
	t.CreatedAt, t.UpdatedAt = Timestamp(t.CreatedAt), Timestamp(t.UpdatedAt)
}

// Snapshot is one fully materialized read of a blog's syncable entities.
// Every collection is ordered by id so that anything derived from a
// snapshot is reproducible.
type Snapshot struct {
	Blog        *Blog
	Categories  []*Category
	Tags        []*Tag
	Posts       []*Post // published only
	Drafts      []*Post
	Sidebar     []*SidebarObject
	StaticFiles []*StaticFile
	EmbedImages []*EmbedImage
	Themes      []*Theme
}
