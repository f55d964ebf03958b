package syncpub

import (
	"path"
	"strings"
)

// Sync directory layout. Every path here is relative to the /sync/ prefix
// of the published site.
const (
	SyncDir      = "sync"
	ManifestPath = "manifest.json"
	BlogPath     = "blog.json"

	PostsDir       = "posts"
	DraftsDir      = "drafts"
	CategoriesDir  = "categories"
	TagsDir        = "tags"
	SidebarDir     = "sidebar"
	StaticFilesDir = "static-files"
	EmbedImagesDir = "embed-images"
	ThemesDir      = "themes"

	indexFile    = "index.json"
	jsonExt      = ".json"
	encryptedExt = ".enc"
)

// collection identifies what a sync path holds.
type collection int

const (
	collUnknown collection = iota
	collBlog
	collIndex
	collCategory
	collTag
	collPost
	collDraft
	collSidebar
	collStaticFile
	collEmbedImage
	collTheme
)

func (c collection) String() string {
	switch c {
	case collBlog:
		return "blog"
	case collIndex:
		return "index"
	case collCategory:
		return "category"
	case collTag:
		return "tag"
	case collPost:
		return "post"
	case collDraft:
		return "draft"
	case collSidebar:
		return "sidebar"
	case collStaticFile:
		return "static file"
	case collEmbedImage:
		return "embed image"
	case collTheme:
		return "theme"
	}
	return "unknown"
}

func indexPath(dir string) string {
	if dir == DraftsDir {
		return dir + "/" + indexFile + encryptedExt
	}
	return dir + "/" + indexFile
}

func entityPath(dir, id string) string {
	if dir == DraftsDir {
		return dir + "/" + id + jsonExt + encryptedExt
	}
	return dir + "/" + id + jsonExt
}

func binaryPath(dir, filename string) string {
	return dir + "/" + filename
}

// classifyPath maps a sync path to its collection and key. The key is the
// entity id for JSON entity files, the theme identifier for themes, and the
// filename for static files and embed images.
func classifyPath(p string) (collection, string) {
	if p == BlogPath {
		return collBlog, ""
	}

	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if name == "" || strings.Contains(dir, "/") {
		return collUnknown, ""
	}
	if name == indexFile || name == indexFile+encryptedExt {
		return collIndex, dir
	}

	switch dir {
	case StaticFilesDir:
		return collStaticFile, name
	case EmbedImagesDir:
		return collEmbedImage, name
	case DraftsDir:
		if id, ok := strings.CutSuffix(name, jsonExt+encryptedExt); ok && id != "" {
			return collDraft, id
		}
		return collUnknown, ""
	}

	id, ok := strings.CutSuffix(name, jsonExt)
	if !ok || id == "" {
		return collUnknown, ""
	}
	switch dir {
	case PostsDir:
		return collPost, id
	case CategoriesDir:
		return collCategory, id
	case TagsDir:
		return collTag, id
	case SidebarDir:
		return collSidebar, id
	case ThemesDir:
		return collTheme, id
	}
	return collUnknown, ""
}
