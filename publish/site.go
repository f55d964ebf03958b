package publish

import (
	"context"
	"html"
	"path"
	"strings"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/afero"

	"postalgic/models"
)

// SiteGenerator renders the public site of a blog into dir on fsys.
// The sync directory is written separately and must not be touched.
type SiteGenerator interface {
	Build(ctx context.Context, snap *models.Snapshot, fsys afero.Fs, dir string) error
}

// HTMLSite renders a minimal static site: an index of published posts, one
// page per post, static files at the site root and embed images under
// embeds/<post id>/.
type HTMLSite struct{}

func (HTMLSite) Build(ctx context.Context, snap *models.Snapshot, fsys afero.Fs, dir string) error {
	if snap.Blog == nil {
		return serr.New("snapshot has no blog")
	}
	categories := make(map[string]string, len(snap.Categories))
	for _, c := range snap.Categories {
		categories[c.ID] = c.Name
	}

	write := func(rel string, data []byte) error {
		p := path.Join(dir, rel)
		if err := fsys.MkdirAll(path.Dir(p), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fsys, p, data, 0o644); err != nil {
			return serr.Wrap(err, "failed to write site file", "path", rel)
		}
		return nil
	}

	index := sitePage{Blog: snap.Blog, Body: postList{Posts: snap.Posts}}
	if err := write("index.html", []byte(index.String())); err != nil {
		return err
	}

	for _, p := range snap.Posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := sitePage{Blog: snap.Blog, Title: p.Title, Body: postView{Post: p, Category: categories[p.CategoryID]}}
		if err := write(path.Join("posts", postSlug(p), "index.html"), []byte(page.String())); err != nil {
			return err
		}
	}

	for _, f := range snap.StaticFiles {
		if f.Filename == "" || f.Filename == "index.html" || strings.Contains(f.Filename, "/") {
			continue
		}
		if err := write(f.Filename, f.Data); err != nil {
			return err
		}
	}
	for _, img := range snap.EmbedImages {
		if img.Filename == "" || strings.Contains(img.Filename, "/") {
			continue
		}
		if err := write(path.Join("embeds", img.PostID, img.Filename), img.Data); err != nil {
			return err
		}
	}
	return nil
}

func postSlug(p *models.Post) string {
	if p.Stub != "" && !strings.ContainsAny(p.Stub, "/\\") {
		return p.Stub
	}
	return p.ID
}

type sitePage struct {
	Blog  *models.Blog
	Title string
	Body  element.Component
}

func (s sitePage) String() string {
	b := element.NewBuilder()
	title := s.Blog.Name
	if s.Title != "" {
		title = s.Title + " | " + s.Blog.Name
	}

	b.Html("lang", "en").R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Title().T(html.EscapeString(title)),
		),
		b.Body().R(
			b.HeaderClass("site-header").R(
				b.H1().R(
					b.A("href", "/").T(html.EscapeString(s.Blog.Name)),
				),
				b.Wrap(func() {
					if s.Blog.Tagline != "" {
						b.PClass("tagline").T(html.EscapeString(s.Blog.Tagline))
					}
				}),
			),
			b.Main().R(
				element.RenderComponents(b, s.Body),
			),
			b.Footer().R(
				b.Wrap(func() {
					if s.Blog.AuthorName != "" {
						b.P().T("&copy; " + html.EscapeString(s.Blog.AuthorName))
					}
				}),
			),
		),
	)
	return "<!DOCTYPE html>\n" + b.String()
}

type postList struct {
	Posts []*models.Post
}

func (l postList) Render(b *element.Builder) (x any) {
	b.Ul("class", "posts").R(
		b.Wrap(func() {
			for _, p := range l.Posts {
				title := p.Title
				if title == "" {
					title = p.CreatedAt.Format("January 2, 2006")
				}
				b.Li().R(
					b.A("href", "/posts/"+postSlug(p)+"/").T(html.EscapeString(title)),
				)
			}
		}),
	)
	return
}

type postView struct {
	Post     *models.Post
	Category string
}

func (v postView) Render(b *element.Builder) (x any) {
	b.Article().R(
		b.Wrap(func() {
			if v.Post.Title != "" {
				b.H2().T(html.EscapeString(v.Post.Title))
			}
		}),
		b.PClass("meta").T(v.Post.CreatedAt.Format("January 2, 2006")),
		b.Wrap(func() {
			if v.Category != "" {
				b.PClass("category").T(html.EscapeString(v.Category))
			}
			for _, para := range strings.Split(v.Post.Content, "\n\n") {
				if strings.TrimSpace(para) != "" {
					b.P().T(html.EscapeString(para))
				}
			}
		}),
	)
	return
}
