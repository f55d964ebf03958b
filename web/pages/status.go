// Package pages renders the server's HTML pages.
package pages

import (
	"html"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rohanthewiz/element"

	"postalgic/web/pages/shared"
)

// BlogRow is one line of the status table.
type BlogRow struct {
	ID                string
	Name              string
	SyncEnabled       bool
	RemoteURL         string
	LastSyncedVersion int64
	LastSyncedAt      *time.Time
	LastPublishedAt   *time.Time
	Phase             string
}

// Status lists every blog with its sync state.
type Status struct {
	Title string
	Blogs []BlogRow
}

func (s Status) Render() (out string) {
	page := shared.Page{Title: s.Title}
	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Title().T(html.EscapeString(s.Title)),
			b.Link("rel", "stylesheet", "href", "/static/status.css"),
		),
		b.Body().R(
			element.RenderComponents(b,
				page.Banner(),
				blogList{Blogs: s.Blogs},
				page.Footer(),
			),
			// Refresh the phase column as progress events arrive
			b.Script().T(`
				if (typeof(EventSource) !== "undefined") {
					const evtSource = new EventSource("/events");
					evtSource.onmessage = function(event) {
						const ev = JSON.parse(event.data);
						const cell = document.getElementById("phase-" + ev.blogId);
						if (cell) {
							cell.textContent = ev.phase;
							cell.title = ev.message;
						}
					};
				}
			`),
		),
	)

	return b.String()
}

type blogList struct {
	Blogs []BlogRow
}

func (t blogList) Render(b *element.Builder) (x any) {
	b.Main().R(
		b.Wrap(func() {
			if len(t.Blogs) == 0 {
				b.PClass("muted").T("No blogs yet. Import one with POST /api/v1/sync/import.")
				return
			}
			for _, row := range t.Blogs {
				b.DivClass("blog").R(
					b.H2().T(html.EscapeString(row.Name)),
					b.Ul().R(
						b.Li().T("Sync: "+onOff(row.SyncEnabled)),
						b.Li().T("Remote: "+html.EscapeString(row.RemoteURL)),
						b.Li().T("Version: "+strconv.FormatInt(row.LastSyncedVersion, 10)),
						b.Li().T("Last synced: "+ago(row.LastSyncedAt)),
						b.Li().T("Last published: "+ago(row.LastPublishedAt)),
						b.Li().R(
							b.Span().T("Phase: "),
							b.Span("id", "phase-"+html.EscapeString(row.ID), "class", "phase phase-"+row.Phase).T(row.Phase),
						),
					),
				)
			}
		}),
	)
	return
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func ago(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}
