package web

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"postalgic/web/api"
	"postalgic/web/pages"
)

func setupRoutes(s *rweb.Server, sync *api.SyncAPI) {
	s.Get("/", func(ctx rweb.Context) error {
		reqCtx, cancel := api.RequestContext()
		defer cancel()
		page, err := statusPage(reqCtx, sync)
		if err != nil {
			logger.LogErr(err, "failed to load status page")
			return ctx.WriteHTML("<h1>Status unavailable</h1>")
		}
		return ctx.WriteHTML(page.Render())
	})

	s.Get("/api/v1/health", api.Health)

	s.Get("/api/v1/blogs", sync.ListBlogs)
	s.Get("/api/v1/blogs/:id/sync/status", sync.GetStatus)
	s.Get("/api/v1/blogs/:id/sync/check", sync.CheckForUpdates)
	s.Post("/api/v1/blogs/:id/sync/pull", sync.Pull)
	s.Put("/api/v1/blogs/:id/sync/enabled", sync.SetSyncEnabled)
	s.Post("/api/v1/blogs/:id/publish", sync.Publish)
	s.Post("/api/v1/sync/import", sync.Import)
}

func statusPage(ctx context.Context, sync *api.SyncAPI) (pages.Status, error) {
	page := pages.Status{Title: "Postalgic"}
	blogs, err := sync.Store.Blogs(ctx)
	if err != nil {
		return page, err
	}
	for _, b := range blogs {
		st, err := sync.Status(ctx, b.ID)
		if err != nil {
			return page, err
		}
		page.Blogs = append(page.Blogs, pages.BlogRow{
			ID:                st.BlogID,
			Name:              b.Name,
			SyncEnabled:       st.SyncEnabled,
			RemoteURL:         st.RemoteURL,
			LastSyncedVersion: st.LastSyncedVersion,
			LastSyncedAt:      st.LastSyncedAt,
			LastPublishedAt:   st.LastPublishedAt,
			Phase:             string(st.Phase),
		})
	}
	return page, nil
}
