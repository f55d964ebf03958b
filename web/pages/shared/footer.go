package shared

import "github.com/rohanthewiz/element"

type Footer struct{}

func (f Footer) Render(b *element.Builder) any {
	b.Footer().R(
		b.P().T(`Progress streams from <code>/events</code>. API under <code>/api/v1</code>.`),
	)
	return nil
}
