package shared

import "github.com/rohanthewiz/element"

// Banner is the page header.
type Banner struct {
	Title string
}

func (b Banner) Render(builder *element.Builder) any {
	builder.Header().R(
		builder.H1().R(
			builder.A("href", "/", "style", "color:inherit;text-decoration:none").T(b.Title),
		),
	)
	return nil
}
