// Package shared contains components used by every page.
package shared

// Page carries what every page shows around its content.
// Embed it to get a Banner and a Footer.
type Page struct {
	Title string
}

func (p Page) Banner() Banner {
	return Banner{Title: p.Title}
}

func (p Page) Footer() Footer {
	return Footer{}
}
