package render

import (
	"bytes"
	"html/template"
)

// Example is a link on the home page.
type Example struct {
	Title    string
	Location string
}

// Extraction examples need no sign-in.
var Extraction = []Example{
	{"NPR Headlines", "text.npr.org"},
	{"Slashdot: Most Discussed", "technology.slashdot.org"},
	{"ESPN College Football Schedule", "espn.com/college-football/schedule"},
	{"NBA Key Dates", "nba.com/news/key-dates"},
	{"NYT Best Sellers", "www.nytimes.com/books/best-sellers"},
}

// SignIn examples walk through a sign-in flow first.
var SignIn = []Example{
	{"BBC Saved Articles", "bbc.com/saved"},
	{"Goodreads Bookshelf", "goodreads.com/signin"},
	{"Amazon Browsing History", "amazon.com/gp/history"},
	{"Gofood Order History", "gofood.co.id/en/orders"},
	{"eBird Life List", "ebird.org/lifelist"},
	{"Agoda Booking History", "agoda.com/account/bookings.html"},
	{"Wayfair Order History", "www.wayfair.com/session/secure/account/order_search.php"},
}

var homeTmpl = template.Must(template.New("home").Parse(`
<p>Try these extraction examples:</p>
<ul>{{range .Extraction}}<li><a href="/start?location={{.Location}}" target="_blank">{{.Title}}</a></li>{{end}}</ul>
<p>or explore these examples that require sign-in:</p>
<ul>{{range .SignIn}}<li><a href="/start?location={{.Location}}" target="_blank">{{.Title}}</a></li>{{end}}</ul>
`))

// Home renders the landing page.
func (r *Renderer) Home() (string, error) {
	var buf bytes.Buffer
	if err := homeTmpl.Execute(&buf, struct{ Extraction, SignIn []Example }{Extraction, SignIn}); err != nil {
		return "", err
	}
	return r.Page(DefaultTitle, "", buf.String())
}
