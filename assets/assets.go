// Package assets embeds the viewer front end.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

var (
	//go:embed index.html.tpl
	indexTemplate string
	//go:embed style.css
	styleCSS string
	//go:embed script.js
	scriptJS string
	//go:embed favicon.svg
	faviconSVG string
)

type pageData struct {
	CSS string
	JS  string
	SVG string
}

// Favicon returns the minified SVG icon.
func Favicon() ([]byte, error) {
	out, err := newMinifier().String("image/svg+xml", faviconSVG)
	return []byte(out), err
}

// Index renders the viewer page with inlined, minified styles and script.
func Index() ([]byte, error) {
	m := newMinifier()

	cssMin, err := m.String("text/css", styleCSS)
	if err != nil {
		return nil, err
	}
	jsMin, err := m.String("text/javascript", scriptJS)
	if err != nil {
		return nil, err
	}
	svgMin, err := m.String("image/svg+xml", faviconSVG)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pageData{CSS: cssMin, JS: jsMin, SVG: svgMin}); err != nil {
		return nil, err
	}

	out, err := m.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, err
	}

	return out, nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}
