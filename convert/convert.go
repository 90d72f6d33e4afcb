// Package convert turns a terminal distilled document into records using
// the extraction schema embedded in it:
//
//	<script type="application/json">
//	{"rows": "ul.items > li",
//	 "columns": [
//	   {"name": "title", "selector": "a"},
//	   {"name": "link", "selector": "a", "attribute": "href"},
//	   {"name": "tags", "selector": ".tag", "kind": "list"}]}
//	</script>
package convert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// KindList collects every matching element of a column.
const KindList = "list"

// Schema is the row/column extraction schema.
type Schema struct {
	Rows    string   `json:"rows"`
	Columns []Column `json:"columns"`
}

// Column extracts one value (or a list of values) from each row.
type Column struct {
	Name      string `json:"name"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// Record is one converted row. Values are string or []string.
type Record map[string]any

// FindSchema returns the schema embedded in doc, or nil when the document
// carries none.
func FindSchema(doc *goquery.Document) (*Schema, error) {
	snippet := doc.Find(`script[type="application/json"]`).First()
	if snippet.Length() == 0 {
		return nil, nil
	}
	var s Schema
	if err := json.Unmarshal([]byte(snippet.Text()), &s); err != nil {
		return nil, fmt.Errorf("convert: schema: %w", err)
	}
	return &s, nil
}

// Convert extracts records from a distilled document. A document without a
// schema yields no records and no error.
func Convert(distilled string) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(distilled))
	if err != nil {
		return nil, fmt.Errorf("convert: parse: %w", err)
	}
	schema, err := FindSchema(doc)
	if err != nil || schema == nil {
		return nil, err
	}
	return schema.Apply(doc)
}

// Apply runs the schema over doc. Rows without any populated column are
// dropped.
func (s *Schema) Apply(doc *goquery.Document) (records []Record, err error) {
	// cascadia panics are not expected, but a bad selector must never take
	// the session down with it.
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("convert: %v", r)
		}
	}()

	if s.Rows == "" {
		return nil, fmt.Errorf("convert: schema has no rows selector")
	}
	rowSel, err := compile(s.Rows)
	if err != nil {
		return nil, err
	}

	colSels := make([]cascadia.Selector, len(s.Columns))
	for i, col := range s.Columns {
		if col.Name == "" || col.Selector == "" {
			continue
		}
		if colSels[i], err = compile(col.Selector); err != nil {
			return nil, err
		}
	}

	records = []Record{}
	doc.FindMatcher(rowSel).Each(func(_ int, row *goquery.Selection) {
		rec := Record{}
		for i, col := range s.Columns {
			if colSels[i] == nil {
				continue
			}
			if col.Kind == KindList {
				values := []string{}
				row.FindMatcher(colSels[i]).Each(func(_ int, item *goquery.Selection) {
					values = append(values, extract(item, col.Attribute))
				})
				rec[col.Name] = values
				continue
			}
			item := row.FindMatcher(colSels[i]).First()
			if item.Length() > 0 {
				rec[col.Name] = extract(item, col.Attribute)
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	})
	return records, nil
}

// Safe converts and swallows every failure into no records.
func Safe(distilled string, logger *slog.Logger) []Record {
	if logger == nil {
		logger = slog.Default()
	}
	records, err := Convert(distilled)
	if err != nil {
		logger.Error("convert: conversion failed", "error", err)
		return nil
	}
	if records != nil {
		logger.Info("convert: conversion done", "records", len(records))
	}
	return records
}

// compile rejects selectors goquery would silently treat as matching nothing.
func compile(sel string) (cascadia.Selector, error) {
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("convert: selector %q: %w", sel, err)
	}
	return m, nil
}

// extract returns the trimmed attribute value, or the element's text with
// every text node stripped and concatenated.
func extract(item *goquery.Selection, attribute string) string {
	if attribute != "" {
		v, _ := item.Attr(attribute)
		return strings.TrimSpace(v)
	}
	var b strings.Builder
	for _, n := range item.Nodes {
		strippedText(&b, n)
	}
	return b.String()
}

func strippedText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(strings.TrimSpace(n.Data))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		strippedText(b, c)
	}
}
