package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrDuplicateHost = errors.New("redirect already exists for this host")

var validate = validator.New()

func (m Mapping) Validate() error {
	return validate.Struct(m)
}

// Empty returns a fresh document with no pages.
func Empty() []byte {
	data, _ := json.Marshal(Document{State: Config{Pages: []Mapping{}}})
	return data
}

// Decode parses the whole document. Malformed or absent pages decode as an
// empty list so the editing commands can always repair the document.
func Decode(raw []byte) (Document, error) {
	var doc Document
	raw = ensureDocument(raw)
	if err := json.Unmarshal(raw, &doc); err != nil {
		doc = Document{}
	}
	pages, err := Pages(raw)
	if err != nil && !errors.Is(err, ErrMalformedConfig) {
		return Document{}, err
	}
	doc.State.Pages = pages
	if doc.State.Pages == nil {
		doc.State.Pages = []Mapping{}
	}
	return doc, nil
}

// AddPage appends m to the document. A host that already has a redirect is
// refused rather than replaced.
func AddPage(raw []byte, m Mapping) ([]byte, error) {
	m.MatchHost = strings.TrimSpace(m.MatchHost)
	m.DestinationHost = strings.TrimSpace(m.DestinationHost)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	raw, err := ensurePages(raw)
	if err != nil {
		return nil, err
	}
	pages, err := Pages(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := Lookup(pages, m.MatchHost); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateHost, m.MatchHost)
	}

	return sjson.SetBytes(raw, pagesPath+".-1", m)
}

// RemovePage drops every page redirecting to destination and reports how
// many were removed.
func RemovePage(raw []byte, destination string) ([]byte, int, error) {
	raw, err := ensurePages(raw)
	if err != nil {
		return nil, 0, err
	}
	pages, err := Pages(raw)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]Mapping, 0, len(pages))
	for _, page := range pages {
		if page.DestinationHost == destination {
			continue
		}
		kept = append(kept, page)
	}

	out, err := sjson.SetBytes(raw, pagesPath, kept)
	if err != nil {
		return nil, 0, err
	}
	return out, len(pages) - len(kept), nil
}

func SetActivated(raw []byte, activated bool) ([]byte, error) {
	return sjson.SetBytes(ensureDocument(raw), "state.activated", activated)
}

func SetCurrentTab(raw []byte, tabURL string) ([]byte, error) {
	return sjson.SetBytes(ensureDocument(raw), "state.currentTabUrl", tabURL)
}

func ensureDocument(raw []byte) []byte {
	if len(raw) == 0 || !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Empty()
	}
	return raw
}

func ensurePages(raw []byte) ([]byte, error) {
	raw = ensureDocument(raw)
	if gjson.GetBytes(raw, pagesPath).IsArray() {
		return raw, nil
	}
	return sjson.SetBytes(raw, pagesPath, []Mapping{})
}
