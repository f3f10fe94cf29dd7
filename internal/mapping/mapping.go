package mapping

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// DocumentKey is the store key holding the persisted Document.
const DocumentKey = "config-storage"

const pagesPath = "state.pages"

var ErrMalformedConfig = errors.New("malformed config")

// Mapping redirects media requests for MatchHost to DestinationHost.
// The JSON names follow the persisted page records.
type Mapping struct {
	MatchHost       string `json:"title" validate:"required,excludesall=/"`
	DestinationHost string `json:"url" validate:"required"`
}

type Config struct {
	Activated     bool      `json:"activated"`
	CurrentTabURL string    `json:"currentTabUrl"`
	Pages         []Mapping `json:"pages"`
}

// Document is the envelope stored under DocumentKey.
type Document struct {
	State   Config `json:"state"`
	Version int    `json:"version"`
}

// Pages extracts the mapping list from a persisted document. An absent
// document yields an empty list; a document without a pages array yields
// ErrMalformedConfig.
func Pages(raw []byte) ([]Mapping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: document is not valid JSON", ErrMalformedConfig)
	}

	pages := gjson.GetBytes(raw, pagesPath)
	if !pages.IsArray() {
		return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedConfig, pagesPath)
	}

	out := make([]Mapping, 0, len(pages.Array()))
	pages.ForEach(func(_, page gjson.Result) bool {
		out = append(out, Mapping{
			MatchHost:       page.Get("title").String(),
			DestinationHost: page.Get("url").String(),
		})
		return true
	})
	return out, nil
}

// Lookup returns the mapping whose match host equals host.
func Lookup(pages []Mapping, host string) (Mapping, bool) {
	for _, page := range pages {
		if page.MatchHost == host {
			return page, true
		}
	}
	return Mapping{}, false
}
