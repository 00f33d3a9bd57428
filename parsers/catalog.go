// This is the parser for the catalog's service endpoint.
// The relay itself never parses anything; this is only used to summarize probes.

package parsers

import (
	"encoding/json"
	"strings"

	"github.com/hermitpopcorn/catalog-relay/types"
)

// Parses a catalog service listing into an array of CatalogEntry.
// An empty body counts as an empty listing.
func ParseCatalog(body string) ([]types.CatalogEntry, error) {
	entries := make([]types.CatalogEntry, 0)

	if strings.TrimSpace(body) == "" {
		return entries, nil
	}

	err := json.Unmarshal([]byte(body), &entries)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
