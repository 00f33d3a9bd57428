// This package contains declarations for types that are used in different packages

package types

// A single node/service pair as returned by the catalog's service endpoint.
// Only the fields the relay reports on are decoded; the raw body is what gets relayed.
type CatalogEntry struct {
	ID             string
	Node           string
	Address        string
	Datacenter     string
	ServiceID      string
	ServiceName    string
	ServiceAddress string
	ServicePort    int
	ServiceTags    []string
}
