package parsers

import (
	"net"
	"strconv"

	"github.com/hermitpopcorn/catalog-relay/types"
)

// Returns the host:port a catalog entry advertises.
// Services registered without their own address inherit the node's address.
func ServiceEndpoint(entry types.CatalogEntry) string {
	host := entry.ServiceAddress
	if host == "" {
		host = entry.Address
	}
	if entry.ServicePort == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(entry.ServicePort))
}
