package types

import "time"

// One probe of the catalog endpoint, as stored in the history database.
type FetchRecord struct {
	Service    string
	Url        string
	StatusCode int
	Size       int
	Entries    int // -1 when the body could not be parsed as a catalog
	Checksum   string
	Error      string
	FetchedAt  time.Time

	// host:port of every listed instance. Not stored in the history database.
	Endpoints []string
}

// Whether the probe failed before a response body was read.
func (r *FetchRecord) Failed() bool {
	return r.Error != ""
}

type Server struct {
	Identifier            string
	FeedChannelIdentifier string
}
