// The functions in this package handles anything related to the database,
// be it querying for data or saving them.

package database

import (
	"github.com/hermitpopcorn/catalog-relay/types"
)

// This error is thrown whenever a guild (Discord server)-related query is requested
// but it requires the guild to have set a feed channel and it has not done that yet.
type NoFeedChannelSetError struct{}

func (e *NoFeedChannelSetError) Error() string {
	return "The feed channel hasn't been set yet."
}

// This error is thrown when the history of a service is requested
// but no probe of that service has been saved yet.
type NoFetchRecordedError struct {
	Service string
}

func (e *NoFetchRecordedError) Error() string {
	return "No fetch has been recorded for " + e.Service + " yet."
}

type Database interface {
	SaveFetch(record *types.FetchRecord) error
	GetLastFetch(service string) (*types.FetchRecord, error)
	GetFetches(service string, limit int) ([]types.FetchRecord, error)
	GetServers() ([]types.Server, error)
	GetFeedChannel(guildId string) (string, error)
	SetFeedChannel(guildId string, channelId string) error
	Close() error
}
