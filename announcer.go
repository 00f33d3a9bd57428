// This file handles the announcing of catalog changes to guilds.

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hermitpopcorn/catalog-relay/database"
	"github.com/hermitpopcorn/catalog-relay/types"
	"github.com/rs/zerolog/log"
)

// The part of a Discord session the announcer needs.
type messageSender interface {
	ChannelMessageSend(channelID string, content string) (*discordgo.Message, error)
}

// One line summary of a single fetch record.
func describeFetch(record *types.FetchRecord) string {
	if record == nil {
		return "nothing recorded yet"
	}

	when := record.FetchedAt.UTC().Format(time.RFC3339)
	if record.Failed() {
		return fmt.Sprintf("unreachable at %s (%s)", when, record.Error)
	}

	entries := "unparsable listing"
	if record.Entries >= 0 {
		entries = fmt.Sprintf("%d entries", record.Entries)
	}

	return fmt.Sprintf("HTTP %d, %s, %d bytes at %s", record.StatusCode, entries, record.Size, when)
}

// The message sent to feed channels when the catalog changes.
func describeChange(previous *types.FetchRecord, current *types.FetchRecord) string {
	var builder strings.Builder

	switch {
	case current.Failed():
		fmt.Fprintf(&builder, "[%s] Catalog became unreachable", current.Service)
	case previous != nil && previous.Failed():
		fmt.Fprintf(&builder, "[%s] Catalog is reachable again", current.Service)
	default:
		fmt.Fprintf(&builder, "[%s] Catalog listing changed", current.Service)
	}

	builder.WriteString("\nBefore: " + describeFetch(previous))
	builder.WriteString("\nNow: " + describeFetch(current))
	if len(current.Endpoints) > 0 {
		builder.WriteString("\nEndpoints: " + strings.Join(current.Endpoints, ", "))
	}

	return builder.String()
}

// The "mother" announcer process.
// This gets the list of all registered guilds and sends the change to each of their feed channels.
func startAnnouncers(db database.Database, sender messageSender, previous *types.FetchRecord, current *types.FetchRecord) error {
	// Get the list of servers
	servers, err := db.GetServers()
	if err != nil {
		return err
	}

	message := describeChange(previous, current)

	// Run a parallel process for each server
	var waiter sync.WaitGroup
	for _, s := range servers {
		waiter.Add(1)

		go func(server types.Server) {
			defer waiter.Done()

			_, err := sender.ChannelMessageSend(server.FeedChannelIdentifier, message)
			if err != nil {
				log.Warn().Err(err).Str("guild", server.Identifier).Msg("Announcement failed")
				return
			}
			log.Debug().Str("guild", server.Identifier).Msg("Announced catalog change")
		}(s)
	}

	waiter.Wait()

	return nil
}
