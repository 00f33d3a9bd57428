// This file handles Discord interactions.

package main

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/hermitpopcorn/catalog-relay/database"
	"github.com/hermitpopcorn/catalog-relay/types"
	"github.com/rs/zerolog/log"
)

// Helper functions
// Send a normal message as response
func sendResponse(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: message,
		},
	})
}

// Send a message that only the user can read as response
func sendEphemeralResponse(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// Acknowledge the command now and fill in the answer later with updateResponse
func sendDeferredEphemeralResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

// Update a previous message that was sent as a response
func updateResponse(s *discordgo.Session, i *discordgo.Interaction, message string) {
	s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content: &message,
	})
}

func canManageChannels(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageChannels != 0
}

// The catalog-status answer: the last fetch, and where this guild gets its announcements.
func describeStatus(db database.Database, guildId string, service string, record *types.FetchRecord) string {
	status := "[" + service + "] " + describeFetch(record)
	if db == nil || guildId == "" {
		return status
	}

	channel, err := db.GetFeedChannel(guildId)
	if err != nil {
		var noChannel *database.NoFeedChannelSetError
		if !errors.As(err, &noChannel) {
			log.Warn().Err(err).Str("guild", guildId).Msg("Could not read feed channel")
		}
		return status + "\nNo feed channel is set for this server."
	}

	return status + "\nChanges are announced in <#" + channel + ">."
}

// Setup commands
func registerCommands(session *discordgo.Session, db database.Database, g *gofer) ([]*discordgo.ApplicationCommand, error) {
	commands := getCommands()
	commandHandlers := getCommandHandlers(db, g)

	// Match the commands and the handlers
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if handler, ok := commandHandlers[i.ApplicationCommandData().Name]; ok {
			handler(s, i)
		}
	})

	// Register the commands
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, command := range commands {
		cmd, err := session.ApplicationCommandCreate(session.State.User.ID, "", command)
		if err != nil {
			return registeredCommands, err
		}
		registeredCommands = append(registeredCommands, cmd)
	}

	return registeredCommands, nil
}

func getCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "set-as-feed-channel",
			Description: "Set current channel as the feed channel for catalog changes. Requires channel management permissions.",
		},
		{
			Name:        "catalog-status",
			Description: "Show the result of the last catalog probe.",
		},
		{
			Name:        "probe",
			Description: "Probe the catalog right now. Requires channel management permissions.",
		},
	}
}

func getCommandHandlers(db database.Database, g *gofer) map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate){
		// Set a channel as the guild's feed channel (also saves the guild into the database)
		"set-as-feed-channel": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			if !canManageChannels(i) {
				sendEphemeralResponse(s, i, "You do not have the permission to set the feed channel.")
				return
			}

			if db == nil {
				sendEphemeralResponse(s, i, "Feed channels need a database, and none is configured.")
				return
			}

			err := db.SetFeedChannel(i.GuildID, i.ChannelID)
			if err != nil {
				log.Error().Err(err).Str("guild", i.GuildID).Msg("Failed setting feed channel")
				sendEphemeralResponse(s, i, "Something went wrong when setting the feed channel...")
				return
			}
			sendResponse(s, i, "This channel has been set as the feed channel.")
		},

		"catalog-status": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			sendEphemeralResponse(s, i, describeStatus(db, i.GuildID, g.service, g.previous()))
		},

		// Manually trigger the gofer
		"probe": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			if !canManageChannels(i) {
				sendEphemeralResponse(s, i, "You do not have the permission to probe the catalog.")
				return
			}

			// The catalog may be slow, so answer first and report when done
			sendDeferredEphemeralResponse(s, i)
			go func() {
				record, err := g.probe(context.Background())
				if err != nil {
					var preoccupied *PreoccupiedError
					if errors.As(err, &preoccupied) {
						updateResponse(s, i.Interaction, "A probe is currently in progress.")
						return
					}
				}
				updateResponse(s, i.Interaction, "["+g.service+"] "+describeFetch(record))
			}()
		},
	}
}

// Unregister commands
func removeCommands(session *discordgo.Session, commands []*discordgo.ApplicationCommand) {
	for _, command := range commands {
		err := session.ApplicationCommandDelete(session.State.User.ID, "", command.ID)
		if err != nil {
			log.Warn().Err(err).Str("command", command.Name).Msg("Cannot delete command")
		}
	}
}
