package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bwmarrin/discordgo"
	"github.com/hermitpopcorn/catalog-relay/database"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fetchErrorExit       = "exit"
	fetchErrorBadGateway = "bad-gateway"
)

type configuration struct {
	LogLevel string `toml:"log_level"`
	Database string `toml:"database"`

	Catalog  catalogConfiguration  `toml:"catalog"`
	Relay    relayConfiguration    `toml:"relay"`
	Probe    probeConfiguration    `toml:"probe"`
	Discord  discordConfiguration  `toml:"discord"`
	NewRelic newRelicConfiguration `toml:"newrelic"`
}

type catalogConfiguration struct {
	Address    string `toml:"address"`
	Service    string `toml:"service"`
	Datacenter string `toml:"datacenter"`
	Tag        string `toml:"tag"`
	Token      string `toml:"token"`
	Timeout    string `toml:"timeout"` // Empty means the request may block forever
}

type relayConfiguration struct {
	Address      string `toml:"address"`
	OnFetchError string `toml:"on_fetch_error"` // "exit" or "bad-gateway"
}

type probeConfiguration struct {
	OnStartup bool   `toml:"on_startup"`
	Schedule  string `toml:"schedule"` // Cron expression; empty disables scheduled probes
}

type discordConfiguration struct {
	Token string `toml:"token"`
}

type newRelicConfiguration struct {
	AppName string `toml:"app_name"`
	License string `toml:"license"`
}

// The values used when there is no config file, or for keys the file leaves out.
func defaultConfiguration() configuration {
	return configuration{
		LogLevel: "info",
		Catalog: catalogConfiguration{
			Address: "http://localhost:8500",
			Service: "spinnaker",
		},
		Relay: relayConfiguration{
			Address:      "localhost:3000",
			OnFetchError: fetchErrorExit,
		},
		Probe: probeConfiguration{
			OnStartup: true,
		},
		NewRelic: newRelicConfiguration{
			AppName: "catalog-relay",
		},
	}
}

// Reads the config file on top of the defaults. A missing file is not an error.
func loadConfiguration(file string) (configuration, error) {
	config := defaultConfiguration()

	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return config, err
	}

	if _, err := toml.DecodeFile(file, &config); err != nil {
		return config, fmt.Errorf("reading %s: %w", file, err)
	}

	return config, config.validate()
}

func (c *configuration) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if _, err := catalogUrl(c.Catalog); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	if _, err := c.Catalog.timeout(); err != nil {
		return fmt.Errorf("catalog.timeout: %w", err)
	}

	if c.Relay.OnFetchError != fetchErrorExit && c.Relay.OnFetchError != fetchErrorBadGateway {
		return fmt.Errorf("relay.on_fetch_error: expected %q or %q, got %q", fetchErrorExit, fetchErrorBadGateway, c.Relay.OnFetchError)
	}

	if c.Probe.Schedule != "" {
		if _, err := cron.ParseStandard(c.Probe.Schedule); err != nil {
			return fmt.Errorf("probe.schedule: %w", err)
		}
	}

	return nil
}

func (c catalogConfiguration) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
}

// Builds the outbound client. Requests made with a context carrying a
// New Relic transaction are recorded as external segments.
func newCatalogClient(catalog catalogConfiguration) *http.Client {
	timeout, _ := catalog.timeout()
	return &http.Client{
		Timeout:   timeout,
		Transport: newrelic.NewRoundTripper(http.DefaultTransport),
	}
}

func newRelicApplication(config newRelicConfiguration) (*newrelic.Application, error) {
	if config.License == "" {
		return nil, nil
	}

	return newrelic.NewApplication(
		newrelic.ConfigAppName(config.AppName),
		newrelic.ConfigLicense(config.License),
		newrelic.ConfigAppLogForwardingEnabled(false),
	)
}

func main() {
	config, err := loadConfiguration("config.toml")
	setupLogging(config.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Prepare the history database
	var db database.Database
	if config.Database != "" {
		sqlite, err := database.OpenSQLiteDatabase(config.Database)
		if err != nil {
			log.Fatal().Err(err).Str("file", config.Database).Msg("Cannot open database")
		}
		db = sqlite
		defer db.Close()
	}

	fetcher, err := newCatalogFetcher(config.Catalog, newCatalogClient(config.Catalog))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid catalog configuration")
	}

	app, err := newRelicApplication(config.NewRelic)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot start New Relic application")
	}
	if app != nil {
		defer app.Shutdown(10 * time.Second)
	}

	// Discord is optional; without it changes are only logged
	var session *discordgo.Session
	var commands []*discordgo.ApplicationCommand
	var sender messageSender
	if config.Discord.Token != "" {
		session, err = discordgo.New("Bot " + config.Discord.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot create Discord session")
		}
		if err = session.Open(); err != nil {
			log.Fatal().Err(err).Msg("Cannot open Discord session")
		}
		defer session.Close()

		sender = session
	}

	catalogGofer := newGofer(config.Catalog.Service, fetcher, db, sender)

	if session != nil {
		commands, err = registerCommands(session, db, catalogGofer)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot register Discord commands")
		}
		defer removeCommands(session, commands)
	}

	// The warm-up probe doubles as a reachability check: the relay does not start
	// against a catalog it cannot reach.
	if config.Probe.OnStartup {
		record, err := catalogGofer.probe(context.Background())
		if err != nil {
			log.Fatal().Err(err).Str("url", fetcher.url).Msg("Catalog is not reachable")
		}
		log.Info().Int("status", record.StatusCode).Int("entries", record.Entries).Msg("Catalog is reachable")
	}

	if config.Probe.Schedule != "" {
		scheduler, err := startGoferSchedule(catalogGofer, config.Probe.Schedule)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot schedule probes")
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	relayHandler := newRelay(fetcher, config.Relay.OnFetchError == fetchErrorExit)
	server := newRelayServer(config.Relay.Address, newRelayRouter(relayHandler, app))
	go func() {
		log.Info().Str("address", config.Relay.Address).Str("catalog", fetcher.url).Msg("Relay listening")
		if err := startRelay(server); err != nil {
			log.Fatal().Err(err).Msg("Relay stopped")
		}
	}()

	// Exit on Ctrl+C
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	log.Info().Msg("Press Ctrl+C to exit")
	<-stop

	log.Info().Msg("Goodbye...")
	server.Close()
}
