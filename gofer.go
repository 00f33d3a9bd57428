// Gofers are small processes that probe the catalog, record what they saw,
// and report when the listing changes.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/hermitpopcorn/catalog-relay/database"
	"github.com/hermitpopcorn/catalog-relay/parsers"
	"github.com/hermitpopcorn/catalog-relay/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// This is just a custom error that's thrown whenever
// a probe is requested while another one is still running.
type PreoccupiedError struct{}

func (e *PreoccupiedError) Error() string {
	return "The gofer is not done fetching yet"
}

type gofer struct {
	service string
	fetcher *catalogFetcher
	db      database.Database // nil when no history is kept
	sender  messageSender     // nil when there is nobody to announce to

	busy sync.Mutex

	mutex sync.Mutex
	last  *types.FetchRecord
}

func newGofer(service string, fetcher *catalogFetcher, db database.Database, sender messageSender) *gofer {
	return &gofer{
		service: service,
		fetcher: fetcher,
		db:      db,
		sender:  sender,
	}
}

// Turns a fetch outcome into a history record.
func newFetchRecord(service string, url string, response *catalogResponse, fetchErr error, fetchedAt time.Time) types.FetchRecord {
	record := types.FetchRecord{
		Service:   service,
		Url:       url,
		Entries:   -1,
		FetchedAt: fetchedAt,
	}

	if fetchErr != nil {
		record.Error = fetchErr.Error()
		return record
	}

	sum := sha256.Sum256([]byte(response.Body))
	record.StatusCode = response.StatusCode
	record.Size = len(response.Body)
	record.Checksum = hex.EncodeToString(sum[:])

	entries, err := parsers.ParseCatalog(response.Body)
	if err == nil {
		record.Entries = len(entries)
		for _, entry := range entries {
			record.Endpoints = append(record.Endpoints, parsers.ServiceEndpoint(entry))
		}
	}

	return record
}

// Whether current differs from previous enough to be worth announcing.
// The first record ever seen is not a change.
func isChange(previous *types.FetchRecord, current *types.FetchRecord) bool {
	if previous == nil {
		return false
	}
	if previous.Failed() != current.Failed() {
		return true
	}
	if current.Failed() {
		return false
	}
	return previous.StatusCode != current.StatusCode || previous.Checksum != current.Checksum
}

// The record to compare the next probe against: the one kept in memory,
// or the newest one in the database right after startup.
func (g *gofer) previous() *types.FetchRecord {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.last != nil || g.db == nil {
		return g.last
	}

	record, err := g.db.GetLastFetch(g.service)
	if err != nil {
		var notRecorded *database.NoFetchRecordedError
		if !errors.As(err, &notRecorded) {
			log.Warn().Err(err).Msg("Could not read the last fetch record")
		}
		return nil
	}
	return record
}

func (g *gofer) remember(record *types.FetchRecord) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.last = record
}

// Fetches the catalog once, saves the result and announces changes.
// The returned error is the fetch error, if any; the record is returned either way.
func (g *gofer) probe(ctx context.Context) (*types.FetchRecord, error) {
	if !g.busy.TryLock() {
		return nil, &PreoccupiedError{}
	}
	defer g.busy.Unlock()

	response, fetchErr := g.fetcher.Fetch(ctx)
	record := newFetchRecord(g.service, g.fetcher.url, response, fetchErr, time.Now())

	previous := g.previous()
	g.remember(&record)

	if g.db != nil {
		// Try saving a few times in case the database is busy
		var err error
		for retry := 3; retry > 0; retry-- {
			if err = g.db.SaveFetch(&record); err == nil {
				break
			}
			log.Warn().Err(err).Int("remaining", retry-1).Msg("Failed saving fetch record")
			if retry > 1 {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}

	if isChange(previous, &record) {
		log.Info().
			Str("service", g.service).
			Str("checksum", record.Checksum).
			Int("entries", record.Entries).
			Str("error", record.Error).
			Msg("Catalog changed")

		if g.sender != nil && g.db != nil {
			if err := startAnnouncers(g.db, g.sender, previous, &record); err != nil {
				log.Warn().Err(err).Msg("Could not announce catalog change")
			}
		}
	}

	return &record, fetchErr
}

// Runs probes on a cron schedule. Runs that would overlap a running probe are skipped.
func startGoferSchedule(g *gofer, schedule string) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := scheduler.AddFunc(schedule, func() {
		record, err := g.probe(context.Background())
		if err != nil {
			log.Warn().Err(err).Str("service", g.service).Msg("Scheduled probe failed")
			return
		}
		log.Debug().Str("service", g.service).Int("status", record.StatusCode).Msg("Scheduled probe finished")
	})
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}
