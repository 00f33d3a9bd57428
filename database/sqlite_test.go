package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hermitpopcorn/catalog-relay/types"
)

func openTestDatabase(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := OpenSQLiteDatabase(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal("Failed opening database:", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestOpenWithoutFile(t *testing.T) {
	_, err := OpenSQLiteDatabase("")
	if err == nil {
		t.Error("Expected an error when no database file is given")
	}
}

func TestSaveAndGetFetches(t *testing.T) {
	db := openTestDatabase(t)

	_, err := db.GetLastFetch("spinnaker")
	var notRecorded *NoFetchRecordedError
	if !errors.As(err, &notRecorded) {
		t.Fatal("Expected NoFetchRecordedError on an empty history, got", err)
	}

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	records := []types.FetchRecord{
		{Service: "spinnaker", Url: "http://localhost:8500/v1/catalog/service/spinnaker", StatusCode: 200, Size: 2, Entries: 0, Checksum: "aaa", FetchedAt: base},
		{Service: "spinnaker", Url: "http://localhost:8500/v1/catalog/service/spinnaker", StatusCode: 200, Size: 18, Entries: 1, Checksum: "bbb", FetchedAt: base.Add(time.Minute)},
		{Service: "other", Url: "http://localhost:8500/v1/catalog/service/other", Error: "connection refused", Entries: -1, FetchedAt: base.Add(2 * time.Minute)},
	}
	for i := range records {
		if err := db.SaveFetch(&records[i]); err != nil {
			t.Fatal("Failed saving record:", err)
		}
	}

	last, err := db.GetLastFetch("spinnaker")
	if err != nil {
		t.Fatal(err)
	}
	if last.Checksum != "bbb" || last.Entries != 1 || last.Size != 18 || !last.FetchedAt.Equal(base.Add(time.Minute)) {
		t.Error("Wrong last record", last)
	}

	history, err := db.GetFetches("spinnaker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatal("Size mismatch: expected 2, found", len(history))
	}
	if history[0].Checksum != "bbb" || history[1].Checksum != "aaa" {
		t.Error("History is not ordered newest first", history)
	}

	failed, err := db.GetLastFetch("other")
	if err != nil {
		t.Fatal(err)
	}
	if !failed.Failed() || failed.Error != "connection refused" || failed.Entries != -1 {
		t.Error("Wrong failed record", failed)
	}
}

func TestFeedChannels(t *testing.T) {
	db := openTestDatabase(t)

	_, err := db.GetFeedChannel("guild")
	var noChannel *NoFeedChannelSetError
	if !errors.As(err, &noChannel) {
		t.Fatal("Expected NoFeedChannelSetError, got", err)
	}

	if err := db.SetFeedChannel("guild", "channel-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFeedChannel("guild", "channel-2"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFeedChannel("another", "channel-3"); err != nil {
		t.Fatal(err)
	}

	channel, err := db.GetFeedChannel("guild")
	if err != nil {
		t.Fatal(err)
	}
	if channel != "channel-2" {
		t.Error("Expected the feed channel to be updated, found", channel)
	}

	servers, err := db.GetServers()
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Error("Size mismatch: expected 2 servers, found", len(servers))
	}
}
