// The functions in this package handles anything related to the database,
// be it querying for data or saving them.

package database

import (
	"database/sql"
	"errors"
	"os"
	"time"

	"github.com/hermitpopcorn/catalog-relay/types"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

type SQLiteDatabase struct {
	connection *sql.DB
}

// Opens a local SQLite database.
func OpenSQLiteDatabase(file string) (*SQLiteDatabase, error) {
	var db SQLiteDatabase

	if file == "" {
		return nil, errors.New("no database file specified")
	}

	if _, err := os.Stat(file); err != nil {
		created, err := os.Create(file)
		if err != nil {
			return nil, err
		}
		created.Close()
	}

	connection, err := sql.Open("sqlite3", "file:"+file)
	if err != nil {
		return nil, err
	}

	if err := connection.Ping(); err != nil {
		connection.Close()
		return nil, err
	}

	db.connection = connection

	if err := db.InitializeDatabase(); err != nil {
		connection.Close()
		return nil, err
	}

	// Prevent lock-up by "wrapping mutex around every DB access"
	// https://github.com/mattn/go-sqlite3/issues/274#issuecomment-191597862
	db.connection.SetMaxOpenConns(1)

	return &db, nil
}

func (db *SQLiteDatabase) Close() error {
	return db.connection.Close()
}

// Initializes the database.
// This creates the neccessary tables if they don't exist yet.
func (db *SQLiteDatabase) InitializeDatabase() error {
	_, err := db.connection.Exec(`CREATE TABLE IF NOT EXISTS 'Fetches' (
		'id'			INTEGER,
		'service'		VARCHAR(255) NOT NULL,
		'url'			VARCHAR(255) NOT NULL,
		'statusCode'	INTEGER NOT NULL DEFAULT 0,
		'size'			INTEGER NOT NULL DEFAULT 0,
		'entries'		INTEGER NOT NULL DEFAULT 0,
		'checksum'		VARCHAR(64) NOT NULL DEFAULT '',
		'error'			TEXT NOT NULL DEFAULT '',
		'fetchedAt'		DATETIME NOT NULL,
		PRIMARY KEY('id' AUTOINCREMENT)
	)`)
	if err != nil {
		return err
	}

	_, err = db.connection.Exec(`CREATE TABLE IF NOT EXISTS 'Servers' (
		'id'				INTEGER,
		'guildId'			VARCHAR(255) NOT NULL,
		'channelId'			VARCHAR(255),
		PRIMARY KEY('id' AUTOINCREMENT)
	)`)
	if err != nil {
		return err
	}

	return nil
}

// Saves a single probe result.
func (db *SQLiteDatabase) SaveFetch(record *types.FetchRecord) error {
	stmt, err := db.connection.Prepare(`
		INSERT INTO Fetches (service, url, statusCode, size, entries, checksum, error, fetchedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		record.Service,
		record.Url,
		record.StatusCode,
		record.Size,
		record.Entries,
		record.Checksum,
		record.Error,
		record.FetchedAt.UTC(),
	)
	if err != nil {
		return err
	}

	log.Debug().Str("service", record.Service).Str("checksum", record.Checksum).Msg("Saved fetch record")
	return nil
}

// Gets the most recent probe result of a service.
func (db *SQLiteDatabase) GetLastFetch(service string) (*types.FetchRecord, error) {
	records, err := db.GetFetches(service, 1)
	if err != nil {
		return nil, err
	}

	if len(records) < 1 {
		return nil, &NoFetchRecordedError{Service: service}
	}

	return &records[0], nil
}

// Gets up to limit probe results of a service, newest first.
func (db *SQLiteDatabase) GetFetches(service string, limit int) ([]types.FetchRecord, error) {
	var records []types.FetchRecord

	stmt, err := db.connection.Prepare(`
		SELECT service, url, statusCode, size, entries, checksum, error, fetchedAt
		FROM Fetches
		WHERE service = ?
		ORDER BY fetchedAt DESC, id DESC
		LIMIT ?
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.Query(service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var record types.FetchRecord
		var fetchedAt time.Time
		err = rows.Scan(
			&record.Service,
			&record.Url,
			&record.StatusCode,
			&record.Size,
			&record.Entries,
			&record.Checksum,
			&record.Error,
			&fetchedAt,
		)
		if err != nil {
			return nil, err
		}
		record.FetchedAt = fetchedAt
		records = append(records, record)
	}

	return records, rows.Err()
}

// Pairs a channel ID to a guild ID (sets the channel as the guild's feed channel).
func (db *SQLiteDatabase) SetFeedChannel(guildId string, channelId string) error {
	stmt, err := db.connection.Prepare("SELECT channelId FROM Servers WHERE guildId = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	check := stmt.QueryRow(guildId)
	var currentChannelId string
	err = check.Scan(&currentChannelId)
	if err == sql.ErrNoRows {
		// Insert new row if none found
		_, err := db.connection.Exec("INSERT INTO Servers (guildId, channelId) VALUES (?, ?)", guildId, channelId)
		return err
	}
	if err != nil {
		return err
	}

	// Do not write to db if it's the same
	if currentChannelId == channelId {
		return nil
	}

	_, err = db.connection.Exec("UPDATE Servers SET channelId = ? WHERE guildId = ?", channelId, guildId)
	return err
}

// Gets the guild's feed channel ID.
func (db *SQLiteDatabase) GetFeedChannel(guildId string) (string, error) {
	stmt, err := db.connection.Prepare("SELECT channelId FROM Servers WHERE guildId = ?")
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	check := stmt.QueryRow(guildId)
	var currentChannelId string
	err = check.Scan(&currentChannelId)
	if err == sql.ErrNoRows {
		return "", &NoFeedChannelSetError{}
	}
	if err != nil {
		return "", err
	}

	return currentChannelId, nil
}

// Gets all the guilds saved in the database.
// Guilds are saved into the database whenever it sets a channel as its feed channel.
func (db *SQLiteDatabase) GetServers() ([]types.Server, error) {
	var servers []types.Server

	rows, err := db.connection.Query("SELECT guildId, channelId FROM Servers WHERE channelId IS NOT NULL AND channelId != ''")
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	for rows.Next() {
		var server types.Server
		err = rows.Scan(&server.Identifier, &server.FeedChannelIdentifier)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}

	return servers, rows.Err()
}
