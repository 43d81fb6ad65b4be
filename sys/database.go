package sys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS play_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			requester TEXT NOT NULL,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_guild ON play_history(guild_id, played_at)`,
	}
	for _, q := range tableQueries {
		if _, err := DB.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		_ = DB.Close()
	}
}

type PlayRecord struct {
	Title     string
	URL       string
	Requester string
	PlayedAt  time.Time
}

// AddPlayRecord stores one started track for a guild.
func AddPlayRecord(ctx context.Context, guildID string, rec *PlayRecord) error {
	_, err := DB.ExecContext(ctx,
		`INSERT INTO play_history (guild_id, title, url, requester) VALUES (?, ?, ?, ?)`,
		guildID, rec.Title, rec.URL, rec.Requester,
	)
	return err
}

// GetRecentPlays returns the most recent tracks started in a guild, newest first.
func GetRecentPlays(ctx context.Context, guildID string, limit int) ([]*PlayRecord, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT title, url, requester, played_at FROM play_history
		 WHERE guild_id = ? ORDER BY played_at DESC, id DESC LIMIT ?`,
		guildID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PlayRecord
	for rows.Next() {
		rec := &PlayRecord{}
		if err := rows.Scan(&rec.Title, &rec.URL, &rec.Requester, &rec.PlayedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPlayCount returns how many tracks a guild has ever started.
func GetPlayCount(ctx context.Context, guildID string) (int, error) {
	var count int
	err := DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM play_history WHERE guild_id = ?`, guildID,
	).Scan(&count)
	return count, err
}
