// internal/archive/sqlite.go
//
// SQLite archive for session checkpoints and finished games.
// Responsibilities:
//   - Opening SQLite with safe defaults (WAL, busy timeout, foreign keys).
//   - Applying the embedded migrations (idempotent, recorded in _migrations).
//   - Keeping the newest checkpoint per session; older revisions are ignored.
//     A session is its code plus creation time, since codes are reused once
//     a session has been pruned.
//   - Recording one result row per finished game.
//
// The archive is write-mostly. Live play never reads from it; it only serves
// lookups of sessions that are no longer in memory and the results listing.

package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/game"
	"github.com/robalobadob/mafia/server/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Result is a finished game.
type Result struct {
	Code       string      `db:"code" json:"code"`
	GameNumber int         `db:"game_number" json:"gameNumber"`
	Winner     game.Winner `db:"winner" json:"winner"`
	Players    int         `db:"players" json:"players"`
	EndedAt    time.Time   `db:"ended_at" json:"endedAt"`
}

// DB is the archive handle.
type DB struct {
	db *sqlx.DB
}

// Open opens (and creates if missing) the SQLite file at dsn and migrates it.
func Open(dsn string) (*DB, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (a *DB) Close() error { return a.db.Close() }

// migrate applies migrations/*.sql in lexical order, each in its own
// transaction, skipping those already recorded.
func migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	var files []string
	if err := fs.WalkDir(migrations, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		var done int
		err := db.Get(&done, `SELECT 1 FROM _migrations WHERE name=?`, f)
		if err == nil {
			log.Debug().Str("migration", f).Msg("already applied")
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}

		body, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}

		tx, err := db.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, f); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f, err)
		}
		log.Info().Str("migration", f).Msg("applied")
	}
	return nil
}

// Checkpoint stores cp unless a newer revision of the same session (code and
// creation time) is already stored. A checkpoint carrying a winner also records the result.
func (a *DB) Checkpoint(ctx context.Context, cp store.Checkpoint) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO sessions (code, created_at, revision, phase, game_number, winner, players, data, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(code, created_at) DO UPDATE SET
            revision    = excluded.revision,
            phase       = excluded.phase,
            game_number = excluded.game_number,
            winner      = excluded.winner,
            players     = excluded.players,
            data        = excluded.data,
            updated_at  = excluded.updated_at
        WHERE excluded.revision > sessions.revision`,
		cp.Code, cp.CreatedAt.UTC(), cp.Revision, string(cp.Phase), cp.GameNumber, string(cp.Winner), cp.Players, cp.Data, cp.At,
	); err != nil {
		return fmt.Errorf("upsert session %s: %w", cp.Code, err)
	}

	if cp.Winner != game.WinnerNone {
		if _, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO game_results (code, created_at, game_number, winner, players, ended_at)
            VALUES (?, ?, ?, ?, ?, ?)`,
			cp.Code, cp.CreatedAt.UTC(), cp.GameNumber, string(cp.Winner), cp.Players, cp.At,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", cp.Code, err)
		}
	}
	return tx.Commit()
}

// Load decodes the newest stored checkpoint of the latest session to use
// code.
func (a *DB) Load(ctx context.Context, code string) (*game.Session, error) {
	var data []byte
	err := a.db.GetContext(ctx, &data, `
        SELECT data FROM sessions WHERE code=?
        ORDER BY created_at DESC LIMIT 1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrSessionNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return game.DecodeSession(data)
}

// RecentResults lists finished games, newest first. Default limit is 20.
func (a *DB) RecentResults(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	out := make([]Result, 0, limit)
	if err := a.db.SelectContext(ctx, &out, `
        SELECT code, game_number, winner, players, ended_at
        FROM game_results
        ORDER BY ended_at DESC, code ASC
        LIMIT ?`, limit,
	); err != nil {
		return nil, err
	}
	return out, nil
}
