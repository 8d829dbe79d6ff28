// Package index keeps a SQLite table of which chunks hold which room IDs, as
// of each region's last save. It lets callers find a room's chunks without
// loading every region of a world.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/OCharnyshevich/roomguard/internal/server/world"
)

// SQLiteIndex implements world.RoomIndex.
type SQLiteIndex struct {
	db *sql.DB
}

var _ world.RoomIndex = (*SQLiteIndex)(nil)

// Open opens or creates the index database at path.
func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty index path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("index pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_rooms (
			world TEXT NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			room INTEGER NOT NULL,
			PRIMARY KEY (world, cx, cz, room)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_rooms_room ON chunk_rooms(world, room);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_rooms_region ON chunk_rooms(world, rx, rz);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("index schema: %w", err)
		}
	}
	return nil
}

// RecordRegion replaces everything known about region (rx, rz) of world with
// chunks, in one transaction.
func (s *SQLiteIndex) RecordRegion(ctx context.Context, worldName string, rx, rz int, chunks []world.ChunkRooms) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_rooms WHERE world=? AND rx=? AND rz=?`, worldName, rx, rz); err != nil {
		return fmt.Errorf("clear region (%d,%d): %w", rx, rz, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_rooms(world,rx,rz,cx,cz,room) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		for _, room := range c.Rooms {
			if _, err := stmt.ExecContext(ctx, worldName, rx, rz, c.Chunk.X, c.Chunk.Z, int64(room)); err != nil {
				return fmt.Errorf("insert chunk (%d,%d) room %d: %w", c.Chunk.X, c.Chunk.Z, room, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ChunksForRoom returns the chunks of world that held roomID, sorted by X then Z.
func (s *SQLiteIndex) ChunksForRoom(ctx context.Context, worldName string, roomID uint32) ([]world.ChunkPos, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cx, cz FROM chunk_rooms WHERE world=? AND room=? ORDER BY cx, cz`, worldName, int64(roomID))
	if err != nil {
		return nil, fmt.Errorf("query room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []world.ChunkPos
	for rows.Next() {
		var p world.ChunkPos
		if err := rows.Scan(&p.X, &p.Z); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ForgetWorld drops every row of worldName. Used after its region files are
// replaced wholesale.
func (s *SQLiteIndex) ForgetWorld(ctx context.Context, worldName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_rooms WHERE world=?`, worldName); err != nil {
		return fmt.Errorf("forget world %s: %w", worldName, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
