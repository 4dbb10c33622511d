// Package storage provides SQLite-backed persistence for per-item price floors.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/repricer/internal/models"
	_ "modernc.org/sqlite"
)

var (
	ErrInvalidFloor    = errors.New("floor price must be greater than zero")
	ErrInvalidHashName = errors.New("market hash name must not be empty")
)

// Storage wraps a SQLite database holding the price floor table.
// Every mutation is committed before the call returns.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/repricer/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "repricer", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	// FULL fsyncs the WAL on every commit so an acknowledged write survives a crash.
	if _, err := db.Exec(`PRAGMA synchronous=FULL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_floors (
			market_hash_name TEXT PRIMARY KEY,
			min_price        INTEGER NOT NULL CHECK (min_price > 0),
			updated_at       INTEGER NOT NULL
		)`)
	return err
}

// GetFloor returns the floor for hashName and whether one is set.
func (s *Storage) GetFloor(hashName string) (models.Price, bool, error) {
	var p int64
	err := s.db.QueryRow(`SELECT min_price FROM price_floors WHERE market_hash_name = ?`, hashName).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get floor: %w", err)
	}
	return models.Price(p), true, nil
}

// SetFloor sets or replaces the floor for hashName.
func (s *Storage) SetFloor(hashName string, price models.Price) error {
	if hashName == "" {
		return ErrInvalidHashName
	}
	if price <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFloor, price)
	}
	_, err := s.db.Exec(`
		INSERT INTO price_floors (market_hash_name, min_price, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(market_hash_name) DO UPDATE SET
			min_price = excluded.min_price,
			updated_at = excluded.updated_at`,
		hashName, int64(price), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set floor: %w", err)
	}
	return nil
}

// RemoveFloor deletes the floor for hashName. Removing a missing floor is a no-op.
func (s *Storage) RemoveFloor(hashName string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM price_floors WHERE market_hash_name = ?`, hashName)
	if err != nil {
		return false, fmt.Errorf("failed to remove floor: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AllFloors returns every configured floor keyed by market hash name.
func (s *Storage) AllFloors() (map[string]models.Price, error) {
	rows, err := s.db.Query(`SELECT market_hash_name, min_price FROM price_floors`)
	if err != nil {
		return nil, fmt.Errorf("failed to query floors: %w", err)
	}
	defer rows.Close()

	floors := make(map[string]models.Price)
	for rows.Next() {
		var name string
		var p int64
		if err := rows.Scan(&name, &p); err != nil {
			return nil, fmt.Errorf("failed to scan floor: %w", err)
		}
		floors[name] = models.Price(p)
	}
	return floors, rows.Err()
}

// SeedFloors inserts floors that are not stored yet and returns how many were
// added. Existing rows win, so floors changed at runtime survive a restart
// with an older config file.
func (s *Storage) SeedFloors(floors map[string]models.Price) (int, error) {
	for name, price := range floors {
		if name == "" {
			return 0, ErrInvalidHashName
		}
		if price <= 0 {
			return 0, fmt.Errorf("%w: %s for %q", ErrInvalidFloor, price, name)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	added := 0
	for name, price := range floors {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO price_floors (market_hash_name, min_price, updated_at)
			VALUES (?, ?, ?)`, name, int64(price), now)
		if err != nil {
			return 0, fmt.Errorf("failed to seed floor %q: %w", name, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit floors: %w", err)
	}
	return added, nil
}
