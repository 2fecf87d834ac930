package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/deltaemu/savestated/internal/events"
	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store/migrations"
)

const sqliteFileName = "savestates.db"

// SQLiteStore persists games and save states in a SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
	path  string
	bus   *events.Bus[models.ChangeNotification]
}

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// OpenSQLiteStore opens (creating if needed) the database in dir and applies
// embedded migrations.
func OpenSQLiteStore(ctx context.Context, dir string) (*SQLiteStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	path := filepath.Join(filepath.Clean(dir), sqliteFileName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the foreign_keys pragma and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{
		sqlDB: sqlDB,
		path:  path,
		bus:   events.NewBus[models.ChangeNotification](),
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Kind returns "sqlite".
func (s *SQLiteStore) Kind() string { return "sqlite" }

// Changes returns the change-notification bus.
func (s *SQLiteStore) Changes() *events.Bus[models.ChangeNotification] { return s.bus }

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Games returns all registered games ordered by ID.
func (s *SQLiteStore) Games(ctx context.Context) ([]models.Game, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name FROM games ORDER BY id`)
	if err != nil {
		return nil, s.mapErr("list games", err)
	}
	defer rows.Close()

	games := []models.Game{}
	for rows.Next() {
		var g models.Game
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// Game returns one game by ID.
func (s *SQLiteStore) Game(ctx context.Context, id string) (models.Game, error) {
	var g models.Game
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, name FROM games WHERE id = ?`, id).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Game{}, ErrNotFound
	}
	if err != nil {
		return models.Game{}, s.mapErr("get game", err)
	}
	return g, nil
}

const saveStateColumns = `identifier, filename, name, creation_date, modified_date, game_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaveState(row rowScanner) (models.SaveState, error) {
	var (
		st       models.SaveState
		name     sql.NullString
		created  int64
		modified int64
	)
	if err := row.Scan(&st.Identifier, &st.Filename, &name, &created, &modified, &st.GameID); err != nil {
		return models.SaveState{}, err
	}
	if name.Valid {
		v := name.String
		st.Name = &v
	}
	st.CreationDate = fromNanos(created)
	st.ModifiedDate = fromNanos(modified)
	return st, nil
}

// FetchSaveStates returns the save states of a game ordered by creation date,
// ties in commit order.
func (s *SQLiteStore) FetchSaveStates(ctx context.Context, gameID string) ([]models.SaveState, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+saveStateColumns+` FROM save_states WHERE game_id = ? ORDER BY creation_date ASC, seq ASC`,
		gameID,
	)
	if err != nil {
		return nil, s.mapErr("fetch save states", err)
	}
	defer rows.Close()

	states := []models.SaveState{}
	for rows.Next() {
		st, err := scanSaveState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan save state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// SaveState returns one save state by identifier.
func (s *SQLiteStore) SaveState(ctx context.Context, identifier string) (models.SaveState, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+saveStateColumns+` FROM save_states WHERE identifier = ?`, identifier)
	st, err := scanSaveState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SaveState{}, ErrNotFound
	}
	if err != nil {
		return models.SaveState{}, s.mapErr("get save state", err)
	}
	return st, nil
}

// Apply commits cs in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, cs ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return s.mapErr("begin commit", err)
	}
	changes, err := s.applyTx(ctx, tx, cs)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.mapErr("commit", err)
	}
	if len(changes) > 0 {
		s.bus.Publish(models.ChangeNotification{Changes: changes})
	}
	return nil
}

func (s *SQLiteStore) applyTx(ctx context.Context, tx *sql.Tx, cs ChangeSet) ([]models.Change, error) {
	var changes []models.Change

	for _, g := range cs.Games {
		if strings.TrimSpace(g.ID) == "" {
			return nil, models.ErrBadRequest("game id is required")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO games (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			g.ID, g.Name,
		); err != nil {
			return nil, s.mapErr("upsert game", err)
		}
		changes = append(changes, models.Change{Kind: models.ChangeGame, GameID: g.ID})
	}

	for _, st := range cs.Inserted {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("insert save state %q: %w", st.Identifier, err)
		}
		if err := gameExists(ctx, tx, st.GameID); err != nil {
			return nil, fmt.Errorf("insert save state %q: %w", st.Identifier, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO save_states (`+saveStateColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			st.Identifier, st.Filename, nullableName(st.Name),
			toNanos(st.CreationDate), toNanos(st.ModifiedDate), st.GameID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("insert save state %q: %w", st.Identifier, ErrConflict)
			}
			return nil, s.mapErr("insert save state", err)
		}
		changes = append(changes, models.Change{Kind: models.ChangeInsert, GameID: st.GameID, Identifier: st.Identifier})
	}

	for _, st := range cs.Updated {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("update save state %q: %w", st.Identifier, err)
		}
		var prevGame string
		err := tx.QueryRowContext(ctx, `SELECT game_id FROM save_states WHERE identifier = ?`, st.Identifier).Scan(&prevGame)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("update save state %q: %w", st.Identifier, ErrNotFound)
		}
		if err != nil {
			return nil, s.mapErr("update save state", err)
		}
		if err := gameExists(ctx, tx, st.GameID); err != nil {
			return nil, fmt.Errorf("update save state %q: %w", st.Identifier, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE save_states
			    SET filename = ?, name = ?, creation_date = ?, modified_date = ?, game_id = ?
			  WHERE identifier = ?`,
			st.Filename, nullableName(st.Name), toNanos(st.CreationDate), toNanos(st.ModifiedDate),
			st.GameID, st.Identifier,
		); err != nil {
			return nil, s.mapErr("update save state", err)
		}
		if prevGame != st.GameID {
			changes = append(changes, models.Change{Kind: models.ChangeDelete, GameID: prevGame, Identifier: st.Identifier})
		}
		changes = append(changes, models.Change{Kind: models.ChangeUpdate, GameID: st.GameID, Identifier: st.Identifier})
	}

	for _, id := range cs.Deleted {
		var gameID string
		err := tx.QueryRowContext(ctx, `SELECT game_id FROM save_states WHERE identifier = ?`, id).Scan(&gameID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delete save state %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, s.mapErr("delete save state", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM save_states WHERE identifier = ?`, id); err != nil {
			return nil, s.mapErr("delete save state", err)
		}
		changes = append(changes, models.Change{Kind: models.ChangeDelete, GameID: gameID, Identifier: id})
	}

	return changes, nil
}

func gameExists(ctx context.Context, tx *sql.Tx, id string) error {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownGame
	}
	return err
}

func nullableName(name *string) sql.NullString {
	if name == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *name, Valid: true}
}

func (s *SQLiteStore) mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
