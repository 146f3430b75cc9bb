// Package infra implements infrastructure concerns (storage, device
// automation, foreground detection, classifiers).
package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/wardenhq/warden/internal/domain"
)

const stateDBName = "warden.db"

// EncryptedStore implements domain.StateStore on a SQLCipher encrypted
// SQLite database. A parental-control database is tamper-bait, so it is
// keyed with a locally generated key (see KeyProvider).
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the state database. The key is
// used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_rules (
		package TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		limit_mins INTEGER NOT NULL DEFAULT 30,
		is_blocked INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS daily_usage (
		package TEXT NOT NULL,
		usage_date TEXT NOT NULL,
		seconds_spent INTEGER NOT NULL DEFAULT 0,
		strikes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (package, usage_date)
	);

	CREATE TABLE IF NOT EXISTS schedule_windows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_mins INTEGER NOT NULL,
		end_mins INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		study_mode INTEGER NOT NULL DEFAULT 0,
		doomscroll_mode INTEGER NOT NULL DEFAULT 1,
		punishment_type TEXT NOT NULL DEFAULT 'HOME',
		punishment_target TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS global_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		persona TEXT NOT NULL DEFAULT '',
		focus TEXT NOT NULL DEFAULT '',
		study_mode INTEGER NOT NULL DEFAULT 0,
		doomscroll_mode INTEGER NOT NULL DEFAULT 1,
		grace_period INTEGER NOT NULL DEFAULT 10,
		max_strikes INTEGER NOT NULL DEFAULT 3,
		penalty_duration INTEGER NOT NULL DEFAULT 60,
		punishment_type TEXT NOT NULL DEFAULT 'HOME',
		punishment_target TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadRules returns all app rules keyed by package.
func (s *EncryptedStore) LoadRules() (map[string]domain.AppRule, error) {
	rows, err := s.db.Query(`SELECT package, name, limit_mins, is_blocked FROM app_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make(map[string]domain.AppRule)
	for rows.Next() {
		var r domain.AppRule
		if err := rows.Scan(&r.Package, &r.Name, &r.LimitMins, &r.Blocked); err != nil {
			return nil, err
		}
		rules[r.Package] = r
	}
	return rules, rows.Err()
}

// UpsertRule inserts or updates one rule.
func (s *EncryptedStore) UpsertRule(rule domain.AppRule) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO app_rules (package, name, limit_mins, is_blocked)
		VALUES (?, ?, ?, ?)`,
		rule.Package, rule.Name, rule.LimitMins, rule.Blocked)
	return err
}

// SeedRule inserts a rule only if the package is unknown. Used by the
// startup app-inventory sync so user edits survive restarts.
func (s *EncryptedStore) SeedRule(rule domain.AppRule) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO app_rules (package, name, limit_mins, is_blocked)
		VALUES (?, ?, ?, ?)`,
		rule.Package, rule.Name, rule.LimitMins, rule.Blocked)
	return err
}

// LoadDay returns per-package usage for the given local day.
func (s *EncryptedStore) LoadDay(day time.Time) (map[string]domain.DayUsage, error) {
	rows, err := s.db.Query(`
		SELECT package, seconds_spent, strikes FROM daily_usage WHERE usage_date = ?`,
		dayKey(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[string]domain.DayUsage)
	for rows.Next() {
		var pkg string
		var u domain.DayUsage
		if err := rows.Scan(&pkg, &u.Seconds, &u.Strikes); err != nil {
			return nil, err
		}
		usage[pkg] = u
	}
	return usage, rows.Err()
}

// SaveDay writes per-package usage for the given local day.
func (s *EncryptedStore) SaveDay(day time.Time, usage map[string]domain.DayUsage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for pkg, u := range usage {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO daily_usage (package, usage_date, seconds_spent, strikes)
			VALUES (?, ?, ?, ?)`,
			pkg, dayKey(day), u.Seconds, u.Strikes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadConfig returns the persisted global config.
func (s *EncryptedStore) LoadConfig() (domain.GlobalConfig, bool, error) {
	var cfg domain.GlobalConfig
	err := s.db.QueryRow(`
		SELECT persona, focus, study_mode, doomscroll_mode, grace_period,
		       max_strikes, penalty_duration, punishment_type, punishment_target
		FROM global_config WHERE id = 1`).Scan(
		&cfg.Persona, &cfg.Focus, &cfg.StudyMode, &cfg.DoomscrollMode,
		&cfg.GracePeriodSecs, &cfg.MaxStrikes, &cfg.PenaltySecs,
		&cfg.PunishmentType, &cfg.PunishmentTarget)
	if err == sql.ErrNoRows {
		return domain.GlobalConfig{}, false, nil
	}
	if err != nil {
		return domain.GlobalConfig{}, false, err
	}
	return cfg, true, nil
}

// SaveConfig persists the global config.
func (s *EncryptedStore) SaveConfig(cfg domain.GlobalConfig) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO global_config
		(id, persona, focus, study_mode, doomscroll_mode, grace_period,
		 max_strikes, penalty_duration, punishment_type, punishment_target)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Persona, cfg.Focus, cfg.StudyMode, cfg.DoomscrollMode,
		cfg.GracePeriodSecs, cfg.MaxStrikes, cfg.PenaltySecs,
		string(cfg.PunishmentType), cfg.PunishmentTarget)
	return err
}

// LoadSchedules returns all schedule windows.
func (s *EncryptedStore) LoadSchedules() ([]domain.ScheduleWindow, error) {
	rows, err := s.db.Query(`
		SELECT id, start_mins, end_mins, label, study_mode, doomscroll_mode,
		       punishment_type, punishment_target
		FROM schedule_windows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []domain.ScheduleWindow
	for rows.Next() {
		var w domain.ScheduleWindow
		var start, end int
		if err := rows.Scan(&w.ID, &start, &end, &w.Label, &w.StudyMode,
			&w.DoomscrollMode, &w.PunishmentType, &w.PunishmentTarget); err != nil {
			return nil, err
		}
		w.Start = domain.ClockTime{Hour: start / 60, Minute: start % 60}
		w.End = domain.ClockTime{Hour: end / 60, Minute: end % 60}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// AddSchedule inserts a window and returns its assigned id.
func (s *EncryptedStore) AddSchedule(w domain.ScheduleWindow) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO schedule_windows
		(start_mins, end_mins, label, study_mode, doomscroll_mode,
		 punishment_type, punishment_target)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.Start.Minutes(), w.End.Minutes(), w.Label, w.StudyMode,
		w.DoomscrollMode, string(w.PunishmentType), w.PunishmentTarget)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteSchedule removes a window by id.
func (s *EncryptedStore) DeleteSchedule(id int64) error {
	res, err := s.db.Exec(`DELETE FROM schedule_windows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path (for status output and tests).
func (s *EncryptedStore) Path() string { return s.dbPath }

func dayKey(day time.Time) string {
	return day.Format("2006-01-02")
}

// Ensure EncryptedStore implements domain.StateStore.
var _ domain.StateStore = (*EncryptedStore)(nil)
