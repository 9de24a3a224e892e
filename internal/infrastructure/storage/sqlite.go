package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/ig_price_stream/internal/domain"
	"go.uber.org/zap"
)

// PriceStore persists instrument master records and per-instrument price
// bars in an embedded SQLite database. All access, reads included, runs
// through a single serialized transactional lane.
type PriceStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
	log *zap.Logger
}

func NewPriceStore(dbPath string, log *zap.Logger) (*PriceStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// One connection only: the write lane is the sole owner of the database.
	db.SetMaxOpenConns(1)

	store := &PriceStore{db: db, now: time.Now, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("price store opened", zap.String("path", dbPath))
	return store, nil
}

func (s *PriceStore) Close() error {
	return s.db.Close()
}

func (s *PriceStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			epic TEXT PRIMARY KEY,
			instrument_name TEXT NOT NULL,
			instrument_type TEXT NOT NULL,
			expiry TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// write runs fn inside a transaction while holding the write lane. The
// transaction is committed on success and rolled back on failure. A failed
// commit or rollback leaves the store in an undefined state and panics.
func (s *PriceStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			panic(fmt.Sprintf("store: rollback failed after %v: %v", err, rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		panic(fmt.Sprintf("store: commit failed: %v", err))
	}
	return nil
}

// priceTableName derives the per-instrument table name. The prefix keeps
// instrument tables out of the master table's namespace: the epic "markets"
// must not collide with the markets table itself.
func priceTableName(epic domain.Epic) string {
	return "prices_" + string(epic)
}

// priceTable quotes the table name for use in SQL. Epics are validated at
// the boundary, quoting guards the remaining edge cases.
func priceTable(epic domain.Epic) string {
	return `"` + strings.ReplaceAll(priceTableName(epic), `"`, `""`) + `"`
}

func (s *PriceStore) ensurePriceTable(tx *sql.Tx, epic domain.Epic) error {
	query := `CREATE TABLE IF NOT EXISTS ` + priceTable(epic) + ` (
		date TEXT PRIMARY KEY,
		openBid INTEGER NOT NULL,
		openAsk INTEGER NOT NULL,
		closeBid INTEGER NOT NULL,
		closeAsk INTEGER NOT NULL,
		lowBid INTEGER NOT NULL,
		lowAsk INTEGER NOT NULL,
		highBid INTEGER NOT NULL,
		highAsk INTEGER NOT NULL,
		volume INTEGER NOT NULL
	) WITHOUT ROWID;`
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("store: create price table for %s: %w", epic, err)
	}
	return nil
}

func (s *PriceStore) hasMarket(tx *sql.Tx, epic domain.Epic) (bool, error) {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM markets WHERE epic = ?`, string(epic)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: query market %s: %w", epic, err)
	}
	return true, nil
}

func (s *PriceStore) priceTableExists(tx *sql.Tx, epic domain.Epic) (bool, error) {
	var name string
	err := tx.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		priceTableName(epic),
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: query table for %s: %w", epic, err)
	}
	return true, nil
}

func (s *PriceStore) upsertBar(tx *sql.Tx, epic domain.Epic, bar domain.Candle) error {
	query := `INSERT INTO ` + priceTable(epic) + ` (date, openBid, openAsk, closeBid, closeAsk, lowBid, lowAsk, highBid, highAsk, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		openBid=excluded.openBid,
		openAsk=excluded.openAsk,
		closeBid=excluded.closeBid,
		closeAsk=excluded.closeAsk,
		lowBid=excluded.lowBid,
		lowAsk=excluded.lowAsk,
		highBid=excluded.highBid,
		highAsk=excluded.highAsk,
		volume=excluded.volume`
	_, err := tx.Exec(query,
		domain.FormatDate(bar.Time),
		bar.OpenBid, bar.OpenAsk, bar.CloseBid, bar.CloseAsk,
		bar.LowBid, bar.LowAsk, bar.HighBid, bar.HighAsk, bar.Volume)
	if err != nil {
		return fmt.Errorf("store: upsert bar %s %s: %w", epic, domain.FormatDate(bar.Time), err)
	}
	return nil
}

func (s *PriceStore) checkBars(epic domain.Epic, bars []domain.Candle) error {
	now := s.now()
	for _, bar := range bars {
		if bar.Time.After(now) {
			return fmt.Errorf("%w: %s at %s", domain.ErrFutureBar, epic, domain.FormatDate(bar.Time))
		}
		if bar.Volume < 0 {
			return fmt.Errorf("store: negative volume for %s at %s", epic, domain.FormatDate(bar.Time))
		}
	}
	return nil
}

// UpdatePrices upserts a batch of bars into the instrument's price table,
// creating it on first write. The instrument's master record must exist.
func (s *PriceStore) UpdatePrices(ctx context.Context, epic domain.Epic, bars []domain.Candle) error {
	if err := s.checkBars(epic, bars); err != nil {
		return err
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		known, err := s.hasMarket(tx, epic)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, epic)
		}
		if err := s.ensurePriceTable(tx, epic); err != nil {
			return err
		}
		for _, bar := range bars {
			if err := s.upsertBar(tx, epic, bar); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertStreamedBar is the streaming hot path: one finalized bar, upserted by
// timestamp. Returns the stored value for downstream logging.
func (s *PriceStore) UpsertStreamedBar(ctx context.Context, bar domain.Candle) (domain.Candle, error) {
	stored := bar
	stored.Time = bar.Time.UTC().Truncate(time.Minute)
	if err := s.UpdatePrices(ctx, bar.Epic, []domain.Candle{stored}); err != nil {
		return domain.Candle{}, err
	}
	return stored, nil
}

// GetAvailableDates returns every bar timestamp stored for the instrument.
// A missing price table means no data yet, not an error.
func (s *PriceStore) GetAvailableDates(ctx context.Context, epic domain.Epic) ([]time.Time, error) {
	var dates []time.Time
	err := s.write(ctx, func(tx *sql.Tx) error {
		exists, err := s.priceTableExists(tx, epic)
		if err != nil || !exists {
			return err
		}
		rows, err := tx.Query(`SELECT date FROM ` + priceTable(epic) + ` ORDER BY date`)
		if err != nil {
			return fmt.Errorf("store: query dates for %s: %w", epic, err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("store: scan date for %s: %w", epic, err)
			}
			t, err := domain.ParseDate(raw)
			if err != nil {
				return fmt.Errorf("store: corrupt date %q for %s: %w", raw, epic, err)
			}
			dates = append(dates, t)
		}
		return rows.Err()
	})
	return dates, err
}

func (s *PriceStore) boundaryDate(ctx context.Context, epic domain.Epic, agg string) (time.Time, bool, error) {
	var t time.Time
	var found bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		exists, err := s.priceTableExists(tx, epic)
		if err != nil || !exists {
			return err
		}
		var raw sql.NullString
		query := `SELECT ` + agg + `(date) FROM ` + priceTable(epic)
		if err := tx.QueryRow(query).Scan(&raw); err != nil {
			return fmt.Errorf("store: query %s date for %s: %w", agg, epic, err)
		}
		if !raw.Valid {
			return nil
		}
		parsed, err := domain.ParseDate(raw.String)
		if err != nil {
			return fmt.Errorf("store: corrupt date %q for %s: %w", raw.String, epic, err)
		}
		t, found = parsed, true
		return nil
	})
	return t, found, err
}

// GetFirstDate returns the oldest stored bar timestamp, if any.
func (s *PriceStore) GetFirstDate(ctx context.Context, epic domain.Epic) (time.Time, bool, error) {
	return s.boundaryDate(ctx, epic, "MIN")
}

// GetLastDate returns the newest stored bar timestamp, if any.
func (s *PriceStore) GetLastDate(ctx context.Context, epic domain.Epic) (time.Time, bool, error) {
	return s.boundaryDate(ctx, epic, "MAX")
}

// GetPrices returns the bars within [from, to], oldest first.
func (s *PriceStore) GetPrices(ctx context.Context, epic domain.Epic, from, to time.Time) ([]domain.Candle, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: %s > %s", domain.ErrInvalidRange, domain.FormatDate(from), domain.FormatDate(to))
	}
	var bars []domain.Candle
	err := s.write(ctx, func(tx *sql.Tx) error {
		exists, err := s.priceTableExists(tx, epic)
		if err != nil || !exists {
			return err
		}
		query := `SELECT date, openBid, openAsk, closeBid, closeAsk, lowBid, lowAsk, highBid, highAsk, volume
			FROM ` + priceTable(epic) + ` WHERE date >= ? AND date <= ? ORDER BY date`
		rows, err := tx.Query(query, domain.FormatDate(from), domain.FormatDate(to))
		if err != nil {
			return fmt.Errorf("store: query prices for %s: %w", epic, err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			bar := domain.Candle{Epic: epic}
			if err := rows.Scan(&raw,
				&bar.OpenBid, &bar.OpenAsk, &bar.CloseBid, &bar.CloseAsk,
				&bar.LowBid, &bar.LowAsk, &bar.HighBid, &bar.HighAsk, &bar.Volume); err != nil {
				return fmt.Errorf("store: scan bar for %s: %w", epic, err)
			}
			t, err := domain.ParseDate(raw)
			if err != nil {
				return fmt.Errorf("store: corrupt date %q for %s: %w", raw, epic, err)
			}
			bar.Time = t
			bars = append(bars, bar)
		}
		return rows.Err()
	})
	return bars, err
}

// HasMarkets reports which of the given instruments already have a master
// record.
func (s *PriceStore) HasMarkets(ctx context.Context, epics []domain.Epic) (map[domain.Epic]bool, error) {
	known := make(map[domain.Epic]bool, len(epics))
	if len(epics) == 0 {
		return known, nil
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(epics)), ",")
		args := make([]any, len(epics))
		for i, e := range epics {
			args[i] = string(e)
		}
		rows, err := tx.Query(`SELECT epic FROM markets WHERE epic IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("store: query markets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var epic string
			if err := rows.Scan(&epic); err != nil {
				return fmt.Errorf("store: scan market: %w", err)
			}
			known[domain.Epic(epic)] = true
		}
		return rows.Err()
	})
	return known, err
}

// SaveMarkets inserts master records. Existing records are left untouched:
// master data is created once and never mutated here.
func (s *PriceStore) SaveMarkets(ctx context.Context, markets []domain.MarketInfo) error {
	if len(markets) == 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO markets (epic, instrument_name, instrument_type, expiry, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(epic) DO NOTHING`
		for _, m := range markets {
			if _, err := tx.Exec(query, string(m.Epic), m.InstrumentName, m.InstrumentType, m.Expiry, s.now().UTC()); err != nil {
				return fmt.Errorf("store: save market %s: %w", m.Epic, err)
			}
		}
		return nil
	})
}
