// Package sqlite provides the file-backed crawl store used by default.
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

// appendBatchSize bounds the number of rows per INSERT statement.
const appendBatchSize = 500

// Config selects the database file. ":memory:" keeps everything in process.
type Config struct {
	DSN string
}

type entityModel struct {
	ID      uint   `gorm:"primaryKey"`
	Symbol  string `gorm:"not null"`
	Company string `gorm:"not null;default:''"`
	Locator string `gorm:"not null;uniqueIndex"`
	Done    bool   `gorm:"not null;default:false;index"`
}

func (entityModel) TableName() string {
	return "entities"
}

type recordModel struct {
	ID       uint    `gorm:"primaryKey"`
	Symbol   string  `gorm:"not null;index:records_symbol_date_idx,priority:1"`
	Date     string  `gorm:"not null;index:records_symbol_date_idx,priority:2"`
	Open     float64 `gorm:"not null"`
	High     float64 `gorm:"not null"`
	Low      float64 `gorm:"not null"`
	Close    float64 `gorm:"not null"`
	Volume   float64 `gorm:"not null"`
	AdjClose float64 `gorm:"not null"`
}

func (recordModel) TableName() string {
	return "records"
}

// Store implements crawler.Store on a sqlite database through gorm.
type Store struct {
	db *gorm.DB
}

var _ crawler.Store = (*Store)(nil)

// New opens (or creates) the database and migrates the crawl tables.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection serialises writers and keeps an in-memory database alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entityModel{}, &recordModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Put inserts a pending entity; a duplicate locator is ignored.
func (s *Store) Put(ctx context.Context, entity crawler.Entity) error {
	m := entityModel{Symbol: entity.Symbol, Company: entity.DisplayName, Locator: entity.Locator}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "locator"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// Pending returns entities not yet done, in insertion order.
func (s *Store) Pending(ctx context.Context) ([]crawler.Entity, error) {
	var rows []entityModel
	if err := s.db.WithContext(ctx).Where("done = ?", false).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query pending entities: %w", err)
	}
	return toEntities(rows), nil
}

// List returns every entity in insertion order.
func (s *Store) List(ctx context.Context) ([]crawler.Entity, error) {
	var rows []entityModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	return toEntities(rows), nil
}

func toEntities(rows []entityModel) []crawler.Entity {
	out := make([]crawler.Entity, 0, len(rows))
	for _, m := range rows {
		out = append(out, crawler.Entity{
			Symbol:      m.Symbol,
			DisplayName: m.Company,
			Locator:     m.Locator,
			Done:        m.Done,
		})
	}
	return out
}

// MarkDone sets done for locator in a single statement.
func (s *Store) MarkDone(ctx context.Context, locator string) error {
	res := s.db.WithContext(ctx).Model(&entityModel{}).Where("locator = ?", locator).Update("done", true)
	if res.Error != nil {
		return fmt.Errorf("mark entity done: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark %q: %w", locator, crawler.ErrNotFound)
	}
	return nil
}

// IsDone reads the completion flag for locator.
func (s *Store) IsDone(ctx context.Context, locator string) (bool, error) {
	var m entityModel
	err := s.db.WithContext(ctx).Where("locator = ?", locator).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup %q: %w", locator, crawler.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("lookup entity: %w", err)
	}
	return m.Done, nil
}

// Append validates every row and inserts them inside one transaction.
func (s *Store) Append(ctx context.Context, symbol string, rows []crawler.RawRow) (int, error) {
	recs, err := crawler.ParseRows(symbol, rows)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	models := make([]recordModel, 0, len(recs))
	for _, r := range recs {
		models = append(models, recordModel{
			Symbol:   r.Symbol,
			Date:     r.Date,
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
			AdjClose: r.AdjClose,
		})
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, appendBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("insert records: %w", err)
	}
	return len(models), nil
}

// ForEntity returns all records for symbol ordered by date.
func (s *Store) ForEntity(ctx context.Context, symbol string) ([]crawler.Record, error) {
	return s.findRecords(s.db.WithContext(ctx).Where("symbol = ?", symbol))
}

// ForEntityRange returns records for symbol with date BETWEEN start AND end.
func (s *Store) ForEntityRange(ctx context.Context, symbol, start, end string) ([]crawler.Record, error) {
	from, to, err := crawler.ParseRange(start, end)
	if err != nil {
		return nil, err
	}
	return s.findRecords(s.db.WithContext(ctx).Where("symbol = ? AND date BETWEEN ? AND ?", symbol, from, to))
}

func (s *Store) findRecords(q *gorm.DB) ([]crawler.Record, error) {
	var rows []recordModel
	if err := q.Order("date").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out := make([]crawler.Record, 0, len(rows))
	for _, m := range rows {
		out = append(out, crawler.Record{
			Symbol:   m.Symbol,
			Date:     m.Date,
			Open:     m.Open,
			High:     m.High,
			Low:      m.Low,
			Close:    m.Close,
			AdjClose: m.AdjClose,
			Volume:   m.Volume,
		})
	}
	return out, nil
}

// Stats reports entity counts, the database file size and the user table count.
func (s *Store) Stats(ctx context.Context) (crawler.Stats, error) {
	db := s.db.WithContext(ctx)
	var stats crawler.Stats
	if err := db.Model(&entityModel{}).Count(&stats.Entities).Error; err != nil {
		return crawler.Stats{}, fmt.Errorf("count entities: %w", err)
	}
	if err := db.Model(&entityModel{}).Where("done = ?", true).Count(&stats.Done).Error; err != nil {
		return crawler.Stats{}, fmt.Errorf("count done entities: %w", err)
	}
	var pageCount, pageSize int64
	if err := db.Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
		return crawler.Stats{}, fmt.Errorf("page count: %w", err)
	}
	if err := db.Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		return crawler.Stats{}, fmt.Errorf("page size: %w", err)
	}
	stats.StorageBytes = pageCount * pageSize
	err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").
		Scan(&stats.Tables).Error
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("count tables: %w", err)
	}
	return stats, nil
}
