//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/acousticid/pkg/models"
)

const insertBatchSize = 500

type songRow struct {
	ID         uint32 `gorm:"primaryKey;autoIncrement"`
	Title      string `gorm:"uniqueIndex:idx_song_unique,priority:1"`
	Artist     string `gorm:"uniqueIndex:idx_song_unique,priority:2"`
	Album      string
	DurationMs int
	CreatedAt  time.Time
}

func (songRow) TableName() string { return "songs" }

func (r songRow) toModel() models.Song {
	return models.Song{ID: r.ID, Title: r.Title, Artist: r.Artist, Album: r.Album, DurationMs: r.DurationMs, CreatedAt: r.CreatedAt}
}

type fingerprintRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Hash     uint32 `gorm:"index:idx_hash"`
	SongID   uint32 `gorm:"index:idx_song"`
	OffsetMs int32
}

func (fingerprintRow) TableName() string { return "fingerprints" }

// SQL is a gorm-backed index for SQLite and Postgres. PutMany and DeleteSong
// run in a transaction, so readers see either the old or the new postings.
type SQL struct {
	DB *gorm.DB
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite index at dbPath.
func OpenSQLite(dbPath string) (*SQL, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	return openSQL(sqlite.Open(dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"))
}

// OpenPostgres connects to the Postgres database at dsn.
func OpenPostgres(dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("postgres backend requires a DSN")
	}
	return openSQL(postgres.Open(dsn))
}

func openSQL(dialector gorm.Dialector) (*SQL, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&songRow{}, &fingerprintRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQL{DB: db, db: sqlDB}, nil
}

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) RegisterSong(ctx context.Context, song models.Song) (uint32, error) {
	db := s.DB.WithContext(ctx)

	var row songRow
	err := db.Where("title = ? AND artist = ?", song.Title, song.Artist).First(&row).Error
	if err == nil {
		return row.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("querying existing song: %w", err)
	}

	row = songRow{Title: song.Title, Artist: song.Artist, Album: song.Album, DurationMs: song.DurationMs, CreatedAt: song.CreatedAt}
	if err := db.Create(&row).Error; err != nil {
		if !isDuplicate(err) {
			return 0, fmt.Errorf("creating song: %w", err)
		}
		// lost a race with a concurrent registration
		if fetchErr := db.Where("title = ? AND artist = ?", song.Title, song.Artist).First(&row).Error; fetchErr != nil {
			return 0, fmt.Errorf("fetching song after constraint violation: %w", fetchErr)
		}
	}
	return row.ID, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

func (s *SQL) PutMany(ctx context.Context, songID uint32, fps []models.Fingerprint) error {
	rows := make([]fingerprintRow, len(fps))
	for i, fp := range fps {
		rows[i] = fingerprintRow{Hash: fp.Hash, SongID: songID, OffsetMs: fp.AnchorTimeMs}
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&songRow{}).Where("id = ?", songID).Count(&n).Error; err != nil {
			return fmt.Errorf("checking song: %w", err)
		}
		if n == 0 {
			return ErrSongNotFound
		}
		if err := tx.Where("song_id = ?", songID).Delete(&fingerprintRow{}).Error; err != nil {
			return fmt.Errorf("clearing fingerprints: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("batch insert fingerprints: %w", err)
		}
		return nil
	})
}

func (s *SQL) Get(ctx context.Context, hash uint32) ([]models.Posting, error) {
	var rows []fingerprintRow
	if err := s.DB.WithContext(ctx).Where("hash = ?", hash).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	out := make([]models.Posting, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Posting{SongID: r.SongID, OffsetMs: r.OffsetMs})
	}
	return out, nil
}

func (s *SQL) GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error) {
	result := make(map[uint32][]models.Posting)
	if len(hashes) == 0 {
		return result, nil
	}

	var rows []fingerprintRow
	if err := s.DB.WithContext(ctx).Where("hash IN ?", hashes).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("batch querying fingerprints: %w", err)
	}
	for _, r := range rows {
		result[r.Hash] = append(result[r.Hash], models.Posting{SongID: r.SongID, OffsetMs: r.OffsetMs})
	}
	return result, nil
}

func (s *SQL) FingerprintCounts(ctx context.Context, songIDs []uint32) (map[uint32]int, error) {
	out := make(map[uint32]int, len(songIDs))
	if len(songIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		SongID uint32
		N      int
	}
	err := s.DB.WithContext(ctx).Model(&fingerprintRow{}).
		Select("song_id, count(*) as n").
		Where("song_id IN ?", songIDs).
		Group("song_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting fingerprints: %w", err)
	}
	for _, r := range rows {
		out[r.SongID] = r.N
	}
	return out, nil
}

func (s *SQL) TotalSongs(ctx context.Context) (int, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&songRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting songs: %w", err)
	}
	return int(n), nil
}

func (s *SQL) TotalFingerprints(ctx context.Context) (int, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&fingerprintRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return int(n), nil
}

func (s *SQL) GetSong(ctx context.Context, id uint32) (*models.Song, error) {
	var row songRow
	err := s.DB.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	song := row.toModel()
	return &song, nil
}

func (s *SQL) ListSongs(ctx context.Context) ([]models.Song, error) {
	var rows []songRow
	if err := s.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	out := make([]models.Song, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQL) DeleteSong(ctx context.Context, id uint32) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", id).Delete(&fingerprintRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&songRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSongNotFound
		}
		return nil
	})
}
