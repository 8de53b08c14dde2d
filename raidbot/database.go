package raidbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// IntentLog is an audit record of one intent-extraction call: the command
// text that triggered it, the raw model response, and how things went.
type IntentLog struct {
	ModelUintID
	ModelUnixTime

	// ThreadID is the discord thread the command came from
	ThreadID string `gorm:"index" json:"thread_id"`

	// UserID is the discord user who issued the command
	UserID string `gorm:"index" json:"user_id"`

	// Command is the raw command text, as typed
	Command string `json:"command"`

	// Response is the raw model completion
	Response string `json:"response"`

	// IntentCount is how many intents the response parsed into
	IntentCount int `json:"intent_count"`

	// PromptTokens/CompletionTokens track usage for cost accounting
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// CacheHit is true when the response came from the extraction cache
	// rather than an API call
	CacheHit bool `json:"cache_hit"`

	// Error is set when the call or response parse failed
	Error string `json:"error,omitempty"`
}

// CachedExtraction is one persisted extraction-cache row. Key is the
// content hash of the (command, context) pair; Payload is the serialized
// intent batch.
type CachedExtraction struct {
	ModelUintID
	ModelUnixTime

	Key     string `gorm:"uniqueIndex;size:64" json:"key"`
	Payload string `json:"payload"`
}

// CharacterRecord is one collected Lost Ark character, persisted so roster
// listings survive restarts without re-crawling the game API.
type CharacterRecord struct {
	ModelUintID
	ModelUnixTime

	MemberName    string  `gorm:"index" json:"member_name"`
	CharacterName string  `gorm:"uniqueIndex" json:"character_name"`
	Class         string  `json:"class"`
	ItemLevel     float64 `json:"item_level"`
	ServerName    string  `json:"server_name"`
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and auto-migrates the bot's models.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
	log *slog.Logger,
) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return db, sqlErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.WithContext(ctx).Exec(pragma).Error; execErr != nil {
				return db, execErr
			}
		}
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&IntentLog{},
		&CachedExtraction{},
		&CharacterRecord{},
	)
	if err != nil {
		return db, err
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	if gormLogger != nil {
		cfg.Logger = gormLogger
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
