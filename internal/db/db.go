package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/utils"
)

// Service wraps the gorm handle for whichever driver is configured.
// SQLite is the default so a fresh install runs with zero external
// services; Postgres is opt-in via DB_DRIVER=postgres.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(log *logger.Logger) (*Service, error) {
	driver := utils.GetEnv("DB_DRIVER", "sqlite", log)
	switch driver {
	case "sqlite":
		return newSQLiteService(log)
	case "postgres":
		return newPostgresService(log)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}

func newSQLiteService(log *logger.Logger) (*Service, error) {
	path := utils.GetEnv("DB_PATH", "lorebound.db", log)

	log.Info("Opening SQLite database...", "path", path)
	gdb, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=1&_journal_mode=WAL"), &gorm.Config{})
	if err != nil {
		log.Error("Failed to open SQLite database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &Service{db: gdb, log: log.With("service", "DBService", "driver", "sqlite")}, nil
}

func newPostgresService(log *logger.Logger) (*Service, error) {
	host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	port := utils.GetEnv("POSTGRES_PORT", "5432", log)
	user := utils.GetEnv("POSTGRES_USER", "postgres", log)
	password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	name := utils.GetEnv("POSTGRES_NAME", "lorebound", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	log.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Service{db: gdb, log: log.With("service", "DBService", "driver", "postgres")}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := s.db.AutoMigrate(
		&types.Chat{},
		&types.ChatNode{},
	); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
