package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/gigpay/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect opens postgres, or sqlite for local runs. Repositories rely on
// ON CONFLICT, so dialects without it are refused.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "sqlite":
		name := cfg.DBName
		if name == "" {
			name = "gigpay.db"
		}
		return sqlite.Open(name + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

func PostgresDSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}

// IsSQLite reports whether db talks to sqlite, which has no row locks.
func IsSQLite(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "sqlite"
}

// ForUpdate appends a row lock on dialects that support it.
func ForUpdate(db *gorm.DB, query string) string {
	if IsSQLite(db) {
		return query
	}
	return query + " FOR UPDATE"
}
