// Package storagetest opens throwaway Postgres schemas for repository tests.
package storagetest

import (
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/vectorwatch/platform/pkg/storage"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSNEnv names the connection string used by repository tests.
const DSNEnv = "POSTGRES_TEST_DSN"

// SessionTimeZone is deliberately not UTC so that date bucketing which leans
// on the server time zone shows up in tests.
const SessionTimeZone = "Africa/Nairobi"

// OpenPostgres returns a connection bound to a fresh schema holding the
// surveillance tables. The schema is dropped when the test ends. The test is
// skipped when POSTGRES_TEST_DSN is unset or the server is unreachable.
func OpenPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	cfg := &gorm.Config{Logger: gormlogger.Discard}

	admin, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	schema := "vw_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := admin.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	db, err := gorm.Open(postgres.Open(WithParams(dsn, map[string]string{
		"search_path": schema,
		"timezone":    SessionTimeZone,
	})), cfg)
	if err != nil {
		t.Fatalf("open schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = admin.Exec("DROP SCHEMA " + schema + " CASCADE").Error
		if sqlDB, err := admin.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := storage.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// WithParams appends runtime parameters to a URL or keyword/value DSN.
func WithParams(dsn string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if strings.Contains(dsn, "://") {
		for _, k := range keys {
			sep := "&"
			if !strings.Contains(dsn, "?") {
				sep = "?"
			}
			dsn += sep + k + "=" + params[k]
		}
		return dsn
	}
	for _, k := range keys {
		dsn += " " + k + "=" + params[k]
	}
	return dsn
}
