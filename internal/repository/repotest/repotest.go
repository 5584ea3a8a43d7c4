// Package repotest opens throwaway replay stores for unit tests.
package repotest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dotabank/dotabank/internal/config"
	"github.com/dotabank/dotabank/internal/repository"
)

// NewStore returns a migrated store on a private in-memory SQLite database.
// The pool is capped at one connection, so nothing may use the outer store
// while a transaction from it is open.
func NewStore(t testing.TB) *repository.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		AutoMigrate:  true,
	})
	if err != nil {
		t.Fatal("repotest: failed to open store:", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewStore(db)
}
