package dbtest

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/database"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresURLEnv names the variable holding the URL of a disposable Postgres
// database for integration tests
const PostgresURLEnv = "VIDNET_TEST_DATABASE_URL"

// NewPostgres returns a migrated Postgres database in a schema private to the
// test, skipping the test when PostgresURLEnv is unset. Unlike New it keeps a
// real connection pool, so row locks and concurrent transactions behave as in
// production.
func NewPostgres(t *testing.T) *gorm.DB {
	t.Helper()

	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}

	admin, err := database.Open(postgres.Open(url))
	require.NoError(t, err)
	adminDB, err := admin.DB()
	require.NoError(t, err)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema)).Error)

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	db, err := database.Open(postgres.Open(url + sep + "search_path=" + schema))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
		_ = admin.Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)).Error
		_ = adminDB.Close()
	})
	return db
}
