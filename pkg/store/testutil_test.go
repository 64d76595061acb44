package store_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nthiel/jobwatch/pkg/database"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// newTestStore starts (once per package) a shared Postgres testcontainer,
// gives the calling test its own schema for isolation, runs every embedded
// migration inside it, and registers cleanup to drop the schema.
func newTestStore(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := sharedDatabaseURL(t)
	schemaName := schemaNameFor(t)

	// Create the schema with a throwaway admin connection before the pooled
	// client (which applies migrations on open) connects.
	adminClient, err := database.OpenRaw(ctx, connStr)
	require.NoError(t, err)
	_, err = adminClient.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	require.NoError(t, err)
	require.NoError(t, adminClient.RawDB().Close())

	dsn := fmt.Sprintf("%s search_path=%s", connStr, schemaName)
	client, err := database.NewClientFromDSN(ctx, dsn, schemaName)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = client.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		_ = client.RawDB().Close()
	})

	return client
}

func sharedDatabaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("jobwatch_test"),
			postgres.WithUsername("jobwatch_test"),
			postgres.WithPassword("jobwatch_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr)
	return sharedConnStr
}

func schemaNameFor(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(randomBytes))
}
