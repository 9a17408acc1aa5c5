//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"floorcore/config"
)

func TestPostgresJournalAndOutbox(t *testing.T) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("floorcore"),
		postgres.WithUsername("floorcore"),
		postgres.WithPassword("floorcore"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := Open(&config.DatabaseConfig{
		Driver: "postgres",
		Postgres: config.PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "floorcore",
			User:     "floorcore",
			Password: "floorcore",
			SSLMode:  "disable",
		},
	})
	require.NoError(t, err)
	defer db.Close()

	id, err := db.AppendEvent(time.Now(), "m1", "unit_assigned", "assigned order o-1")
	require.NoError(t, err)
	assert.Positive(t, id)
	events, err := db.ListEvents(10, "m1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	oid, err := db.EnqueueOutbox("floorcore.events", []byte(`{}`), "event")
	require.NoError(t, err)
	require.NoError(t, db.AckOutbox(oid))
	n, err := db.CountPendingOutbox()
	require.NoError(t, err)
	assert.Zero(t, n)
}
