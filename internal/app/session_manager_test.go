package app_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/inkbound-tabletop/inkbound-core/internal/app"
	"github.com/inkbound-tabletop/inkbound-core/internal/events"
	"github.com/inkbound-tabletop/inkbound-core/internal/observe"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

func newTestStoreForSessions(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, pgvectorImage,
		postgres.WithDatabase("inkbound"),
		postgres.WithUsername("inkbound"),
		postgres.WithPassword("inkbound"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	q := u.Query()
	q.Del("sslmode")
	u.RawQuery = q.Encode()

	st, err := storage.NewStore(ctx, storage.Config{DSN: u.String() + "?sslmode=disable", EmbeddingDimensions: 4})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestSessionManager_OpenCloseTracksActiveSessions(t *testing.T) {
	t.Parallel()

	store := newTestStoreForSessions(t)
	sm := app.NewSessionManager(store, observe.DefaultMetrics(), events.NewBus())
	ctx := context.Background()

	sm.Open(ctx, "session-1")
	sm.Open(ctx, "session-1") // re-opening an already-open session must not double count
	sm.Close(ctx, "session-1")
	sm.Close(ctx, "session-1") // closing twice must be a no-op
}
