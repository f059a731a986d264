package app_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/inkbound-tabletop/inkbound-core/internal/app"
	"github.com/inkbound-tabletop/inkbound-core/internal/config"
	llmmock "github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm/mock"
)

const pgvectorImage = "pgvector/pgvector:pg17"

// testDSN starts a disposable pgvector-enabled Postgres container and
// returns a connection string for [app.New]'s storage core.
func testDSN(t *testing.T) string {
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
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	q := u.Query()
	q.Del("sslmode")
	u.RawQuery = q.Encode()
	return u.String() + "?sslmode=disable"
}

// testPreprocessingFiles writes minimal preprocessing.toml/synonyms.toml
// fixtures to a temp dir and returns their paths.
func testPreprocessingFiles(t *testing.T) (dictPath, synonymsPath string) {
	t.Helper()
	dir := t.TempDir()

	dictPath = filepath.Join(dir, "preprocessing.toml")
	require.NoError(t, os.WriteFile(dictPath, []byte(`
[general]
the = 1000
potion = 500

[domain]
initiative = 50

[bigrams]

protected = ["dnd", "5e"]
`), 0o644))

	synonymsPath = filepath.Join(dir, "synonyms.toml")
	require.NoError(t, os.WriteFile(synonymsPath, []byte(`
max_expansions = 5

[[multiway]]
terms = ["hp", "hit points", "health"]
`), 0o644))

	return dictPath, synonymsPath
}

func testConfig(t *testing.T) *config.Config {
	dictPath, synonymsPath := testPreprocessingFiles(t)
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelInfo},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "mock"}},
		Memory:    config.MemoryConfig{PostgresDSN: testDSN(t), EmbeddingDimensions: 4},
		Search: config.SearchConfig{MaxContextChunks: 8, MaxContextBytes: 4000, VectorWeight: 0.5},
		Router: config.RouterConfig{Strategy: "priority"},
		Preprocessing: config.PreprocessingConfig{
			DictionaryPath: dictPath,
			SynonymsPath:   synonymsPath,
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{Healthy: true},
	}
}

func TestNew_WiresAllSubsystems(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Preprocessor() == nil {
		t.Error("expected a non-nil preprocessor")
	}
	if application.Router() == nil {
		t.Error("expected a non-nil router")
	}
	if application.MCPHost() == nil {
		t.Error("expected a non-nil mcp host")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Shutdown must be idempotent.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunWithoutListenAddrBlocksUntilCancelled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	application, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}
