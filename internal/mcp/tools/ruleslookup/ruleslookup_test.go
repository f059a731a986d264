package ruleslookup

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/inkbound-tabletop/inkbound-core/pkg/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/preprocess"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// fakeEmbedProvider returns a fixed-dimension vector derived deterministically
// from the text's characters, just enough to exercise vector search ordering
// without depending on a real embeddings API in tests.
type fakeEmbedProvider struct{}

func (fakeEmbedProvider) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}

func (f fakeEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedProvider) Dimensions() int { return 4 }
func (fakeEmbedProvider) ModelID() string { return "fake-embed-v1" }

// passthroughPreprocessor builds a Preprocessor with empty dictionary and
// synonym tables, so Process leaves the query essentially untouched.
func passthroughPreprocessor() *preprocess.Preprocessor {
	dict := preprocess.NewDictionary(nil, nil, nil, nil)
	store := preprocess.NewStore(dict)
	synonyms := preprocess.NewSynonymTable(nil, nil, 0)
	return preprocess.New(store, synonyms)
}

const pgvectorImage = "pgvector/pgvector:pg17"

func newTestDeps(t *testing.T) *deps {
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
	dsn := u.String() + "?sslmode=disable"

	st, err := storage.NewStore(ctx, storage.Config{DSN: dsn, EmbeddingDimensions: 4})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.UpsertLibraryItem(ctx, storage.LibraryItem{
		ID: "lib-srd", Slug: "srd", Title: "System Reference Document",
		GameSystem: "dnd5e", Status: storage.StatusReady,
	}))
	require.NoError(t, st.InsertChunksAtomic(ctx, []storage.Chunk{
		{
			ID: "spell-fireball", LibraryItemID: "lib-srd",
			Content:      "Fireball: a bright streak flashes to a point, then erupts in a fiery explosion.",
			ContentType:  storage.ContentRules,
			SectionTitle: "Fireball", ChapterTitle: "Spells",
			PageStart: 241, PageEnd: 241,
			Embedding: []float32{0.9, 0.1, 0, 0},
		},
		{
			ID: "condition-blinded", LibraryItemID: "lib-srd",
			Content:      "Blinded: a blinded creature can't see and automatically fails ability checks that require sight.",
			ContentType:  storage.ContentRules,
			SectionTitle: "Blinded", ChapterTitle: "Conditions",
			PageStart: 290, PageEnd: 290,
			Embedding: []float32{0.1, 0.9, 0, 0},
		},
	}, storage.LibraryItem{
		ID: "lib-srd", Slug: "srd", Title: "System Reference Document",
		GameSystem: "dnd5e", Status: storage.StatusReady,
	}))

	return &deps{
		store:        st,
		embedder:     embeddings.NewService(fakeEmbedProvider{}),
		preprocessor: passthroughPreprocessor(),
		search:       storage.HybridSearchConfig{FinalLimit: defaultSearchLimit},
	}
}

func TestSearchRulesHandler_MatchesIngestedChunk(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	args, _ := json.Marshal(searchRulesArgs{Query: "fireball"})
	out, err := d.searchRulesHandler(ctx, string(args))
	require.NoError(t, err)

	var results []ruleResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.Contains(t, ids, "spell-fireball")
}

func TestSearchRulesHandler_SystemFilterExcludesOtherSystems(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	args, _ := json.Marshal(searchRulesArgs{Query: "fireball", System: "pathfinder2e"})
	out, err := d.searchRulesHandler(ctx, string(args))
	require.NoError(t, err)

	var results []ruleResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Empty(t, results)
}

func TestSearchRulesHandler_EmptyQuery(t *testing.T) {
	d := &deps{}
	_, err := d.searchRulesHandler(context.Background(), `{"query":""}`)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "rules:"))
}

func TestSearchRulesHandler_BadJSON(t *testing.T) {
	d := &deps{}
	_, err := d.searchRulesHandler(context.Background(), `{bad`)
	require.Error(t, err)
}

func TestGetRuleHandler_ReturnsIngestedChunk(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	args, _ := json.Marshal(getRuleArgs{ID: "condition-blinded"})
	out, err := d.getRuleHandler(ctx, string(args))
	require.NoError(t, err)

	var result ruleResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "condition-blinded", result.ID)
	assert.Equal(t, "Blinded", result.Title)
	assert.NotEmpty(t, result.Text)
}

func TestGetRuleHandler_UnknownID(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	args, _ := json.Marshal(getRuleArgs{ID: "nonexistent-rule-id"})
	_, err := d.getRuleHandler(ctx, string(args))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "rules:"))
}

func TestGetRuleHandler_EmptyID(t *testing.T) {
	d := &deps{}
	_, err := d.getRuleHandler(context.Background(), `{"id":""}`)
	require.Error(t, err)
}

func TestGetRuleHandler_BadJSON(t *testing.T) {
	d := &deps{}
	_, err := d.getRuleHandler(context.Background(), `{bad`)
	require.Error(t, err)
}

func TestTools_ReturnsExpectedTools(t *testing.T) {
	d := newTestDeps(t)
	ts := Tools(d.store, d.embedder, d.preprocessor, storage.HybridSearchConfig{})
	require.Len(t, ts, 2)

	names := map[string]bool{}
	for _, tool := range ts {
		names[tool.Definition.Name] = true
		assert.NotNil(t, tool.Handler)
		assert.Greater(t, tool.DeclaredP50, int64(0))
		assert.Greater(t, tool.DeclaredMax, int64(0))
	}
	for _, want := range []string{"search_rules", "get_rule"} {
		assert.True(t, names[want], "missing tool %q", want)
	}
}
