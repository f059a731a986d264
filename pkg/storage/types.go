// Package storage implements the Storage Core: a single PostgreSQL/pgvector
// database paired with an in-process bleve BM25 index, holding every entity
// described in the data model — library items, raw pages, chunks, campaign
// records, chat messages, and the property graph that connects them.
//
// The package exposes operations, not a thin CRUD-per-table API: upsert_entity,
// insert_chunks_atomic, fulltext_search, vector_search, hybrid_search and
// graph_traverse are each a method on [Store]. All methods are safe for
// concurrent use; a write updates the bleve index only after its Postgres
// statements have succeeded.
package storage

import "time"

// LibraryItemStatus is the ingestion lifecycle state of a [LibraryItem].
type LibraryItemStatus string

const (
	StatusPending    LibraryItemStatus = "pending"
	StatusProcessing LibraryItemStatus = "processing"
	StatusReady      LibraryItemStatus = "ready"
	StatusFailed     LibraryItemStatus = "failed"
)

// LibraryItem is one ingested source document.
type LibraryItem struct {
	ID              string // deterministic: stable_hash(canonical file path)
	Slug            string
	Title           string
	FilePath        string
	ContentCategory string
	GameSystem      string
	Status          LibraryItemStatus
	PageCount       int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RawPage is one page of extracted text, persisted in ingestion phase 1 and
// consumed by the chunker in phase 2. Retained afterward for citation lookups.
type RawPage struct {
	LibraryItemID string
	PageNumber    int
	Text          string
	LayoutHints   map[string]any
}

// ChunkContentType classifies a [Chunk]'s source prose.
type ChunkContentType string

const (
	ContentRules        ChunkContentType = "rules"
	ContentFiction      ChunkContentType = "fiction"
	ContentSessionNotes ChunkContentType = "session_notes"
	ContentHomebrew     ChunkContentType = "homebrew"
)

// Chunk is a semantically coherent retrieval unit with page provenance.
type Chunk struct {
	ID               string
	Content          string
	LibraryItemID    string
	ContentType      ChunkContentType
	PageNumber       int // equal to PageStart when the chunk does not span pages
	PageStart        int
	PageEnd          int
	ChunkIndex       int
	SectionPath      string
	ChapterTitle     string
	SectionTitle     string
	ChunkType        string
	SemanticKeywords []string
	Embedding        []float32 // nil when not yet embedded
	EmbeddingModel   string
	Metadata         map[string]any
}

// ChunkFilter narrows fulltext_search/vector_search/hybrid_search to a subset
// of chunks. The non-zero ContentType, LibraryItemID, PageMin and PageMax
// fields are applied as AND conditions. GameSystem and Tags are not applied
// by any search.
type ChunkFilter struct {
	ContentType   ChunkContentType
	LibraryItemID string
	GameSystem    string
	PageMin       int
	PageMax       int
	Tags          []string
}

// SearchHit is one ranked result from fulltext_search, vector_search, or
// hybrid_search.
type SearchHit struct {
	Chunk     Chunk
	Score     float64 // BM25 score, cosine similarity (1-distance), or fused score
	Highlight string  // highlight fragment, populated by the BM25 leg when available
}

// ChatRole enumerates the speaker of a [ChatMessage].
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// ChatMessage is one append-only entry in a chat session transcript.
type ChatMessage struct {
	ID         string
	SessionID  string
	Role       ChatRole
	Content    string
	CampaignID string
	NPCID      string // optional
	Sources    []string // chunk ids cited in this message
	CreatedAt  time.Time
	Archived   bool
}

// EntityType enumerates the campaign-facing record kinds that participate in
// the property graph alongside chunks and library items.
type EntityType string

const (
	EntityCampaign EntityType = "campaign"
	EntitySession  EntityType = "session"
	EntityNPC      EntityType = "npc"
	EntityFaction  EntityType = "faction"
	EntityLocation EntityType = "location"
)

// Entity is a campaign-facing record (Campaign, Session, NPC, Faction, or
// Location). Domain-specific fields live in Attributes to keep one upsert
// path for every entity table, matching upsert_entity's "operations, not
// methods" contract.
type Entity struct {
	ID         string
	Type       EntityType
	Name       string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RelType enumerates the first-class graph edges described in the data model.
type RelType string

const (
	RelBelongsTo  RelType = "belongs_to"
	RelAlliedWith RelType = "allied_with"
	RelHostileTo  RelType = "hostile_to"
	RelKnows      RelType = "knows"
	RelSource     RelType = "source"     // chunk -> library_item
	RelContinues  RelType = "continues"  // chunk <-> chunk
	RelReferences RelType = "references" // chunk <-> chunk
	RelSeeAlso    RelType = "see_also"   // chunk <-> chunk
	RelParent     RelType = "parent"     // location -> location
)

// Relationship is a directed, typed, first-class edge. Edges are never
// inferred from foreign-key columns: they carry their own attributes
// (including, for npc<->npc edges, a Strength in [0,1]).
type Relationship struct {
	SourceID   string
	TargetID   string
	RelType    RelType
	Strength   float64
	Attributes map[string]any
	CreatedAt  time.Time
}

// EdgeSpec restricts a graph_traverse call to specific edge types and/or
// traversal direction.
type EdgeSpec struct {
	RelTypes  []RelType
	Incoming  bool
	Outgoing  bool // default when neither is set
}

// ProviderStats is the process-local health/cost snapshot for one LLM or
// embedding provider, updated on every router call outcome.
type ProviderStats struct {
	ProviderID         string
	SuccessCount       int64
	FailureCount       int64
	TotalLatency       time.Duration
	AvgCostUSD         float64
	ConsecutiveFailures int
	CircuitState       string
	LastFailureAt      time.Time
}

// UsageRecord is an append-only ledger entry for one billed generation call.
type UsageRecord struct {
	ProviderID   string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}
