package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/config"
)

const (
	memoryName       = "memory"
	memoryCollection = "memories"
	contentTruncate  = 600

	defaultTopK      = 5
	defaultThreshold = 0.8
)

// Memory is a persistent vector note store. Stores deduplicate against
// the nearest existing note; queries render the top matches to Markdown.
type Memory struct {
	collection *chromem.Collection
	threshold  float32
	log        *zap.Logger
}

func NewMemory(cfg config.MemoryConfig, log *zap.Logger) (*Memory, error) {
	return newMemory(cfg, chromem.NewEmbeddingFuncOllama(cfg.EmbedModel, cfg.EmbedBaseURL), log)
}

func newMemory(cfg config.MemoryConfig, embed chromem.EmbeddingFunc, log *zap.Logger) (*Memory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = defaultThreshold
	}

	db, err := chromem.NewPersistentDB(cfg.Dir, false)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	collection, err := db.GetOrCreateCollection(memoryCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}

	return &Memory{
		collection: collection,
		threshold:  cfg.DedupThreshold,
		log:        log,
	}, nil
}

func (m *Memory) Name() string { return memoryName }

func (m *Memory) Run(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	if capability.IsProbe(params) {
		return artifacts.Write(memoryName, "# Memory\n\n_Probe run; nothing stored._\n")
	}

	switch op := params["op"]; op {
	case "", "store":
		return m.store(ctx, params, artifacts)
	case "query":
		return m.query(ctx, params, artifacts)
	default:
		return "", fmt.Errorf("unknown memory op %q", op)
	}
}

func (m *Memory) Command(params map[string]string) (string, error) {
	return "", fmt.Errorf("memory runs in-process only")
}

func (m *Memory) store(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	text := params["text"]
	if text == "" {
		return "", fmt.Errorf("memory store requires a text param")
	}

	if m.collection.Count() > 0 {
		hits, err := m.collection.Query(ctx, text, 1, nil, nil)
		if err != nil {
			return "", fmt.Errorf("memory dedup lookup: %w", err)
		}
		if len(hits) > 0 && hits[0].Similarity >= m.threshold {
			m.log.Info("duplicate memory skipped",
				zap.Float32("similarity", hits[0].Similarity),
				zap.String("stored", hits[0].Metadata["created_at"]))
			return artifacts.Write(memoryName, formatDuplicate(hits[0]))
		}
	}

	doc := chromem.Document{
		ID:      uuid.NewString(),
		Content: text,
		Metadata: map[string]string{
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := m.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("memory store: %w", err)
	}
	m.log.Info("memory stored", zap.Int("notes", m.collection.Count()))

	return artifacts.Write(memoryName,
		fmt.Sprintf("# Memory stored\n\n%s\n\n_%d note(s) total._\n", text, m.collection.Count()))
}

func (m *Memory) query(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	q := params["query"]
	if q == "" {
		return "", fmt.Errorf("memory query requires a query param")
	}
	topK := defaultTopK
	if raw := params["top_k"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid top_k %q", raw)
		}
		topK = n
	}
	if count := m.collection.Count(); count == 0 {
		return artifacts.Write(memoryName, formatResults(q, nil))
	} else if topK > count {
		topK = count
	}

	hits, err := m.collection.Query(ctx, q, topK, nil, nil)
	if err != nil {
		return "", fmt.Errorf("memory query: %w", err)
	}
	return artifacts.Write(memoryName, formatResults(q, hits))
}

func formatDuplicate(hit chromem.Result) string {
	var b strings.Builder
	b.WriteString("# Memory store skipped\n\n")
	fmt.Fprintf(&b, "A near-identical note already exists (similarity %.3f, stored %s):\n\n",
		hit.Similarity, hit.Metadata["created_at"])
	fmt.Fprintf(&b, "> %s\n", truncateRunes(hit.Content, contentTruncate))
	return b.String()
}

func formatResults(query string, hits []chromem.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory query: %s\n\n", query)

	if len(hits) == 0 {
		b.WriteString("_No memories found._\n")
		return b.String()
	}
	fmt.Fprintf(&b, "_%d result(s)_\n\n", len(hits))

	for i, h := range hits {
		fmt.Fprintf(&b, "## %d.\n", i+1)
		fmt.Fprintf(&b, "**Similarity:** %.3f  \n", h.Similarity)
		if stored := h.Metadata["created_at"]; stored != "" {
			fmt.Fprintf(&b, "**Stored:** %s  \n", stored)
		}
		fmt.Fprintf(&b, "\n%s\n\n---\n\n", truncateRunes(h.Content, contentTruncate))
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
