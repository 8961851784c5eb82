package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/docsearch"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const (
	defaultToolTimeout = 15 * time.Second
	defaultToolTopK    = 8
)

// Embedder provides query embeddings for semantic document search.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ToolRunner executes one iteration's plan. Implemented by Toolset.
type ToolRunner interface {
	Execute(ctx context.Context, plan Plan) []ToolResult
}

// Toolset executes the closed set of retrieval tools the planner may
// schedule. Tools run in parallel under one per-tool timeout; a failed tool
// reports its error in the result instead of aborting the run.
type Toolset struct {
	conn     *pgxpool.Pool
	embedder Embedder
	graphQ   *graph.QueryService

	topK    int
	timeout time.Duration
}

// ToolsetParams configures a Toolset. Zero values select defaults.
type ToolsetParams struct {
	Conn        *pgxpool.Pool
	Embedder    Embedder
	Graph       *graph.QueryService
	TopK        int
	ToolTimeout time.Duration
}

func NewToolset(params ToolsetParams) *Toolset {
	if params.TopK <= 0 {
		params.TopK = defaultToolTopK
	}
	if params.ToolTimeout <= 0 {
		params.ToolTimeout = defaultToolTimeout
	}
	return &Toolset{
		conn:     params.Conn,
		embedder: params.Embedder,
		graphQ:   params.Graph,
		topK:     params.TopK,
		timeout:  params.ToolTimeout,
	}
}

// ToolResult is the outcome of one executed plan step.
type ToolResult struct {
	Step     PlanStep
	Count    int
	Markdown string
	Sources  []common.DocumentSource
	Duration time.Duration
	Err      error
}

// Execute runs every step of the plan in parallel and returns results in
// plan order.
func (t *Toolset) Execute(ctx context.Context, plan Plan) []ToolResult {
	results := make([]ToolResult, len(plan.Steps))

	g, gctx := errgroup.WithContext(ctx)
	for i, step := range plan.Steps {
		g.Go(func() error {
			stepCtx, cancel := context.WithTimeout(gctx, t.timeout)
			defer cancel()

			start := time.Now()
			res := t.runStep(stepCtx, step)
			res.Step = step
			res.Duration = time.Since(start)
			if res.Err != nil {
				logger.Warn("[Agent] Tool failed",
					"tool", step.Tool, "error", res.Err,
					"duration", res.Duration.Round(time.Millisecond))
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

func (t *Toolset) runStep(ctx context.Context, step PlanStep) ToolResult {
	switch step.Tool {
	case ToolSearchDocuments:
		return t.searchDocuments(ctx, step.Params)
	case ToolSearchEntities:
		return t.searchEntities(ctx, step.Params)
	case ToolGetEntityDetail:
		return t.getEntityDetail(ctx, step.Params)
	case ToolFindSimilar:
		return t.findSimilar(ctx, step.Params)
	case ToolGetStatistics:
		return t.getStatistics(ctx)
	case ToolSearchDispatchOrders:
		return t.searchDispatchOrders(ctx, step.Params)
	default:
		return ToolResult{Err: fmt.Errorf("unknown tool: %s", step.Tool)}
	}
}

func (t *Toolset) searchDocuments(ctx context.Context, params ToolParams) ToolResult {
	var embeddingVec []float32
	if t.embedder != nil && params.Query != "" {
		vec, err := t.embedder.GetEmbedding(ctx, params.Query)
		if err != nil {
			logger.Debug("[Agent] Query embedding failed, keyword search only", "error", err)
		} else {
			embeddingVec = vec
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = t.topK
	}

	q := docsearch.NewQuery().
		WithKeywordsFull(params.Keywords).
		WithDateRange(params.DateFrom, params.DateTo).
		WithSender(params.Sender).
		WithReceiver(params.Receiver).
		WithDocType(params.DocType).
		WithStatus(params.Status).
		WithLimitOffset(limit, 0)
	if len(embeddingVec) > 0 {
		q.WithSemanticSearch(embeddingVec, 0)
	}
	q.WithRelevanceOrder()

	docs, total, err := q.Run(ctx, t.conn)
	if err != nil {
		return ToolResult{Err: err}
	}

	var sb strings.Builder
	sources := make([]common.DocumentSource, 0, len(docs))
	for _, doc := range docs {
		writeDocumentSection(&sb, doc)
		sources = append(sources, toSource(doc))
	}
	if total > len(docs) {
		fmt.Fprintf(&sb, "(%d further matches not shown)\n", total-len(docs))
	}
	return ToolResult{Count: len(docs), Markdown: sb.String(), Sources: sources}
}

func (t *Toolset) searchEntities(ctx context.Context, params ToolParams) ToolResult {
	query := params.Query
	if query == "" {
		query = params.EntityName
	}

	limit := params.Limit
	if limit <= 0 {
		limit = t.topK
	}

	var (
		entities []graph.EntitySummary
		err      error
	)
	if query == "" {
		entities, err = t.graphQ.GetTopEntities(ctx, params.EntityType, limit)
	} else {
		entities, err = t.graphQ.SearchEntities(ctx, query, limit)
	}
	if err != nil {
		return ToolResult{Err: err}
	}
	if params.EntityType != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if e.Type == params.EntityType {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	var sb strings.Builder
	sb.WriteString("## Entities\n")
	for _, e := range entities {
		fmt.Fprintf(&sb, "- %s (type: %s, mentioned in %d documents, id: %s)\n",
			e.Name, e.Type, e.MentionCount, e.PublicID)
	}
	return ToolResult{Count: len(entities), Markdown: sb.String()}
}

func (t *Toolset) getEntityDetail(ctx context.Context, params ToolParams) ToolResult {
	publicID := params.EntityID
	if publicID == "" && params.EntityName != "" {
		matches, err := t.graphQ.SearchEntities(ctx, params.EntityName, 1)
		if err != nil {
			return ToolResult{Err: err}
		}
		if len(matches) > 0 {
			publicID = matches[0].PublicID
		}
	}
	if publicID == "" {
		return ToolResult{Err: fmt.Errorf("entity_id or entity_name is required")}
	}

	detail, err := t.graphQ.GetEntityDetail(ctx, publicID)
	if err != nil {
		return ToolResult{Err: err}
	}
	if detail == nil {
		return ToolResult{Count: 0, Markdown: "## Entity\n(no such entity)\n"}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Entity: %s\n", detail.Name)
	fmt.Fprintf(&sb, "- Type: %s\n- Mentioned in %d documents\n",
		detail.Type, detail.MentionCount)
	if len(detail.Aliases) > 1 {
		names := make([]string, 0, len(detail.Aliases))
		for _, a := range detail.Aliases {
			if a.Name != detail.Name {
				names = append(names, a.Name)
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&sb, "- Also known as: %s\n", strings.Join(names, ", "))
		}
	}
	for _, edge := range detail.Edges {
		direction := "←"
		if edge.Outgoing {
			direction = "→"
		}
		fmt.Fprintf(&sb, "- %s %s %s (weight %.1f)\n",
			direction, edge.RelationType, edge.Other.Name, edge.Weight)
	}
	if len(detail.RecentDocuments) > 0 {
		sb.WriteString("\nRecent documents mentioning this entity:\n")
		for _, doc := range detail.RecentDocuments {
			fmt.Fprintf(&sb, "- %s — %s (%s)\n",
				doc.DocNumber, doc.Subject, doc.DocDate.Format("2006-01-02"))
		}
	}
	return ToolResult{Count: 1, Markdown: sb.String()}
}

func (t *Toolset) findSimilar(ctx context.Context, params ToolParams) ToolResult {
	if params.DocumentID == 0 {
		return ToolResult{Err: fmt.Errorf("document_id is required")}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = t.topK
	}

	docs, err := docsearch.FindSimilar(ctx, t.conn, params.DocumentID, limit)
	if err != nil {
		return ToolResult{Err: err}
	}

	var sb strings.Builder
	sources := make([]common.DocumentSource, 0, len(docs))
	for _, doc := range docs {
		writeDocumentSection(&sb, doc)
		sources = append(sources, toSource(doc))
	}
	return ToolResult{Count: len(docs), Markdown: sb.String(), Sources: sources}
}

func (t *Toolset) getStatistics(ctx context.Context) ToolResult {
	stats, err := t.graphQ.GetStats(ctx)
	if err != nil {
		return ToolResult{Err: err}
	}

	var docCount int64
	if err := t.conn.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&docCount); err != nil {
		return ToolResult{Err: err}
	}

	var sb strings.Builder
	sb.WriteString("## Statistics\n")
	fmt.Fprintf(&sb, "- Documents in archive: %d\n", docCount)
	fmt.Fprintf(&sb, "- Documents in knowledge graph: %d\n", stats.DocumentsIngested)
	fmt.Fprintf(&sb, "- Known entities: %d\n", stats.EntityCount)
	for _, typ := range common.EntityTypes {
		if n := stats.EntitiesByType[typ]; n > 0 {
			fmt.Fprintf(&sb, "  - %s: %d\n", typ, n)
		}
	}
	fmt.Fprintf(&sb, "- Relationships: %d\n", stats.EdgeCount)
	fmt.Fprintf(&sb, "- Entity mentions: %d\n", stats.MentionCount)
	return ToolResult{Count: 1, Markdown: sb.String()}
}

func (t *Toolset) searchDispatchOrders(ctx context.Context, params ToolParams) ToolResult {
	limit := params.Limit
	if limit <= 0 {
		limit = t.topK
	}
	orders, err := docsearch.SearchDispatchOrders(ctx, t.conn, docsearch.DispatchFilters{
		Query:  params.Query,
		Agency: params.Agency,
		Year:   params.Year,
		Status: params.Status,
		Limit:  limit,
	})
	if err != nil {
		return ToolResult{Err: err}
	}

	var sb strings.Builder
	sb.WriteString("## Dispatch orders\n")
	for _, order := range orders {
		fmt.Fprintf(&sb, "- %s — %s", order.OrderNumber, order.ProjectName)
		if order.Agency != "" {
			fmt.Fprintf(&sb, " (agency: %s)", order.Agency)
		}
		if order.Status != "" {
			fmt.Fprintf(&sb, " [%s]", order.Status)
		}
		fmt.Fprintf(&sb, " %s\n", order.OrderDate.Format("2006-01-02"))
	}
	return ToolResult{Count: len(orders), Markdown: sb.String()}
}

// writeDocumentSection renders one document in the markdown shape the
// synthesis prompt expects, with the citation id on the header line.
func writeDocumentSection(sb *strings.Builder, doc common.Document) {
	fmt.Fprintf(sb, "## %s — %s [[%s]]\n", doc.DocNumber, doc.Subject, doc.PublicID)
	if doc.Sender != "" || doc.Receiver != "" {
		fmt.Fprintf(sb, "From %s to %s. ", doc.Sender, doc.Receiver)
	}
	if doc.DocType != "" {
		fmt.Fprintf(sb, "Type: %s. ", doc.DocType)
	}
	if doc.Status != "" {
		fmt.Fprintf(sb, "Status: %s. ", doc.Status)
	}
	fmt.Fprintf(sb, "Date: %s.\n", doc.DocDate.Format("2006-01-02"))
	if doc.Body != "" {
		sb.WriteString(doc.Body)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func toSource(doc common.Document) common.DocumentSource {
	return common.DocumentSource{
		DocumentID: doc.ID,
		PublicID:   doc.PublicID,
		DocNumber:  doc.DocNumber,
		Subject:    doc.Subject,
		DocDate:    doc.DocDate.Format("2006-01-02"),
		Score:      doc.Score,
	}
}
