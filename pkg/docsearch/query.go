// Package docsearch is the document-store collaborator of the AI core: a
// hybrid keyword+vector query builder over the documents table and the
// dispatch-order search used by the agent tools. All document SQL is confined
// to this package.
package docsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	// semanticWeightDefault blends vector similarity into the relevance
	// score when WithSemanticSearch is used without an explicit weight.
	semanticWeightDefault = 0.5
)

// Conn is the subset of pgxpool.Pool / pgx.Tx the query builder needs.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Query builds one hybrid search over the documents table. Conditions are
// accumulated as parameterized fragments; user input never reaches the SQL
// text itself.
type Query struct {
	conds []string
	args  []any

	semanticExpr   string
	keywordExpr    string
	relevanceOrder bool

	limit  int
	offset int
}

// NewQuery creates an empty document query.
func NewQuery() *Query {
	return &Query{limit: defaultLimit}
}

// arg registers a bind value and returns its placeholder.
func (q *Query) arg(value any) string {
	q.args = append(q.args, value)
	return fmt.Sprintf("$%d", len(q.args))
}

// WithKeywordsFull matches any of the keywords against subject, body, and
// document number. A document matching more keywords ranks higher when
// relevance ordering is enabled.
func (q *Query) WithKeywordsFull(keywords []string) *Query {
	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	if len(cleaned) == 0 {
		return q
	}

	matches := make([]string, 0, len(cleaned))
	hits := make([]string, 0, len(cleaned))
	for _, kw := range cleaned {
		p := q.arg("%" + kw + "%")
		cond := fmt.Sprintf("(subject ILIKE %s OR body ILIKE %s OR doc_number ILIKE %s)", p, p, p)
		matches = append(matches, cond)
		hits = append(hits, fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END)", cond))
	}
	q.conds = append(q.conds, "("+strings.Join(matches, " OR ")+")")
	q.keywordExpr = fmt.Sprintf("((%s)::float / %d)", strings.Join(hits, " + "), len(cleaned))
	return q
}

// WithSemanticSearch blends cosine similarity against the document embedding
// into the relevance score. Weight 0 selects the default blend.
func (q *Query) WithSemanticSearch(embedding []float32, weight float64) *Query {
	if len(embedding) == 0 {
		return q
	}
	if weight <= 0 || weight > 1 {
		weight = semanticWeightDefault
	}
	p := q.arg(pgvector.NewVector(embedding))
	q.conds = append(q.conds, "embedding IS NOT NULL")
	q.semanticExpr = fmt.Sprintf("(%g * (1 - (embedding <=> %s)))", weight, p)
	return q
}

// WithDateRange bounds doc_date. Either side may be empty.
func (q *Query) WithDateRange(from, to string) *Query {
	if from != "" {
		q.conds = append(q.conds, "doc_date >= "+q.arg(from))
	}
	if to != "" {
		q.conds = append(q.conds, "doc_date <= "+q.arg(to))
	}
	return q
}

func (q *Query) WithSender(sender string) *Query {
	if sender != "" {
		q.conds = append(q.conds, "sender ILIKE "+q.arg("%"+sender+"%"))
	}
	return q
}

func (q *Query) WithReceiver(receiver string) *Query {
	if receiver != "" {
		q.conds = append(q.conds, "receiver ILIKE "+q.arg("%"+receiver+"%"))
	}
	return q
}

func (q *Query) WithDocType(docType string) *Query {
	if docType != "" {
		q.conds = append(q.conds, "doc_type = "+q.arg(docType))
	}
	return q
}

func (q *Query) WithCategory(category string) *Query {
	if category != "" {
		q.conds = append(q.conds, "category = "+q.arg(category))
	}
	return q
}

func (q *Query) WithStatus(status string) *Query {
	if status != "" {
		q.conds = append(q.conds, "status = "+q.arg(status))
	}
	return q
}

func (q *Query) WithContractCase(contractCase string) *Query {
	if contractCase != "" {
		q.conds = append(q.conds, "contract_case ILIKE "+q.arg("%"+contractCase+"%"))
	}
	return q
}

// WithRelevanceOrder sorts by the blended keyword+semantic score instead of
// recency. Without it results come back newest first.
func (q *Query) WithRelevanceOrder() *Query {
	q.relevanceOrder = true
	return q
}

// WithLimitOffset bounds the result page. Limits are clamped to maxLimit.
func (q *Query) WithLimitOffset(limit, offset int) *Query {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	q.limit = limit
	q.offset = offset
	return q
}

// scoreExpr is the relevance score for ordering and the returned Score field.
func (q *Query) scoreExpr() string {
	switch {
	case q.keywordExpr != "" && q.semanticExpr != "":
		return "(" + q.keywordExpr + " + " + q.semanticExpr + ")"
	case q.semanticExpr != "":
		return q.semanticExpr
	case q.keywordExpr != "":
		return q.keywordExpr
	default:
		return "0::float"
	}
}

// SQL renders the document select and its bind arguments. Exposed for tests;
// Run is the production entry point.
func (q *Query) SQL() (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT
		id, public_id, doc_number, subject, body, doc_type, category,
		sender, receiver, status, contract_case, doc_date, `)
	sb.WriteString(q.scoreExpr())
	sb.WriteString(" AS score,\n\t\tcount(*) OVER () AS total_count\n\tFROM documents")
	if len(q.conds) > 0 {
		sb.WriteString("\n\tWHERE ")
		sb.WriteString(strings.Join(q.conds, "\n\t  AND "))
	}
	if q.relevanceOrder {
		sb.WriteString("\n\tORDER BY score DESC, doc_date DESC")
	} else {
		sb.WriteString("\n\tORDER BY doc_date DESC, id DESC")
	}

	args := q.args
	sb.WriteString("\n\tLIMIT ")
	args = append(args, q.limit)
	fmt.Fprintf(&sb, "$%d", len(args))
	sb.WriteString(" OFFSET ")
	args = append(args, q.offset)
	fmt.Fprintf(&sb, "$%d", len(args))

	return sb.String(), args
}

// Run executes the query and returns the page of documents plus the total
// match count before paging.
func (q *Query) Run(ctx context.Context, conn Conn) ([]common.Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	sql, args := q.SQL()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var (
		docs  []common.Document
		total int
	)
	for rows.Next() {
		var doc common.Document
		if err := rows.Scan(
			&doc.ID, &doc.PublicID, &doc.DocNumber, &doc.Subject, &doc.Body,
			&doc.DocType, &doc.Category, &doc.Sender, &doc.Receiver,
			&doc.Status, &doc.ContractCase, &doc.DocDate, &doc.Score, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}
