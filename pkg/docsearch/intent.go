package docsearch

import (
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
)

// FromIntent maps a parsed intent onto a document query. Empty fields are
// skipped; the query orders by relevance when anything scoreable was set.
func FromIntent(parsed intent.ParsedIntent, embedding []float32, semanticWeight float64) *Query {
	q := NewQuery().
		WithKeywordsFull(parsed.Keywords).
		WithDocType(parsed.DocType).
		WithCategory(parsed.Category).
		WithSender(parsed.Sender).
		WithReceiver(parsed.Receiver).
		WithStatus(parsed.Status).
		WithContractCase(parsed.ContractCase).
		WithDateRange(parsed.DateFrom, parsed.DateTo)

	if len(embedding) > 0 {
		q.WithSemanticSearch(embedding, semanticWeight)
	}
	if q.keywordExpr != "" || q.semanticExpr != "" {
		q.WithRelevanceOrder()
	}
	return q
}
