// Package intent turns natural-language search queries into structured
// document filters through a layered cascade: a deterministic rule engine, a
// vector match against past searches, and an LLM parse, merged by confidence.
package intent

// Layer source labels reported alongside a parsed intent.
const (
	SourceRuleEngine = "rule_engine"
	SourceVector     = "vector"
	SourceLLM        = "llm"
	SourceMerged     = "merged"
	SourceFallback   = "fallback"
)

// ParsedIntent is the structured filter set extracted from one query. Date
// fields use Gregorian ISO format (YYYY-MM-DD). A zero value means the field
// was not extracted.
type ParsedIntent struct {
	Keywords       []string `json:"keywords,omitempty"`
	DocType        string   `json:"doc_type,omitempty"`
	Category       string   `json:"category,omitempty"`
	Sender         string   `json:"sender,omitempty"`
	Receiver       string   `json:"receiver,omitempty"`
	DateFrom       string   `json:"date_from,omitempty"`
	DateTo         string   `json:"date_to,omitempty"`
	Status         string   `json:"status,omitempty"`
	ContractCase   string   `json:"contract_case,omitempty"`
	SearchDispatch bool     `json:"search_dispatch,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// IsEmpty reports whether no filter field was extracted at all. Confidence is
// not considered.
func (i ParsedIntent) IsEmpty() bool {
	return len(i.Keywords) == 0 &&
		i.DocType == "" &&
		i.Category == "" &&
		i.Sender == "" &&
		i.Receiver == "" &&
		i.DateFrom == "" &&
		i.DateTo == "" &&
		i.Status == "" &&
		i.ContractCase == "" &&
		!i.SearchDispatch
}

// LayerIntent is one cascade layer's contribution to a merge.
type LayerIntent struct {
	Source string
	Intent ParsedIntent
}

// layerWeights drives the merged confidence. The split is a tunable default,
// not a calibrated constant.
var layerWeights = map[string]float64{
	SourceRuleEngine: 0.3,
	SourceVector:     0.3,
	SourceLLM:        0.4,
}

var layerRank = map[string]int{
	SourceRuleEngine: 0,
	SourceVector:     1,
	SourceLLM:        2,
}

// MergeIntents combines partial results from multiple cascade layers.
//
// Deterministic fields (dates, status, doc type, category, contract case, the
// dispatch flag) take the first non-empty value in rule → vector → LLM order:
// the cheaper layers are exact-match driven and trusted more. Semantic fields
// (keywords, sender, receiver) take the last non-empty value in the same
// order, so the LLM's fuzzier language understanding wins when it produced
// anything. Confidence is the weight-normalized average over the layers that
// contributed. Merging a single layer returns that layer's intent unchanged.
func MergeIntents(layers []LayerIntent) ParsedIntent {
	if len(layers) == 0 {
		return ParsedIntent{}
	}
	if len(layers) == 1 {
		return layers[0].Intent
	}

	ordered := make([]LayerIntent, 0, len(layers))
	for rank := 0; rank < len(layerRank); rank++ {
		for _, layer := range layers {
			if layerRank[layer.Source] == rank {
				ordered = append(ordered, layer)
			}
		}
	}

	var merged ParsedIntent
	weightSum := 0.0
	confidenceSum := 0.0

	for _, layer := range ordered {
		it := layer.Intent

		// deterministic: first non-empty wins
		if merged.DateFrom == "" {
			merged.DateFrom = it.DateFrom
		}
		if merged.DateTo == "" {
			merged.DateTo = it.DateTo
		}
		if merged.Status == "" {
			merged.Status = it.Status
		}
		if merged.DocType == "" {
			merged.DocType = it.DocType
		}
		if merged.Category == "" {
			merged.Category = it.Category
		}
		if merged.ContractCase == "" {
			merged.ContractCase = it.ContractCase
		}
		if it.SearchDispatch {
			merged.SearchDispatch = true
		}

		// semantic: later layers overwrite
		if len(it.Keywords) > 0 {
			merged.Keywords = it.Keywords
		}
		if it.Sender != "" {
			merged.Sender = it.Sender
		}
		if it.Receiver != "" {
			merged.Receiver = it.Receiver
		}

		w := layerWeights[layer.Source]
		weightSum += w
		confidenceSum += w * it.Confidence
	}

	if weightSum > 0 {
		merged.Confidence = confidenceSum / weightSum
	}
	return merged
}
