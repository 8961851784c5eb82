// Package graph builds and serves the knowledge graph over the document
// corpus: LLM entity extraction, idempotent ingestion into canonical nodes
// and weighted edges, and the cached traversal queries the agent tools run.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
)

const (
	defaultNERConfidence = 0.5

	// extractBodyLimit truncates document bodies before extraction so one
	// oversized attachment transcript cannot blow the context window.
	extractBodyLimit = 8000
)

// Extractor runs LLM entity and relationship extraction over documents.
type Extractor struct {
	client     ai.Client
	confidence float64
	maxRetries int
}

// ExtractorParams configures an Extractor. Zero values select defaults.
type ExtractorParams struct {
	Client        ai.Client
	MinConfidence float64
	MaxRetries    int
}

func NewExtractor(params ExtractorParams) *Extractor {
	if params.MinConfidence <= 0 || params.MinConfidence > 1 {
		params.MinConfidence = defaultNERConfidence
	}
	if params.MaxRetries < 1 {
		params.MaxRetries = 2
	}
	return &Extractor{
		client:     params.Client,
		confidence: params.MinConfidence,
		maxRetries: params.MaxRetries,
	}
}

// Extraction is the filtered result of one document extraction.
type Extraction struct {
	Entities  []common.ExtractedEntity
	Relations []common.ExtractedRelation
}

// extractResponse mirrors the JSON contract of the extraction prompt.
type extractResponse struct {
	Entities      []extractedEntityJSON   `json:"entities"`
	Relationships []extractedRelationJSON `json:"relationships"`
}

type extractedEntityJSON struct {
	EntityName string  `json:"entity_name" jsonschema_description:"Exact entity name as written in the text"`
	EntityType string  `json:"entity_type" jsonschema_description:"One of the provided entity types"`
	Confidence float64 `json:"confidence" jsonschema_description:"How certain the text supports this entity, 0.0-1.0"`
	Context    string  `json:"context" jsonschema_description:"Shortest text fragment mentioning the entity"`
}

type extractedRelationJSON struct {
	SourceEntity string  `json:"source_entity" jsonschema_description:"Name of the source entity"`
	TargetEntity string  `json:"target_entity" jsonschema_description:"Name of the target entity"`
	RelationType string  `json:"relationship_type" jsonschema_description:"Short relationship label"`
	Description  string  `json:"relationship_description" jsonschema_description:"How the text connects the two entities"`
	Strength     float64 `json:"relationship_strength" jsonschema_description:"Relationship strength, 0.0-1.0"`
}

// Extract runs NER over one document and filters the response down to known
// entity types above the confidence threshold. Relations keep only pairs
// whose endpoints survived the entity filter.
func (e *Extractor) Extract(ctx context.Context, doc common.Document) (Extraction, error) {
	if e.client == nil {
		return Extraction{}, fmt.Errorf("ai client is nil")
	}

	types := strings.Join(common.EntityTypes, ", ")
	prompt := fmt.Sprintf(ai.ExtractPrompt, types, doc.Subject, types, types)
	prompt += fmt.Sprintf("\n# Input\n**Text:**\n%s\n",
		util.TruncateRunes(doc.Body, extractBodyLimit))

	var res extractResponse
	err := util.RetryErrWithContext(ctx, e.maxRetries, func(ctx context.Context) error {
		return e.client.GenerateCompletionWithFormat(
			ctx, "extract_graph", "Extract entities and relationships from an official document.",
			prompt, &res,
			ai.WithPreferLocal(),
		)
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extraction failed for document %d: %w", doc.ID, err)
	}

	return e.filter(doc.ID, res), nil
}

func (e *Extractor) filter(documentID int64, res extractResponse) Extraction {
	var out Extraction
	kept := make(map[string]bool)
	dropped := 0

	for _, ent := range res.Entities {
		name := strings.TrimSpace(ent.EntityName)
		if name == "" || !common.IsKnownEntityType(ent.EntityType) || ent.Confidence < e.confidence {
			dropped++
			continue
		}
		out.Entities = append(out.Entities, common.ExtractedEntity{
			DocumentID: documentID,
			Name:       name,
			Type:       ent.EntityType,
			Confidence: ent.Confidence,
			Context:    strings.TrimSpace(ent.Context),
		})
		kept[name] = true
	}

	for _, rel := range res.Relationships {
		src := strings.TrimSpace(rel.SourceEntity)
		tgt := strings.TrimSpace(rel.TargetEntity)
		if src == "" || tgt == "" || src == tgt || !kept[src] || !kept[tgt] {
			continue
		}
		strength := rel.Strength
		if strength <= 0 || strength > 1 {
			strength = 0.5
		}
		out.Relations = append(out.Relations, common.ExtractedRelation{
			DocumentID:   documentID,
			SourceName:   src,
			TargetName:   tgt,
			RelationType: strings.TrimSpace(rel.RelationType),
			Strength:     strength,
			Description:  strings.TrimSpace(rel.Description),
		})
	}

	if dropped > 0 {
		logger.Debug("[Graph] Dropped low-confidence extractions",
			"document_id", documentID, "dropped", dropped, "kept", len(out.Entities))
	}
	return out
}
