package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
)

// DedupeBatchSize caps how many entities a single dedupe call may carry.
// Larger batches degrade model recall and blow the context window.
const DedupeBatchSize = 300

// DedupeCandidate is one entity name submitted for duplicate detection.
type DedupeCandidate struct {
	Name string
	Type string
}

// DuplicateGroup represents a group of duplicate entities with a canonical name
type DuplicateGroup struct {
	Name     string   `json:"canonicalName" jsonschema_description:"The final name for the deduplicated entities."`
	Entities []string `json:"entities" jsonschema_description:"List of entity names that are considered duplicates."`
}

// DuplicatesResponse is the response from the AI dedupe call
type DuplicatesResponse struct {
	Duplicates []DuplicateGroup `json:"duplicates" jsonschema_description:"List of groups of duplicate entities."`
}

// CallDedupeAI asks the model which of the given entities refer to the same
// real-world thing. Candidates are normalized first; batches beyond
// DedupeBatchSize are rejected so callers chunk their sweeps.
func CallDedupeAI(
	ctx context.Context,
	candidates []DedupeCandidate,
	aiClient Client,
	maxRetries int,
) (*DuplicatesResponse, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(candidates) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}

	cleaned := make([]DedupeCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		name := NormalizeDedupeValue(candidate.Name)
		typeName := NormalizeDedupeValue(candidate.Type)
		if name == "" || typeName == "" {
			continue
		}
		cleaned = append(cleaned, DedupeCandidate{Name: name, Type: typeName})
	}
	if len(cleaned) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}
	if len(cleaned) > DedupeBatchSize {
		return nil, fmt.Errorf("dedupe batch size exceeded: %d > %d", len(cleaned), DedupeBatchSize)
	}

	var entityData strings.Builder
	entityData.WriteString("Entities:\n")
	for _, e := range cleaned {
		fmt.Fprintf(&entityData, "- Name: %s, Type: %s\n", e.Name, e.Type)
	}
	prompt := fmt.Sprintf(DedupePrompt, entityData.String())

	var res DuplicatesResponse
	err := util.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "dedupe_entities", "Deduplicate similar entities.", prompt, &res,
			WithPreferLocal(),
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// NormalizeDedupeValue standardizes names for dedupe comparisons.
func NormalizeDedupeValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}
