package common

import "time"

// Document represents one official document (missive) row as exposed to the
// retrieval layer. It carries the subset of columns the AI core reads:
// identity, routing metadata, free text, and the document date used for
// relationship validity windows.
//
// Documents are written by the upstream registry modules; the AI core only
// ever reads them.
type Document struct {
	ID           int64     `json:"document_id"`
	PublicID     string    `json:"public_id"`
	DocNumber    string    `json:"doc_number"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body,omitempty"`
	DocType      string    `json:"doc_type,omitempty"`
	Category     string    `json:"category,omitempty"`
	Sender       string    `json:"sender,omitempty"`
	Receiver     string    `json:"receiver,omitempty"`
	Status       string    `json:"status,omitempty"`
	ContractCase string    `json:"contract_case,omitempty"`
	DocDate      time.Time `json:"doc_date"`
	Score        float64   `json:"score,omitempty"`
}

// DocumentSource is the citation-ready projection of a document surfaced to
// clients in the agent's sources event. Only identifying fields are included;
// the body never leaves the server through this path.
type DocumentSource struct {
	DocumentID int64   `json:"document_id"`
	PublicID   string  `json:"public_id"`
	DocNumber  string  `json:"doc_number"`
	Subject    string  `json:"subject"`
	DocDate    string  `json:"doc_date,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// DispatchOrder represents one dispatch-order row from the works-bureau
// subsystem. The agent's search_dispatch_orders tool reads these; all writes
// happen in the dispatch CRUD modules.
type DispatchOrder struct {
	ID             int64     `json:"id"`
	OrderNumber    string    `json:"order_number"`
	ProjectName    string    `json:"project_name"`
	Agency         string    `json:"agency,omitempty"`
	Year           int       `json:"year,omitempty"`
	Status         string    `json:"status,omitempty"`
	ApprovedAmount float64   `json:"approved_amount,omitempty"`
	OrderDate      time.Time `json:"order_date"`
}

// ExtractedEntity is one raw NER hit staged for graph ingestion: a surface
// form found in a document together with its predicted type, the extractor's
// confidence, and a short context window around the mention.
type ExtractedEntity struct {
	DocumentID int64   `json:"document_id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context,omitempty"`
}

// ExtractedRelation is one raw relation candidate staged for graph ingestion.
// Endpoints are surface forms, not canonical IDs; resolution happens during
// ingestion and silently drops relations whose endpoints did not resolve.
type ExtractedRelation struct {
	DocumentID   int64   `json:"document_id"`
	SourceName   string  `json:"source_name"`
	TargetName   string  `json:"target_name"`
	RelationType string  `json:"relation_type"`
	Strength     float64 `json:"strength"`
	Description  string  `json:"description,omitempty"`
}

// Entity types recognized by the extraction and resolution layers.
const (
	EntityTypeOrg      = "org"
	EntityTypePerson   = "person"
	EntityTypeProject  = "project"
	EntityTypeLocation = "location"
	EntityTypeTopic    = "topic"
)

// EntityTypes lists all recognized entity types in a stable order.
var EntityTypes = []string{
	EntityTypeOrg,
	EntityTypePerson,
	EntityTypeProject,
	EntityTypeLocation,
	EntityTypeTopic,
}

// IsKnownEntityType reports whether t is one of the recognized entity types.
func IsKnownEntityType(t string) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}
