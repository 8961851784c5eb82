package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
)

// Tool names the planner may schedule. Anything else in a model response is
// dropped during validation.
const (
	ToolSearchDocuments      = "search_documents"
	ToolSearchEntities       = "search_entities"
	ToolGetEntityDetail      = "get_entity_detail"
	ToolFindSimilar          = "find_similar"
	ToolGetStatistics        = "get_statistics"
	ToolSearchDispatchOrders = "search_dispatch_orders"
)

var allowedTools = map[string]bool{
	ToolSearchDocuments:      true,
	ToolSearchEntities:       true,
	ToolGetEntityDetail:      true,
	ToolFindSimilar:          true,
	ToolGetStatistics:        true,
	ToolSearchDispatchOrders: true,
}

// maxPlanSteps bounds one iteration's tool calls.
const maxPlanSteps = 4

// ToolParams is the union of parameters the planner can hand a tool. Each
// tool reads the fields it understands and ignores the rest.
type ToolParams struct {
	Query      string   `json:"query,omitempty" jsonschema_description:"Free-text query for search tools"`
	Keywords   []string `json:"keywords,omitempty" jsonschema_description:"Content keywords for document search"`
	DateFrom   string   `json:"date_from,omitempty" jsonschema_description:"Start of the date range, YYYY-MM-DD"`
	DateTo     string   `json:"date_to,omitempty" jsonschema_description:"End of the date range, YYYY-MM-DD"`
	Sender     string   `json:"sender,omitempty" jsonschema_description:"Issuing agency or person"`
	Receiver   string   `json:"receiver,omitempty" jsonschema_description:"Receiving agency or person"`
	DocType    string   `json:"doc_type,omitempty" jsonschema_description:"Official document class"`
	Status     string   `json:"status,omitempty" jsonschema_description:"Processing status"`
	EntityType string   `json:"entity_type,omitempty" jsonschema_description:"Entity type filter for entity search"`
	EntityID   string   `json:"entity_id,omitempty" jsonschema_description:"Public id of an entity"`
	EntityName string   `json:"entity_name,omitempty" jsonschema_description:"Entity name when the id is unknown"`
	DocumentID int64    `json:"document_id,omitempty" jsonschema_description:"Internal id of a document"`
	Agency     string   `json:"agency,omitempty" jsonschema_description:"Agency filter for dispatch orders"`
	Year       int      `json:"year,omitempty" jsonschema_description:"Year filter for dispatch orders"`
	Limit      int      `json:"limit,omitempty" jsonschema_description:"Maximum results to return"`
}

// PlanStep is one scheduled tool call.
type PlanStep struct {
	Tool   string     `json:"tool" jsonschema_description:"Name of the tool to call"`
	Params ToolParams `json:"params" jsonschema_description:"Parameters for the tool"`
	Reason string     `json:"reason,omitempty" jsonschema_description:"What this call should retrieve"`
}

// Plan is the ordered tool schedule of one iteration.
type Plan struct {
	Steps []PlanStep `json:"steps" jsonschema_description:"Tool calls to execute, empty when none are needed"`
}

// Planner decides which tools a question needs. The model plans; rules
// validate, fill gaps from the parsed intent, and handle the degraded path
// when the model is unavailable.
type Planner struct {
	client     ai.Client
	maxRetries int
}

// PlannerParams configures a Planner.
type PlannerParams struct {
	Client     ai.Client
	MaxRetries int
}

func NewPlanner(params PlannerParams) *Planner {
	if params.MaxRetries < 1 {
		params.MaxRetries = 2
	}
	return &Planner{client: params.Client, maxRetries: params.MaxRetries}
}

// chitchatMarkers match greetings and courtesy phrases that need no
// retrieval at all.
var chitchatMarkers = []string{
	"你好", "妳好", "您好", "哈囉", "嗨", "早安", "午安", "晚安",
	"謝謝", "感謝", "辛苦了", "再見", "掰掰",
	"hi", "hello", "hey", "thanks", "thank you", "bye", "good morning",
}

// IsChitchat reports whether the message is a greeting rather than a search
// request. Only short messages qualify; a greeting followed by a real
// question must still be planned.
func IsChitchat(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	trimmed = strings.Trim(trimmed, "!！?？。.,，~ ")
	if trimmed == "" {
		return false
	}
	if len([]rune(trimmed)) > 12 {
		return false
	}
	for _, marker := range chitchatMarkers {
		if trimmed == marker || strings.HasPrefix(trimmed, marker+" ") {
			return true
		}
	}
	return false
}

// Plan asks the model for a tool schedule. Unknown tools are dropped, the
// step count is capped, and intent hints fill parameters the model left
// empty. Model failure degrades to a rule-built plan; a deliberately empty
// plan passes through so the orchestrator can take the plain retrieval path.
func (p *Planner) Plan(ctx context.Context, query string, parsed intent.ParsedIntent, history string) Plan {
	plan, err := p.llmPlan(ctx, query, parsed, history)
	if err != nil {
		logger.Warn("[Agent] Planning failed, using fallback plan", "error", err)
		plan = FallbackPlan(parsed, query)
	}
	plan = validatePlan(plan)
	return MergeIntentHints(plan, parsed)
}

func (p *Planner) llmPlan(ctx context.Context, query string, parsed intent.ParsedIntent, history string) (Plan, error) {
	if p.client == nil {
		return Plan{}, fmt.Errorf("ai client is nil")
	}

	intentJSON, err := json.Marshal(parsed)
	if err != nil {
		return Plan{}, err
	}
	if history == "" {
		history = "(none)"
	}
	prompt := fmt.Sprintf(ai.PlanPrompt,
		ai.WrapUserQuery(query), string(intentJSON), history)

	var plan Plan
	err = p.client.GenerateCompletionWithFormat(
		ctx, "plan_retrieval", "Plan retrieval tool calls for a user question.",
		prompt, &plan,
	)
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func validatePlan(plan Plan) Plan {
	out := Plan{Steps: make([]PlanStep, 0, len(plan.Steps))}
	for _, step := range plan.Steps {
		if !allowedTools[step.Tool] {
			logger.Debug("[Agent] Dropping unknown planned tool", "tool", step.Tool)
			continue
		}
		out.Steps = append(out.Steps, step)
		if len(out.Steps) == maxPlanSteps {
			break
		}
	}
	return out
}

// FallbackPlan builds the schedule used when the model cannot plan: a
// document search from the intent, plus a dispatch search when the intent
// asks for one.
func FallbackPlan(parsed intent.ParsedIntent, query string) Plan {
	var plan Plan
	plan.Steps = append(plan.Steps, PlanStep{
		Tool:   ToolSearchDocuments,
		Params: ToolParams{Query: query, Keywords: parsed.Keywords},
		Reason: "retrieve documents matching the query",
	})
	if parsed.SearchDispatch {
		plan.Steps = append(plan.Steps, PlanStep{
			Tool:   ToolSearchDispatchOrders,
			Params: ToolParams{Query: strings.Join(parsed.Keywords, " ")},
			Reason: "the query targets dispatch work orders",
		})
	}
	return plan
}

// MergeIntentHints copies intent filters into document-search steps that
// left them empty, so the plan benefits from the deterministic parse.
func MergeIntentHints(plan Plan, parsed intent.ParsedIntent) Plan {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Tool != ToolSearchDocuments {
			continue
		}
		if len(step.Params.Keywords) == 0 {
			step.Params.Keywords = parsed.Keywords
		}
		if step.Params.DateFrom == "" {
			step.Params.DateFrom = parsed.DateFrom
		}
		if step.Params.DateTo == "" {
			step.Params.DateTo = parsed.DateTo
		}
		if step.Params.Sender == "" {
			step.Params.Sender = parsed.Sender
		}
		if step.Params.Receiver == "" {
			step.Params.Receiver = parsed.Receiver
		}
		if step.Params.DocType == "" {
			step.Params.DocType = parsed.DocType
		}
		if step.Params.Status == "" {
			step.Params.Status = parsed.Status
		}
	}
	return plan
}

// Replan builds the next iteration's schedule from the previous results.
// The rules only broaden: when every document search came back empty, the
// filters most likely to over-constrain are dropped. No results and nothing
// left to drop ends the loop.
func Replan(prev Plan, results []ToolResult) (Plan, bool) {
	total := 0
	for _, res := range results {
		total += res.Count
	}
	if total > 0 {
		return Plan{}, false
	}

	var next Plan
	for _, step := range prev.Steps {
		if step.Tool != ToolSearchDocuments {
			continue
		}
		p := step.Params
		switch {
		case p.DateFrom != "" || p.DateTo != "" || p.Sender != "" ||
			p.Receiver != "" || p.DocType != "" || p.Status != "":
			next.Steps = append(next.Steps, PlanStep{
				Tool:   ToolSearchDocuments,
				Params: ToolParams{Query: p.Query, Keywords: p.Keywords},
				Reason: "retry without restrictive filters",
			})
		case len(p.Keywords) > 1:
			next.Steps = append(next.Steps, PlanStep{
				Tool:   ToolSearchDocuments,
				Params: ToolParams{Query: p.Query, Keywords: p.Keywords[:1]},
				Reason: "retry with the primary keyword only",
			})
		}
	}
	return next, len(next.Steps) > 0
}
