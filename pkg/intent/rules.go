package intent

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// rocYearOffset converts a Republic of China calendar year to Gregorian.
	rocYearOffset = 1911

	// keywordOnlyConfidence applies when no rule matched but keywords were
	// extracted from the query text.
	keywordOnlyConfidence = 0.3
)

// Rule is one deterministic extraction step. Apply receives the reference
// time and the regex submatches (index 0 is the full match) and writes into
// the intent; fields already set by an earlier rule are left alone.
type Rule struct {
	Name       string
	Confidence float64

	pattern *regexp.Regexp
	apply   func(now time.Time, groups []string, intent *ParsedIntent)

	// consume removes the matched text before keyword extraction so rule
	// captures do not reappear as keyword bigrams.
	consume bool
}

// Engine applies an ordered rule set to a query. All matching rules
// contribute fields; the engine's confidence is the strongest matched rule.
type Engine struct {
	rules []Rule
	now   func() time.Time
}

// NewEngine creates an Engine over the given rules. A nil slice selects the
// compiled-in defaults.
func NewEngine(rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{rules: rules, now: time.Now}
}

// NewEngineFromConfig loads declarative rules from a JSON file and prepends
// them to the compiled-in defaults, so configured rules take priority.
func NewEngineFromConfig(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule config: %w", err)
	}
	var configs []RuleConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse rule config: %w", err)
	}

	rules := make([]Rule, 0, len(configs)+16)
	for _, rc := range configs {
		rule, err := compileRuleConfig(rc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	rules = append(rules, DefaultRules()...)
	return NewEngine(rules), nil
}

// RuleConfig is the declarative form of a rule for external configuration.
// Value defaults to the first capture group (or the full match); Field names
// the intent field to set: doc_type, category, status, sender, receiver,
// contract_case, or dispatch.
type RuleConfig struct {
	Name       string  `json:"name"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Field      string  `json:"field"`
	Value      string  `json:"value,omitempty"`
	Consume    bool    `json:"consume,omitempty"`
}

func compileRuleConfig(rc RuleConfig) (Rule, error) {
	re, err := regexp.Compile(rc.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}

	field := rc.Field
	value := rc.Value
	apply := func(now time.Time, groups []string, intent *ParsedIntent) {
		v := value
		if v == "" {
			if len(groups) > 1 && groups[1] != "" {
				v = groups[1]
			} else {
				v = groups[0]
			}
		}
		switch field {
		case "doc_type":
			if intent.DocType == "" {
				intent.DocType = v
			}
		case "category":
			if intent.Category == "" {
				intent.Category = v
			}
		case "status":
			if intent.Status == "" {
				intent.Status = v
			}
		case "sender":
			if intent.Sender == "" {
				intent.Sender = v
			}
		case "receiver":
			if intent.Receiver == "" {
				intent.Receiver = v
			}
		case "contract_case":
			if intent.ContractCase == "" {
				intent.ContractCase = v
			}
		case "dispatch":
			intent.SearchDispatch = true
		}
	}

	return Rule{
		Name:       rc.Name,
		Confidence: rc.Confidence,
		pattern:    re,
		apply:      apply,
		consume:    rc.Consume,
	}, nil
}

// agencyPattern matches the bureaus, offices, and district bodies that appear
// in queries, with or without the municipal prefix.
const agencyPattern = `((?:桃園市政府)?(?:工務局|水務局|環保局|地政局|都發局|民政局|交通局|養護工程處|新建工程處|捷運工程局|[\p{Han}]{1,3}區公所))`

// DefaultRules returns the compiled-in rule set, in application order.
// Specific date forms come before general ones because rules only fill empty
// fields.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "gregorian_date_range",
			Confidence: 0.92,
			pattern:    regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:~|到|至)\s*(\d{4}-\d{2}-\d{2})`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				from, errFrom := time.Parse("2006-01-02", groups[1])
				to, errTo := time.Parse("2006-01-02", groups[2])
				if errFrom != nil || errTo != nil || to.Before(from) {
					return
				}
				setDateRange(intent, from, to)
			},
			consume: true,
		},
		{
			Name:       "year_month",
			Confidence: 0.92,
			pattern:    regexp.MustCompile(`(\d{2,4})\s*年\s*(\d{1,2})\s*月`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				year, ok := normalizeYear(groups[1])
				if !ok {
					return
				}
				month, err := strconv.Atoi(groups[2])
				if err != nil || month < 1 || month > 12 {
					return
				}
				first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
				setDateRange(intent, first, first.AddDate(0, 1, -1))
			},
			consume: true,
		},
		{
			Name:       "year",
			Confidence: 0.9,
			pattern:    regexp.MustCompile(`(\d{2,4})\s*年度?`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				year, ok := normalizeYear(groups[1])
				if !ok {
					return
				}
				setDateRange(intent,
					time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC))
			},
			consume: true,
		},
		{
			Name:       "previous_month",
			Confidence: 0.88,
			pattern:    regexp.MustCompile(`上個?月`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
				setDateRange(intent, first, first.AddDate(0, 1, -1))
			},
			consume: true,
		},
		{
			Name:       "current_month",
			Confidence: 0.88,
			pattern:    regexp.MustCompile(`這個月|本月`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
				setDateRange(intent, first, first.AddDate(0, 1, -1))
			},
			consume: true,
		},
		{
			Name:       "current_year",
			Confidence: 0.88,
			pattern:    regexp.MustCompile(`今年`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				setDateRange(intent,
					time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(now.Year(), 12, 31, 0, 0, 0, 0, time.UTC))
			},
			consume: true,
		},
		{
			Name:       "previous_year",
			Confidence: 0.88,
			pattern:    regexp.MustCompile(`去年`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				year := now.Year() - 1
				setDateRange(intent,
					time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC))
			},
			consume: true,
		},
		{
			Name:       "sender_agency",
			Confidence: 0.85,
			pattern:    regexp.MustCompile(agencyPattern + `(?:寄來|來函|發文|發的|來的)`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.Sender == "" {
					intent.Sender = groups[1]
				}
			},
			consume: true,
		},
		{
			Name:       "receiver_agency",
			Confidence: 0.85,
			pattern:    regexp.MustCompile(`(?:發給|寄給|給|致|函覆)` + agencyPattern),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.Receiver == "" {
					intent.Receiver = groups[1]
				}
			},
			consume: true,
		},
		{
			Name:       "bare_agency",
			Confidence: 0.7,
			pattern:    regexp.MustCompile(agencyPattern),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.Sender == "" && intent.Receiver == "" {
					intent.Sender = groups[1]
				}
			},
			consume: true,
		},
		{
			Name:       "status",
			Confidence: 0.8,
			pattern:    regexp.MustCompile(`待處理|處理中|已結案|已歸檔`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.Status == "" {
					intent.Status = groups[0]
				}
			},
			consume: true,
		},
		{
			Name:       "contract_case",
			Confidence: 0.85,
			pattern:    regexp.MustCompile(`(?:案號|標案)\s*[:：]?\s*([A-Za-z0-9-]+)|(\d{2,3}-\d{2,4})\s*案`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.ContractCase != "" {
					return
				}
				if groups[1] != "" {
					intent.ContractCase = groups[1]
				} else if groups[2] != "" {
					intent.ContractCase = groups[2]
				}
			},
			consume: true,
		},
		{
			Name:       "dispatch_order",
			Confidence: 0.8,
			pattern:    regexp.MustCompile(`派工單|派工|工單|施工單`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				intent.SearchDispatch = true
			},
			consume: true,
		},
		{
			Name:       "doc_type",
			Confidence: 0.6,
			pattern:    regexp.MustCompile(`開會通知單|書函|公告|函|簽呈|簽|令`),
			apply: func(now time.Time, groups []string, intent *ParsedIntent) {
				if intent.DocType == "" {
					intent.DocType = groups[0]
				}
			},
			consume: true,
		},
	}
}

// Match runs every rule against the query and extracts keywords from the
// unmatched remainder. The second return reports whether anything at all was
// extracted.
func (e *Engine) Match(query string) (ParsedIntent, bool) {
	var intent ParsedIntent
	now := e.now()
	best := 0.0
	matched := false
	residual := query

	for _, rule := range e.rules {
		loc := rule.pattern.FindStringSubmatchIndex(query)
		if loc == nil {
			continue
		}
		rule.apply(now, submatchStrings(query, loc), &intent)
		matched = true
		if rule.Confidence > best {
			best = rule.Confidence
		}
		if rule.consume {
			residual = strings.Replace(residual, query[loc[0]:loc[1]], " ", 1)
		}
	}

	intent.Keywords = ExtractKeywords(residual)

	switch {
	case matched:
		intent.Confidence = best
	case len(intent.Keywords) > 0:
		intent.Confidence = keywordOnlyConfidence
		matched = true
	}
	return intent, matched
}

func submatchStrings(s string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		groups[i] = s[start:end]
	}
	return groups
}

func setDateRange(intent *ParsedIntent, from, to time.Time) {
	if intent.DateFrom == "" {
		intent.DateFrom = from.Format("2006-01-02")
	}
	if intent.DateTo == "" {
		intent.DateTo = to.Format("2006-01-02")
	}
}

// normalizeYear maps a matched year number to a Gregorian year. Values in the
// ROC range (80–199, i.e. 1991–2110) are shifted by 1911; four-digit values
// pass through; anything else is rejected.
func normalizeYear(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	switch {
	case n >= 1900 && n <= 2200:
		return n, true
	case n >= 80 && n < 200:
		return n + rocYearOffset, true
	default:
		return 0, false
	}
}

// datePhrases matches the date expressions the rules extract, for stripping
// them out of residual text before keyword synthesis.
var datePhrases = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{2,4}\s*年度?(?:\s*\d{1,2}\s*月)?|上個?月|這個月|本月|今年|去年`)

// stopTerms are generic query words that carry no search signal. They are
// removed before keyword extraction.
var stopTerms = []string{
	"有沒有", "請問", "相關", "關於", "有關", "查詢", "搜尋", "尋找",
	"找出", "列出", "顯示", "幫我", "我要", "給我", "哪些", "什麼",
	"公文", "文件", "資料",
}

// hanParticles split a han run into separate keyword segments.
var hanParticles = "的之與及和或於在是了嗎呢吧"

// ExtractKeywords extracts search keywords from free text: runs of han
// characters are split on particles and chunked into bigrams; latin and digit
// tokens of two or more characters pass through unchanged.
func ExtractKeywords(text string) []string {
	for _, term := range stopTerms {
		text = strings.ReplaceAll(text, term, " ")
	}

	var keywords []string
	var han, latin strings.Builder

	flushHan := func() {
		if han.Len() > 0 {
			keywords = append(keywords, hanBigrams(han.String())...)
			han.Reset()
		}
	}
	flushLatin := func() {
		if token := latin.String(); len([]rune(token)) >= 2 {
			keywords = append(keywords, token)
		}
		latin.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			if strings.ContainsRune(hanParticles, r) {
				flushHan()
				continue
			}
			han.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin.WriteRune(r)
		default:
			flushHan()
			flushLatin()
		}
	}
	flushHan()
	flushLatin()

	return keywords
}

// hanBigrams chunks a han run into non-overlapping two-character keywords.
// An odd trailing character folds into a final overlapping bigram so no
// single-character fragment is emitted.
func hanBigrams(run string) []string {
	runes := []rune(run)
	if len(runes) < 2 {
		return nil
	}
	var out []string
	for i := 0; i+1 < len(runes); i += 2 {
		out = append(out, string(runes[i:i+2]))
	}
	if len(runes)%2 == 1 {
		out = append(out, string(runes[len(runes)-2:]))
	}
	return out
}
