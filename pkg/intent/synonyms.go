package intent

import "strings"

// keywordSynonyms expands common query terms with the variants used in
// document subjects, so keyword search does not miss near-identical phrasing.
var keywordSynonyms = map[string][]string{
	"查估":  {"協議查估", "查估作業"},
	"修繕":  {"修復", "改善"},
	"防汛":  {"防汛整備", "汛期"},
	"路平":  {"路平專案", "道路平整"},
	"用地":  {"土地", "用地取得"},
	"驗收":  {"竣工驗收", "初驗"},
	"會勘":  {"現場會勘", "勘查"},
	"經費":  {"預算", "費用"},
	"陳情":  {"陳情案", "民眾陳情"},
	"招標":  {"標案", "發包"},
}

// agencyFullNames maps bureau abbreviations to their full official names.
var agencyFullNames = map[string]string{
	"工務局":   "桃園市政府工務局",
	"水務局":   "桃園市政府水務局",
	"環保局":   "桃園市政府環境保護局",
	"地政局":   "桃園市政府地政局",
	"都發局":   "桃園市政府都市發展局",
	"民政局":   "桃園市政府民政局",
	"交通局":   "桃園市政府交通局",
	"養護工程處": "桃園市政府養護工程處",
	"新建工程處": "桃園市政府新建工程處",
	"捷運工程局": "桃園市政府捷運工程局",
}

// dispatchTerms flag a query as targeting dispatch work orders.
var dispatchTerms = []string{"派工單", "派工", "工單", "施工單"}

// expandSynonyms appends known synonyms after each keyword, preserving the
// original order. The caller dedupes afterwards.
func expandSynonyms(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, kw)
		out = append(out, keywordSynonyms[kw]...)
	}
	return out
}

// expandAgency resolves a bureau abbreviation to its full official name.
// Unknown names pass through unchanged.
func expandAgency(name string) string {
	if full, ok := agencyFullNames[name]; ok {
		return full
	}
	return name
}

// mentionsDispatch reports whether the text names a dispatch work order.
func mentionsDispatch(text string) bool {
	for _, term := range dispatchTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// dedupeKeywords removes duplicates case-insensitively while keeping first
// occurrence order.
func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
