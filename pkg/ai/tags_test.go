package ai

import (
	"strings"
	"testing"
)

func TestStripMetadataTags_RemovesMetadataSections(t *testing.T) {
	input := strings.Join([]string{
		"<doc-header>桃園市政府工務局 函</doc-header>",
		"<doc-header>第 2 頁，共 5 頁</doc-header>",
		"<doc-toc>一、主旨 .... 1\n二、說明 .... 2</doc-toc>",
		"主旨：有關環北路道路修繕工程案，請查照。",
		"<doc-footer>正本：大誠工程顧問有限公司</doc-footer>",
		"<doc-signature>局長 王○○</doc-signature>",
	}, "\n\n")

	cleaned := StripMetadataTags(input)

	if strings.Contains(cleaned, "<doc-header>") || strings.Contains(cleaned, "<doc-footer>") || strings.Contains(cleaned, "<doc-signature>") || strings.Contains(cleaned, "<doc-toc>") {
		t.Fatalf("StripMetadataTags() should remove all metadata tags, got %q", cleaned)
	}

	if !strings.Contains(cleaned, "主旨：有關環北路道路修繕工程案") {
		t.Fatalf("StripMetadataTags() should preserve main content, got %q", cleaned)
	}
}

func TestStripThinkTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no think block",
			in:   "plain answer",
			want: "plain answer",
		},
		{
			name: "single block",
			in:   "<think>internal reasoning</think>actual response",
			want: "actual response",
		},
		{
			name: "multiple blocks",
			in:   "<think>first</think>middle<think>second</think>end",
			want: "middleend",
		},
		{
			name: "unterminated block drops remainder",
			in:   "partial answer<think>cut off mid reason",
			want: "partial answer",
		},
		{
			name: "multiline block",
			in:   "<think>line one\nline two</think>\nfinal",
			want: "final",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripThinkTags(tt.in)
			if got != tt.want {
				t.Fatalf("StripThinkTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripMetadataTags_KeepsImageTags(t *testing.T) {
	input := strings.Join([]string{
		"<doc-header>派工單 DS-2025-0113</doc-header>",
		"施工項目：路面銑鋪。",
		"<image>現場照片：環北路與中山路口施工範圍。</image>",
		"<doc-footer>承辦單位：養護工程科</doc-footer>",
	}, "\n\n")

	cleaned := StripMetadataTags(input)

	if !strings.Contains(cleaned, "<image>現場照片：環北路與中山路口施工範圍。</image>") {
		t.Fatalf("StripMetadataTags() should preserve image tags, got %q", cleaned)
	}

	if strings.Contains(cleaned, "<doc-header>") || strings.Contains(cleaned, "<doc-footer>") {
		t.Fatalf("StripMetadataTags() should still remove metadata tags, got %q", cleaned)
	}
}

func TestExtractDocumentSections(t *testing.T) {
	input := strings.Join([]string{
		"<doc-header>桃園市政府水務局 函</doc-header>",
		"說明：旨揭工程進度如附件。",
		"<doc-signature>局長 林○○</doc-signature>",
	}, "\n")

	sections := ExtractDocumentSections(input)

	if sections.Header != "桃園市政府水務局 函" {
		t.Fatalf("Header = %q, want issuing agency line", sections.Header)
	}
	if sections.Signature != "局長 林○○" {
		t.Fatalf("Signature = %q, want signer line", sections.Signature)
	}
	if sections.Footer != "" {
		t.Fatalf("Footer = %q, want empty for missing tag", sections.Footer)
	}
}
