// Package ingest parses the markdown fact-authoring grammar into facts and
// annotations ready for a cartridge: an optional YAML-ish header, domain/
// subdomain headings, and a fact list-item grammar with inline confidence,
// source and temporal-bounds fields.
package ingest

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/kitbash/pkg/types"
)

// Header is the optional `---`-delimited front matter block.
type Header struct {
	CartridgeName     string
	EpistemicLevel    types.EpistemicLevel
	Domain            string
	Description       string
	Tags              []string
	BaselineConfidence float64
	TemporalScope     string
}

// ParsedFact is one ingested fact, ready to hand to cartridge.AddFact.
type ParsedFact struct {
	Content    string
	Domain     string
	Subdomain  string
	Source     string
	Confidence float64
	Temporal   *types.TemporalValidity
}

// Document is the full result of parsing one markdown source.
type Document struct {
	Header Header
	Facts  []ParsedFact
}

// Parse reads the markdown grammar from text.
func Parse(text string) (Document, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var doc Document
	doc.Header.BaselineConfidence = 0.8

	lines := readAllLines(scanner)
	idx := 0

	if idx < len(lines) && strings.TrimSpace(lines[idx]) == "---" {
		idx++
		for idx < len(lines) && strings.TrimSpace(lines[idx]) != "---" {
			parseHeaderLine(&doc.Header, lines[idx])
			idx++
		}
		idx++ // skip closing ---
	}

	var domain, subdomain string
	for ; idx < len(lines); idx++ {
		line := lines[idx]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "## "):
			subdomain = strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
		case strings.HasPrefix(trimmed, "# "):
			domain = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			subdomain = ""
		case strings.HasPrefix(trimmed, "- "):
			fact, err := parseFactLine(strings.TrimPrefix(trimmed, "- "), doc.Header)
			if err != nil {
				return doc, fmt.Errorf("ingest: line %d: %w", idx+1, err)
			}
			if fact.Domain == "" {
				fact.Domain = domain
			}
			fact.Subdomain = subdomain
			doc.Facts = append(doc.Facts, fact)
		}
	}

	return doc, nil
}

func readAllLines(scanner *bufio.Scanner) []string {
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func parseHeaderLine(h *Header, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	parts := strings.SplitN(trimmed, ":", 2)
	if len(parts) != 2 {
		return
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])

	switch key {
	case "cartridge_name":
		h.CartridgeName = value
	case "epistemic_level":
		h.EpistemicLevel = types.EpistemicLevel(value)
	case "domain":
		h.Domain = value
	case "description":
		h.Description = value
	case "tags":
		h.Tags = splitList(value)
	case "baseline_confidence":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			h.BaselineConfidence = f
		}
	case "temporal_scope":
		h.TemporalScope = value
	}
}

func splitList(value string) []string {
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFactLine parses `fact | source | confidence | temporal_bounds`,
// filling any trailing omitted fields from the header's defaults.
func parseFactLine(line string, header Header) (ParsedFact, error) {
	fields := strings.Split(line, "|")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	fact := ParsedFact{Confidence: header.BaselineConfidence}
	if len(fields) == 0 || fields[0] == "" {
		return fact, fmt.Errorf("empty fact content")
	}
	fact.Content = fields[0]

	if len(fields) > 1 && fields[1] != "" {
		fact.Source = fields[1]
	}
	if len(fields) > 2 && fields[2] != "" {
		conf, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fact, fmt.Errorf("invalid confidence %q: %w", fields[2], err)
		}
		fact.Confidence = conf
	}

	bounds := header.TemporalScope
	if len(fields) > 3 && fields[3] != "" {
		bounds = fields[3]
	}
	if bounds != "" {
		tv, err := parseTemporalBounds(bounds)
		if err != nil {
			return fact, err
		}
		fact.Temporal = tv
	}

	return fact, nil
}

// parseTemporalBounds implements the grammar:
//   eternal | sometime | ~<n>_<unit> | <dateA> to <dateB>
// where a date is ISO-8601, a bare year, "today", "now", "past" or "future"
// (the latter two mapping to an open/null bound).
func parseTemporalBounds(s string) (*types.TemporalValidity, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "eternal" || s == "sometime":
		return &types.TemporalValidity{}, nil
	case strings.HasPrefix(s, "~"):
		return &types.TemporalValidity{Approximate: true}, nil
	}

	parts := strings.SplitN(s, " to ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid temporal bounds %q", s)
	}

	start, err := parseDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	end, err := parseDate(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}
	return &types.TemporalValidity{Start: start, End: end}, nil
}

func parseDate(s string) (*time.Time, error) {
	switch s {
	case "past", "future":
		return nil, nil
	case "today", "now":
		t := time.Now()
		return &t, nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	if year, err := strconv.Atoi(s); err == nil {
		t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		return &t, nil
	}
	return nil, fmt.Errorf("unparseable date %q", s)
}
