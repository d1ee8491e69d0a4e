package iptables

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	chainHeaderMarker  = "Chain"
	columnHeaderMarker = "target"
	descriptorFields   = 10
)

var (
	ruleNumberPattern = regexp.MustCompile(`^(\d+)`)

	// Checked in order; the first keyword found anywhere in the line wins.
	actionKeywords = []string{ActionAccept, ActionDrop, ActionReject}
)

// ParseLine parses a single line of `iptables -L -n -v --line-numbers`
// output. The boolean is false for lines that carry no row: blank lines and
// the column header.
func ParseLine(line string) (Row, bool) {
	if strings.Contains(line, chainHeaderMarker) {
		return Row{Kind: RowChainHeader, Raw: line}, true
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.Contains(line, columnHeaderMarker) {
		return Row{}, false
	}

	fields := strings.Fields(trimmed)
	protocolCode := fieldOr(fields, 4, "-")

	return Row{
		Kind:         RowRule,
		Raw:          line,
		RuleNumber:   extractRuleNumber(trimmed),
		Packets:      fieldOr(fields, 1, "-"),
		Bytes:        fieldOr(fields, 2, "-"),
		ProtocolCode: protocolCode,
		ProtocolName: ResolveProtocolName(protocolCode),
		TCPFlags:     DecodeTCPFlags(line),
		TCPFlagsRaw:  ExtractTCPFlagsRaw(line),
		Action:       ClassifyAction(line),
		Descriptor:   formatDescriptor(fields, line),
	}, true
}

// ParseListing parses a full listing. Rule rows without a leading rule
// number are numbered by their 1-based position in lines.
func ParseListing(lines []string) []Row {
	rows := make([]Row, 0, len(lines))
	for i, line := range lines {
		row, ok := ParseLine(line)
		if !ok {
			continue
		}
		if row.Kind == RowRule && row.RuleNumber == "" {
			row.RuleNumber = strconv.Itoa(i + 1)
		}
		rows = append(rows, row)
	}
	return rows
}

// RuleCount returns the number of rule rows, ignoring chain headers.
func RuleCount(rows []Row) int {
	count := 0
	for _, row := range rows {
		if row.Kind == RowRule {
			count++
		}
	}
	return count
}

// ClassifyAction reports the first of ACCEPT, DROP or REJECT that occurs in
// line, or OTHER. The search covers the whole line, so a keyword inside
// match text (a comment, for instance) is picked up as well.
func ClassifyAction(line string) string {
	for _, keyword := range actionKeywords {
		if strings.Contains(line, keyword) {
			return keyword
		}
	}
	return ActionOther
}

func extractRuleNumber(trimmed string) string {
	if m := ruleNumberPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return ""
}

func formatDescriptor(fields []string, line string) string {
	if len(fields) < descriptorFields {
		return line
	}
	return strings.Join(fields[4:9], " ") + " → " + fields[9]
}

func fieldOr(fields []string, idx int, fallback string) string {
	if idx < len(fields) && fields[idx] != "" {
		return fields[idx]
	}
	return fallback
}
