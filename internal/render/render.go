// Package render draws chain listings and status messages for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/view"
)

// Columns of a rule table.
var Columns = []string{"No.", "Rule", "TCP Flags", "Pkts", "Bytes", "Action"}

const emptyListing = "no rules to display"

var (
	mutedColor = lipgloss.Color("240")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	chainStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("62")).
			Padding(0, 1).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	actionColors = map[string]lipgloss.Color{
		iptables.ActionAccept: lipgloss.Color("#25A065"),
		iptables.ActionDrop:   lipgloss.Color("#DC3545"),
		iptables.ActionReject: lipgloss.Color("#FD7E14"),
		iptables.ActionOther:  mutedColor,
	}

	flagColors = map[string]lipgloss.Color{
		"SYN": lipgloss.Color("#0D6EFD"),
		"FIN": lipgloss.Color("#DC3545"),
		"RST": lipgloss.Color("#FFC107"),
		"PSH": lipgloss.Color("#25A065"),
		"ACK": lipgloss.Color("#6F42C1"),
		"URG": lipgloss.Color("#D63384"),
		"ECE": lipgloss.Color("#FD7E14"),
		"CWR": mutedColor,
	}

	messageColors = map[view.MessageType]lipgloss.Color{
		view.MessageInfo:    lipgloss.Color("#17A2B8"),
		view.MessageSuccess: lipgloss.Color("#25A065"),
		view.MessageError:   lipgloss.Color("#DC3545"),
	}
)

// Listing renders rows as one table per chain, each preceded by its chain
// header line.
func Listing(rows []iptables.Row) string {
	var b strings.Builder
	var pending [][]string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.WriteString(ruleTable(pending))
		b.WriteString("\n")
		pending = nil
	}

	for _, row := range rows {
		if row.Kind == iptables.RowChainHeader {
			flush()
			b.WriteString(chainStyle.Render(row.Raw))
			b.WriteString("\n")
			continue
		}
		pending = append(pending, Cells(row))
	}
	flush()

	if iptables.RuleCount(rows) == 0 {
		b.WriteString(emptyStyle.Render(emptyListing))
		b.WriteString("\n")
	}
	return b.String()
}

// Cells returns the styled table cells of a rule row in Columns order.
func Cells(row iptables.Row) []string {
	return []string{
		row.RuleNumber,
		strings.TrimSpace(row.ProtocolName + " " + row.Descriptor),
		Flags(row.TCPFlags),
		row.Packets,
		row.Bytes,
		Action(row.Action),
	}
}

// Action renders an action badge.
func Action(action string) string {
	color, ok := actionColors[action]
	if !ok {
		color = mutedColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(action)
}

// Flags renders decoded TCP flags, or "-" when there are none.
func Flags(flags []string) string {
	if len(flags) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(flags))
	for _, flag := range flags {
		color, ok := flagColors[flag]
		if !ok {
			color = mutedColor
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(color).Render(flag))
	}
	return strings.Join(parts, " ")
}

// Message renders a status line. An empty message renders as "".
func Message(msg string, kind view.MessageType) string {
	if msg == "" {
		return ""
	}
	color, ok := messageColors[kind]
	if !ok {
		color = mutedColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(msg)
}

// RuleCount renders how many rule rows a listing holds.
func RuleCount(rows []iptables.Row) string {
	n := iptables.RuleCount(rows)
	if n == 1 {
		return "1 rule found"
	}
	return fmt.Sprintf("%d rules found", n)
}

// Snapshot renders the selection line with its rule count, the listing and
// the status message.
func Snapshot(snap view.Snapshot) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("table " + snap.Table + " / chain " + snap.Chain))
	b.WriteString(countStyle.Render(RuleCount(snap.Rows)))
	b.WriteString("\n")
	b.WriteString(Listing(snap.Rows))
	if msg := Message(snap.Message, snap.MessageType); msg != "" {
		b.WriteString(msg)
		b.WriteString("\n")
	}
	return b.String()
}

func ruleTable(rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers(Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}
