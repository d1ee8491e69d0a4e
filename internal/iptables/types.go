package iptables

// Known iptables tables.
const (
	TableFilter   = "filter"
	TableNAT      = "nat"
	TableMangle   = "mangle"
	TableRaw      = "raw"
	TableSecurity = "security"
)

// Actions recognised in listings. Anything else is classified as ActionOther.
const (
	ActionAccept = "ACCEPT"
	ActionDrop   = "DROP"
	ActionReject = "REJECT"
	ActionOther  = "OTHER"
)

// Tables lists the supported tables in display order.
var Tables = []string{TableFilter, TableNAT, TableMangle, TableRaw, TableSecurity}

// Actions lists the targets offered for structured rules.
var Actions = []string{ActionAccept, ActionDrop, ActionReject}

var chainsByTable = map[string][]string{
	TableFilter:   {"INPUT", "OUTPUT", "FORWARD"},
	TableNAT:      {"PREROUTING", "POSTROUTING", "OUTPUT"},
	TableMangle:   {"PREROUTING", "POSTROUTING", "INPUT", "OUTPUT", "FORWARD"},
	TableRaw:      {"PREROUTING", "OUTPUT"},
	TableSecurity: {"INPUT", "OUTPUT", "FORWARD"},
}

// Chains returns the built-in chains of table, or nil for an unknown table.
func Chains(table string) []string {
	chains, ok := chainsByTable[table]
	if !ok {
		return nil
	}
	return append([]string(nil), chains...)
}

// AddSpec describes a structured rule to append to a chain.
type AddSpec struct {
	Table    string
	Chain    string
	Protocol string
	SrcIP    string
	DestIP   string
	SrcPort  string
	DestPort string
	Action   string
}

// RawSpec carries a free-form rule fragment appended verbatim after -t <table>.
type RawSpec struct {
	Table string
	Rule  string
}

// DeleteSpec identifies a rule by its 1-based position in a chain.
type DeleteSpec struct {
	Table string
	Chain string
	Index int
}

// RowKind distinguishes chain header rows from rule rows.
type RowKind int

const (
	// RowRule is a parsed rule line.
	RowRule RowKind = iota
	// RowChainHeader is a "Chain X (policy ...)" line kept verbatim.
	RowChainHeader
)

// Row is one display-ready line of a chain listing.
type Row struct {
	Kind         RowKind
	Raw          string
	RuleNumber   string
	Packets      string
	Bytes        string
	ProtocolCode string
	ProtocolName string
	TCPFlags     []string
	TCPFlagsRaw  string
	Action       string
	Descriptor   string
}
