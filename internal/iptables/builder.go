package iptables

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// ErrMissingParameter reports that a required field of a rule request is empty.
var ErrMissingParameter = errors.New("missing required parameter")

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, field)
}

// portProtocol reports whether --sport/--dport are valid for protocol.
func portProtocol(protocol string) bool {
	return protocol == "tcp" || protocol == "udp"
}

// BuildAdd returns the arguments that append spec to its chain. Optional
// matches are emitted in a fixed order: -p, -s, -d, --sport, --dport, then
// the -j target. Ports are dropped unless the protocol is tcp or udp.
func BuildAdd(spec AddSpec) ([]string, error) {
	switch {
	case spec.Table == "":
		return nil, missing("table")
	case spec.Chain == "":
		return nil, missing("chain")
	case spec.Action == "":
		return nil, missing("action")
	}

	args := []string{"-t", spec.Table, "-A", spec.Chain}
	if spec.Protocol != "" {
		args = append(args, "-p", spec.Protocol)
	}
	if spec.SrcIP != "" {
		args = append(args, "-s", spec.SrcIP)
	}
	if spec.DestIP != "" {
		args = append(args, "-d", spec.DestIP)
	}
	if portProtocol(spec.Protocol) && spec.SrcPort != "" {
		args = append(args, "--sport", spec.SrcPort)
	}
	if portProtocol(spec.Protocol) && spec.DestPort != "" {
		args = append(args, "--dport", spec.DestPort)
	}
	args = append(args, "-j", strings.ToUpper(spec.Action))

	return args, nil
}

// BuildDelete returns the arguments that delete rule number spec.Index.
// The index is not checked against the chain; iptables rejects it if it is
// out of range.
func BuildDelete(spec DeleteSpec) ([]string, error) {
	switch {
	case spec.Table == "":
		return nil, missing("table")
	case spec.Chain == "":
		return nil, missing("chain")
	case spec.Index == 0:
		return nil, missing("index")
	}

	return []string{"-t", spec.Table, "-D", spec.Chain, strconv.Itoa(spec.Index)}, nil
}

// BuildRaw returns -t <table> followed by the words of spec.Rule. The rule
// text is only split on whitespace, honouring shell quoting, so that
// quoted comments survive as single arguments.
func BuildRaw(spec RawSpec) ([]string, error) {
	rule := strings.TrimSpace(spec.Rule)
	switch {
	case rule == "":
		return nil, missing("rule")
	case spec.Table == "":
		return nil, missing("table")
	}

	words, err := shlex.Split(rule)
	if err != nil {
		return nil, fmt.Errorf("split rule text: %w", err)
	}

	return append([]string{"-t", spec.Table}, words...), nil
}

// BuildList returns the arguments for a numbered, verbose, numeric listing.
func BuildList(table string, chain string) []string {
	return []string{"-t", table, "-L", chain, "-n", "-v", "--line-numbers"}
}

// CommandLine renders args as the operator would type them.
func CommandLine(binary string, args []string) string {
	return strings.TrimSpace(binary + " " + strings.Join(args, " "))
}
