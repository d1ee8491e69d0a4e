// Package validation holds the syntactic checks applied to operator input
// before any iptables command is built.
package validation

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/denniswebb/iptpanel/internal/iptables"
)

var dottedQuadRegex = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// ValidAddress reports whether value is an IPv4 address with an optional
// /0-32 prefix. An empty value imposes no constraint and is valid.
func ValidAddress(value string) bool {
	if value == "" {
		return true
	}

	address, prefix, hasPrefix := strings.Cut(value, "/")
	if !dottedQuadRegex.MatchString(address) {
		return false
	}
	for _, octet := range strings.Split(address, ".") {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}

	if hasPrefix {
		n, err := strconv.Atoi(prefix)
		if err != nil || n < 0 || n > 32 {
			return false
		}
	}
	return true
}

// ValidPort reports whether value is a port number between 1 and 65535.
// An empty value is valid.
func ValidPort(value string) bool {
	if value == "" {
		return true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return n > 0 && n < 65536
}

// ValidServerIP reports whether value looks like a dotted IPv4 address. Only
// the shape is checked.
func ValidServerIP(value string) bool {
	return dottedQuadRegex.MatchString(value)
}

// ValidTable reports whether table is one of the supported tables.
func ValidTable(table string) bool {
	return slices.Contains(iptables.Tables, table)
}

// ValidChain reports whether chain is a built-in chain of table.
func ValidChain(table string, chain string) bool {
	return slices.Contains(iptables.Chains(table), chain)
}
