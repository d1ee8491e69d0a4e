package iptables

import (
	"regexp"
	"strconv"
)

var tcpFlagsPattern = regexp.MustCompile(`tcp flags:0x[0-9A-Fa-f]+/0x([0-9A-Fa-f]+)`)

// tcpFlagBits is ordered; decoded names are always emitted in this order.
var tcpFlagBits = []struct {
	name string
	bit  uint64
}{
	{"FIN", 0x01},
	{"SYN", 0x02},
	{"RST", 0x04},
	{"PSH", 0x08},
	{"ACK", 0x10},
	{"URG", 0x20},
	{"ECE", 0x40},
	{"CWR", 0x80},
}

// DecodeTCPFlags finds a "tcp flags:0xMASK/0xCOMP" annotation in text and
// returns the names of the bits set in the second value. It returns an empty
// slice when no annotation is present.
func DecodeTCPFlags(text string) []string {
	match := tcpFlagsPattern.FindStringSubmatch(text)
	if match == nil {
		return []string{}
	}

	value, err := strconv.ParseUint(match[1], 16, 64)
	if err != nil {
		return []string{}
	}

	flags := []string{}
	for _, f := range tcpFlagBits {
		if value&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return flags
}

// ExtractTCPFlagsRaw returns the matched flags annotation, or "-" when absent.
func ExtractTCPFlagsRaw(text string) string {
	if loc := tcpFlagsPattern.FindStringIndex(text); loc != nil {
		return text[loc[0]:loc[1]]
	}
	return "-"
}
