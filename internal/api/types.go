package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ListResponse is the body of GET /iptables.
type ListResponse struct {
	Rules []string `json:"rules"`
}

// MessageResponse is the body of every mutation response. Error carries the
// raw iptables diagnostic on 500 responses.
type MessageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// AddRequest is the body of POST /iptables/add.
type AddRequest struct {
	Table    string `json:"table"`
	Chain    string `json:"chain"`
	Protocol string `json:"protocol,omitempty"`
	SrcIP    string `json:"srcIp,omitempty"`
	DestIP   string `json:"destIp,omitempty"`
	SrcPort  Scalar `json:"srcPort,omitempty"`
	DestPort Scalar `json:"destPort,omitempty"`
	Action   string `json:"action"`
}

// DeleteRequest is the body of POST /iptables/delete.
type DeleteRequest struct {
	Table string `json:"table"`
	Chain string `json:"chain"`
	Index Scalar `json:"index"`
}

// RawRequest is the body of POST /iptables/add-raw.
type RawRequest struct {
	Rule  string `json:"rule"`
	Table string `json:"table"`
}

// Scalar accepts a JSON string, number or null and keeps its text form.
// Browsers and scripts send ports and rule numbers either way.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Scalar(strings.TrimSpace(text))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = Scalar(n.String())
	return nil
}

// Int parses the scalar as a base-10 integer.
func (s Scalar) Int() (int, error) {
	return strconv.Atoi(string(s))
}
