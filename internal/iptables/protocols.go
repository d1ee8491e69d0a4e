package iptables

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed protocols.yaml
var protocolsYAML []byte

type protocolEntry struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

type protocolFile struct {
	Protocols []protocolEntry `yaml:"protocols"`
}

var (
	protocolOnce  sync.Once
	protocolNames map[string]string
)

func parseProtocolTable(data []byte) (map[string]string, error) {
	var file protocolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode protocol table: %w", err)
	}

	// Keyed by number and by name, since iptables prints either form.
	names := make(map[string]string, 2*len(file.Protocols))
	for _, entry := range file.Protocols {
		if entry.Name == "" {
			return nil, fmt.Errorf("protocol %d has no name", entry.Number)
		}
		name := strings.ToLower(entry.Name)
		names[strconv.Itoa(entry.Number)] = name
		names[name] = name
	}
	return names, nil
}

func loadProtocolNames() map[string]string {
	protocolOnce.Do(func() {
		names, err := parseProtocolTable(protocolsYAML)
		if err != nil {
			// The table is compiled in; a decode failure is a build defect.
			panic(err)
		}
		protocolNames = names
	})
	return protocolNames
}

// ResolveProtocolName maps a protocol code, numeric or named, to its
// lowercase name. Codes that are not in the table are returned unchanged.
func ResolveProtocolName(code string) string {
	if name, ok := loadProtocolNames()[code]; ok {
		return name
	}
	return code
}
