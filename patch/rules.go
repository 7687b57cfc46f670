package patch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML shape of a rule list:
//
//	rules:
//	  - name: clock-timestamp
//	    type_pattern: "::clock::Clock"
//	    patch: set_to_tx_timestamp
//	    offset: 32
//	  - name: pin-version
//	    type_pattern: "::versioned::Versioned"
//	    patch: set_version
//	    offset: 32
//	    version: 7
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name        string `yaml:"name"`
	TypePattern string `yaml:"type_pattern"`
	Patch       string `yaml:"patch"`
	Offset      int    `yaml:"offset"`
	Version     uint64 `yaml:"version"`
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(raw)
}

// ParseRules decodes a YAML rule document.
func ParseRules(raw []byte) ([]Rule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("patch rules: %v", err)
	}
	rules := make([]Rule, 0, len(doc.Rules))
	for _, e := range doc.Rules {
		kind, err := parseKind(e.Patch)
		if err != nil {
			return nil, fmt.Errorf("patch rule %s: %v", e.Name, err)
		}
		rule := Rule{Name: e.Name, TypePattern: e.TypePattern, Kind: kind, Offset: e.Offset, Version: e.Version}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "set_version":
		return SetVersion, nil
	case "set_to_tx_timestamp":
		return SetToTxTimestamp, nil
	case "set_to_far_future":
		return SetToFarFuture, nil
	case "set_to_zero":
		return SetToZero, nil
	}
	return 0, fmt.Errorf("unknown patch kind %q", s)
}
