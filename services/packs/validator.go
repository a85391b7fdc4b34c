package packs

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Contract documents embedded into the binary. One contract per JSON artifact
// kind; the theme has none.
//
//go:embed contracts/*.schema.json
var contractFS embed.FS

// Validator checks artifacts against their kind's contract before anything is
// pushed or written. Validation is pure: no device traffic, no disk writes.
type Validator struct {
	schemas   map[Kind]*jsonschema.Schema
	contracts map[string]json.RawMessage
}

// NewValidator compiles every embedded contract. A contract that fails to
// compile, or that does not correspond to a JSON artifact kind, is a
// construction error.
func NewValidator() (*Validator, error) {
	entries, err := fs.Glob(contractFS, "contracts/*.schema.json")
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	v := &Validator{
		schemas:   make(map[Kind]*jsonschema.Schema, len(entries)),
		contracts: make(map[string]json.RawMessage, len(entries)),
	}
	for _, name := range entries {
		raw, err := contractFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read contract %s: %w", name, err)
		}
		base := strings.TrimSuffix(path.Base(name), ".schema.json")
		kind, err := ParseKind(base)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", name, err)
		}
		if !kind.JSONKind() {
			return nil, fmt.Errorf("contract %s: kind %s carries no schema", name, kind)
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		resourceID := "inmemory://" + base + ".schema.json"
		if err := compiler.AddResource(resourceID, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add contract %s: %w", base, err)
		}
		compiled, err := compiler.Compile(resourceID)
		if err != nil {
			return nil, fmt.Errorf("compile contract %s: %w", base, err)
		}
		v.schemas[kind] = compiled
		v.contracts[base] = json.RawMessage(raw)
	}
	for _, kind := range kindOrder {
		if kind.JSONKind() {
			if _, ok := v.schemas[kind]; !ok {
				return nil, fmt.Errorf("missing contract for kind %s", kind)
			}
		}
	}
	return v, nil
}

// ContractNames lists the embedded contract names, sorted.
func (v *Validator) ContractNames() []string {
	names := make([]string, 0, len(v.contracts))
	for name := range v.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contract returns the raw contract document for name.
func (v *Validator) Contract(name string) (json.RawMessage, bool) {
	raw, ok := v.contracts[name]
	return raw, ok
}

// ValidatePack checks mandatory kinds are present and validates every artifact
// in delivery order. The first failure aborts.
func (v *Validator) ValidatePack(p Pack) error {
	if missing := p.MissingMandatory(); len(missing) > 0 {
		return &ValidationError{Kind: missing[0], Reason: "mandatory artifact missing"}
	}
	for _, kind := range p.Kinds() {
		if err := v.Validate(kind, p[kind].Data); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single artifact body against its kind's rules.
func (v *Validator) Validate(kind Kind, data []byte) error {
	if kind == KindTheme {
		if !utf8.Valid(data) {
			return &EncodingError{Kind: kind, Reason: "theme must be UTF-8 text"}
		}
		return nil
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &EncodingError{Kind: kind, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("no contract compiled for kind %s", kind)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafCause(ve)
			return &ValidationError{Kind: kind, Path: leaf.InstanceLocation, Reason: leaf.Message}
		}
		return &ValidationError{Kind: kind, Reason: err.Error()}
	}
	if kind == KindRules {
		return validateActuators(data)
	}
	return nil
}

// validateActuators enforces the rule the contract leaves to code: every
// actuator entry must carry numeric ttl_s and cooldown_s.
func validateActuators(data []byte) error {
	var doc struct {
		Actuators []map[string]any `json:"actuators"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &EncodingError{Kind: KindRules, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	for i, entry := range doc.Actuators {
		for _, field := range []string{"ttl_s", "cooldown_s"} {
			val, ok := entry[field]
			if !ok {
				return &ValidationError{
					Kind:   KindRules,
					Path:   fmt.Sprintf("/actuators/%d", i),
					Reason: fmt.Sprintf("missing required field %q", field),
				}
			}
			if _, ok := val.(float64); !ok {
				return &ValidationError{
					Kind:   KindRules,
					Path:   fmt.Sprintf("/actuators/%d/%s", i, field),
					Reason: fmt.Sprintf("%s must be a number", field),
				}
			}
		}
	}
	return nil
}

// leafCause descends to the most specific cause of a schema violation.
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
