package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChangeKind distinguishes the two kinds of pending edit.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeDelete
)

const deleteTag = "Delete"

// Change is an unsynced edit to a domain relative to the last synced state.
//
// On the wire a change is either the string "Delete" or an object
// {"Set": <DomainConfig>}.
type Change struct {
	Kind   ChangeKind
	Config DomainConfig
}

// Set returns a change replacing the domain's configuration with cfg.
func Set(cfg DomainConfig) Change {
	return Change{Kind: ChangeSet, Config: cfg}
}

// Delete returns a change removing the domain's configuration.
func Delete() Change {
	return Change{Kind: ChangeDelete}
}

func (c Change) IsDelete() bool {
	return c.Kind == ChangeDelete
}

type setChange struct {
	Set *DomainConfig `json:"Set"`
}

func (c Change) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ChangeDelete:
		return json.Marshal(deleteTag)
	case ChangeSet:
		cfg := c.Config
		return json.Marshal(setChange{Set: &cfg})
	default:
		return nil, fmt.Errorf("unknown change kind %d", c.Kind)
	}
}

func (c *Change) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		if tag != deleteTag {
			return fmt.Errorf("unknown change %q", tag)
		}
		*c = Delete()
		return nil
	}

	var set setChange
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("decode change: %w", err)
	}
	if set.Set == nil {
		return fmt.Errorf("change is neither Delete nor Set")
	}
	*c = Set(*set.Set)
	return nil
}

// Changes maps domain names to their pending edit.
type Changes map[string]Change

// Apply merges the changes into domains in place: Set overwrites, Delete removes.
// It reports whether anything changed.
func (ch Changes) Apply(domains Domains) bool {
	changed := false
	for name, c := range ch {
		current, exists := domains[name]
		if c.IsDelete() {
			if exists {
				delete(domains, name)
				changed = true
			}
			continue
		}
		if !exists || current != c.Config {
			domains[name] = c.Config
			changed = true
		}
	}
	return changed
}
