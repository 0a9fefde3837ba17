// Package toolspec is the minimal stand-in for the out-of-scope OpenAPI
// tool-descriptor compiler (§6): it loads pre-compiled ToolDescriptor
// records from a YAML file so the rest of the bridge is exercisable
// without the real compiler. It is explicitly not an OpenAPI parser.
package toolspec

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// file is the on-disk shape: a flat list of descriptors. Entries are decoded
// generically and then re-decoded through ToolDescriptor's json tags, so the
// YAML keys are the same snake_case names as the JSON form.
type file struct {
	Tools []map[string]any `yaml:"tools"`
}

// Table holds the loaded descriptors indexed by name and satisfies
// toolexec.DescriptorSource.
type Table struct {
	mu     sync.RWMutex
	byName map[string]*models.ToolDescriptor
}

// Load reads a descriptor file and builds a Table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolspec: read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("toolspec: parse %s: %w", path, err)
	}
	encoded, err := json.Marshal(f.Tools)
	if err != nil {
		return nil, fmt.Errorf("toolspec: parse %s: %w", path, err)
	}
	var tools []models.ToolDescriptor
	if err := json.Unmarshal(encoded, &tools); err != nil {
		return nil, fmt.Errorf("toolspec: parse %s: %w", path, err)
	}

	t := &Table{byName: make(map[string]*models.ToolDescriptor, len(tools))}
	for i := range tools {
		d := tools[i]
		if d.Name == "" {
			return nil, fmt.Errorf("toolspec: descriptor at index %d missing name", i)
		}
		t.byName[d.Name] = &d
	}
	return t, nil
}

// NewTable builds a Table directly from descriptors, for tests and for
// embedding a static set without a file on disk.
func NewTable(descriptors []models.ToolDescriptor) *Table {
	t := &Table{byName: make(map[string]*models.ToolDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		t.byName[d.Name] = &d
	}
	return t
}

// Lookup implements toolexec.DescriptorSource.
func (t *Table) Lookup(name string) (*models.ToolDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byName[name]
	return d, ok
}

// All returns every loaded descriptor, used when building a tool list for
// an LLM invocation (C4).
func (t *Table) All() []*models.ToolDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ToolDescriptor, 0, len(t.byName))
	for _, d := range t.byName {
		out = append(out, d)
	}
	return out
}
