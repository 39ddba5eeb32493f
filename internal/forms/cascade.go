package forms

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var ErrInvalidCatalog = errors.New("invalid cascade catalog")

type option struct {
	value    string
	children []option
}

// Cascade is a chain of dependent dropdowns where each level's allowed
// values depend on the selections above it.
type Cascade struct {
	Name   string
	levels [][]string
	root   []option
}

// Depth returns the number of levels in the chain.
func (c *Cascade) Depth() int { return len(c.levels) }

// Matches reports whether a parameter name can hold the given level.
func (c *Cascade) Matches(level int, name string) bool {
	for _, alias := range c.levels[level] {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// Allowed returns the options for level given the selections of every level
// above it. It returns nil when a selection is not in the catalog.
func (c *Cascade) Allowed(level int, parents []string) []string {
	opts := c.root
	for i := 0; i < level; i++ {
		if i >= len(parents) {
			return nil
		}
		next, ok := find(opts, parents[i])
		if !ok {
			return nil
		}
		opts = next.children
	}
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.value
	}
	return out
}

func find(opts []option, value string) (option, bool) {
	for _, o := range opts {
		if o.value == value {
			return o, true
		}
	}
	return option{}, false
}

// Catalog is the set of cascades available to forms.
type Catalog struct {
	Cascades []*Cascade
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
})

// DefaultCatalog returns the built-in cascades.
func DefaultCatalog() *Catalog {
	c, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("forms: built-in catalog: %v", err))
	}
	return c
}

// ParseCatalog reads a YAML catalog, keeping the order values are written in.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping of cascades", ErrInvalidCatalog)
	}

	top := doc.Content[0]
	cat := &Catalog{}
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		c, err := parseCascade(name, top.Content[i+1])
		if err != nil {
			return nil, err
		}
		cat.Cascades = append(cat.Cascades, c)
	}
	return cat, nil
}

func parseCascade(name string, n *yaml.Node) (*Cascade, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: expected a mapping", ErrInvalidCatalog, name)
	}
	c := &Cascade{Name: name}
	var values *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "fields":
			if err := n.Content[i+1].Decode(&c.levels); err != nil {
				return nil, fmt.Errorf("%w: %s.fields: %v", ErrInvalidCatalog, name, err)
			}
		case "values":
			values = n.Content[i+1]
		}
	}
	if len(c.levels) < 2 {
		return nil, fmt.Errorf("%w: %s: needs at least two levels", ErrInvalidCatalog, name)
	}
	if values == nil {
		return nil, fmt.Errorf("%w: %s: missing values", ErrInvalidCatalog, name)
	}

	root, err := parseOptions(values, len(c.levels)-1)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, name, err)
	}
	c.root = root
	return c, nil
}

// parseOptions reads a mapping for inner levels and a sequence for the leaf level.
func parseOptions(n *yaml.Node, depth int) ([]option, error) {
	if depth == 0 {
		if n.Kind != yaml.SequenceNode || len(n.Content) == 0 {
			return nil, fmt.Errorf("line %d: expected a non-empty list", n.Line)
		}
		opts := make([]option, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: expected a scalar", item.Line)
			}
			opts = append(opts, option{value: item.Value})
		}
		return opts, nil
	}

	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		return nil, fmt.Errorf("line %d: expected a non-empty mapping", n.Line)
	}
	opts := make([]option, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		children, err := parseOptions(n.Content[i+1], depth-1)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option{value: n.Content[i].Value, children: children})
	}
	return opts, nil
}
