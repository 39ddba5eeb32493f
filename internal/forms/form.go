package forms

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/multicloud-portal/portal/internal/models"
)

var ErrUnknownField = errors.New("unknown form field")

// FieldError is a validation failure on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every field that failed validation.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Change records a value the form changed as a consequence of another edit.
type Change struct {
	Field   string   `json:"field"`
	Value   string   `json:"value"`
	Options []string `json:"options"`
}

// binding ties a cascade to the form fields holding its levels.
type binding struct {
	cascade *Cascade
	fields  []string
}

func (b *binding) level(name string) int {
	return slices.Index(b.fields, name)
}

// Form is the editable state of one template's parameters.
type Form struct {
	mu       sync.RWMutex
	template string
	fields   []Field
	index    map[string]int
	values   map[string]string
	bindings []*binding
	onChange func(values map[string]string)
}

// Synthesize builds a form with one field per parameter, in declaration
// order, and attaches every cascade of catalog whose levels the form has.
// A nil catalog disables cascades.
func Synthesize(templateName string, specs []models.ParameterSpec, catalog *Catalog) *Form {
	f := &Form{
		template: templateName,
		index:    make(map[string]int, len(specs)),
		values:   make(map[string]string, len(specs)),
	}
	for _, spec := range specs {
		if _, dup := f.index[spec.Name]; dup || spec.Name == "" {
			continue
		}
		field := NewField(spec)
		f.index[spec.Name] = len(f.fields)
		f.fields = append(f.fields, field)
		f.values[spec.Name] = field.Initial()
	}

	if catalog != nil {
		for _, c := range catalog.Cascades {
			f.bind(c)
		}
	}
	for _, b := range f.bindings {
		f.settle(b, 0, true)
	}
	return f
}

// bind attaches c when the form holds at least its first two levels.
// Levels after the first missing one are ignored.
func (f *Form) bind(c *Cascade) {
	var names []string
	for level := 0; level < c.Depth(); level++ {
		name := ""
		for _, field := range f.fields {
			if c.Matches(level, field.Name()) && !f.bound(field.Name()) {
				name = field.Name()
				break
			}
		}
		if name == "" {
			break
		}
		names = append(names, name)
	}
	if len(names) < 2 {
		return
	}
	f.bindings = append(f.bindings, &binding{cascade: c, fields: names})
}

func (f *Form) bound(name string) bool {
	for _, b := range f.bindings {
		if b.level(name) >= 0 {
			return true
		}
	}
	return false
}

// settle recomputes the options of every level from start down. With keep
// set, a current value that is still allowed survives; otherwise each level
// resets to its first option.
func (f *Form) settle(b *binding, start int, keep bool) []Change {
	var changes []Change
	for level := start; level < len(b.fields); level++ {
		name := b.fields[level]
		opts := f.optionsFor(b, level)

		i := f.index[name]
		f.fields[i] = NewEnumField(f.fields[i].Spec(), opts)

		next := f.values[name]
		if !keep || !slices.Contains(opts, next) {
			next = ""
			if len(opts) > 0 {
				next = opts[0]
			}
		}
		f.values[name] = next
		changes = append(changes, Change{Field: name, Value: next, Options: opts})
	}
	return changes
}

func (f *Form) optionsFor(b *binding, level int) []string {
	parents := make([]string, level)
	for i := 0; i < level; i++ {
		parents[i] = f.values[b.fields[i]]
	}
	opts := b.cascade.Allowed(level, parents)
	if level > 0 {
		return opts
	}

	// The first level also honours the template's own allowed values.
	declared := f.fields[f.index[b.fields[0]]].Spec().AllowedValues
	if len(declared) == 0 {
		return opts
	}
	var both []string
	for _, d := range declared {
		if s := stringify(d); slices.Contains(opts, s) {
			both = append(both, s)
		}
	}
	if len(both) == 0 {
		return opts
	}
	return both
}

// Template returns the template the form was built for.
func (f *Form) Template() string { return f.template }

// Fields returns the fields in declaration order.
func (f *Form) Fields() []Field {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.fields)
}

// Field returns the named field.
func (f *Form) Field(name string) (Field, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.fields[i], true
}

// Controls renders every field with its current value.
func (f *Form) Controls() []Control {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Control, len(f.fields))
	for i, field := range f.fields {
		out[i] = field.Render(f.values[field.Name()])
	}
	return out
}

// Value returns the raw value of a field.
func (f *Form) Value(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok
}

// Values returns a copy of every raw value.
func (f *Form) Values() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.values)
}

// Options returns the allowed values of a dropdown field, or nil.
func (f *Form) Options(name string) []string {
	field, ok := f.Field(name)
	if !ok {
		return nil
	}
	if e, ok := field.(*EnumField); ok {
		return e.Options()
	}
	return nil
}

// OnChange registers fn to receive a snapshot of the values after every edit.
func (f *Form) OnChange(fn func(values map[string]string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// Set changes one field. Dropdown values must be one of the field's options.
// When the field drives a cascade, every level below it is recomputed and
// reset to its first option; those resets are returned. Clearing a cascade
// level resets that level too.
func (f *Form) Set(name, value string) ([]Change, error) {
	f.mu.Lock()
	i, ok := f.index[name]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if e, isEnum := f.fields[i].(*EnumField); isEnum && value != "" && !slices.Contains(e.options, value) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidOption)
	}

	f.values[name] = value
	var changes []Change
	for _, b := range f.bindings {
		level := b.level(name)
		switch {
		case level < 0:
		case value == "":
			// a cascade level always holds one of its options
			changes = append(changes, f.settle(b, level, false)...)
		case level < len(b.fields)-1:
			changes = append(changes, f.settle(b, level+1, false)...)
		}
	}
	snapshot, hook := maps.Clone(f.values), f.onChange
	f.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return changes, nil
}

// Restore loads saved values, typically from a draft. Unknown names are
// ignored and cascaded values that are no longer allowed fall back to the
// first option.
func (f *Form) Restore(values map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, field := range f.fields {
		if v, ok := values[field.Name()]; ok {
			f.values[field.Name()] = v
		}
	}
	for _, b := range f.bindings {
		f.settle(b, 0, true)
	}
}

// Validate checks every field and returns all failures in field order.
func (f *Form) Validate() ValidationErrors {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs ValidationErrors
	for _, field := range f.fields {
		if err := field.Validate(f.values[field.Name()]); err != nil {
			errs = append(errs, FieldError{Field: field.Name(), Message: err.Error()})
		}
	}
	return errs
}

// Serialize converts the raw values into typed template parameters.
// Optional string fields left empty are omitted so the template default applies.
func (f *Form) Serialize() (map[string]any, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]any, len(f.fields))
	for _, field := range f.fields {
		raw := f.values[field.Name()]
		spec := field.Spec()
		if raw == "" && !spec.Required && field.Kind() != KindBool && field.Kind() != KindJSON &&
			spec.Type != models.ParamInt {
			continue
		}
		v, err := field.Serialize(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name(), err)
		}
		out[field.Name()] = v
	}
	return out, nil
}
