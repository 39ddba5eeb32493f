// Package forms turns a template's parameter schema into form fields and
// keeps the form state consistent as values change.
package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/multicloud-portal/portal/internal/models"
)

// Kind is the variant of a form field.
type Kind string

const (
	KindText Kind = "text"
	KindBool Kind = "bool"
	KindEnum Kind = "enum"
	KindJSON Kind = "json"
)

// Widget is the input control a field renders to.
type Widget string

const (
	WidgetText     Widget = "text"
	WidgetPassword Widget = "password"
	WidgetNumber   Widget = "number"
	WidgetCheckbox Widget = "checkbox"
	WidgetSelect   Widget = "select"
	WidgetTextarea Widget = "textarea"
)

// Control describes how a field is presented for a given value.
type Control struct {
	Kind        Kind     `json:"kind"`
	Widget      Widget   `json:"widget"`
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Value       string   `json:"value"`
	Checked     bool     `json:"checked,omitempty"`
	Options     []string `json:"options,omitempty"`
	Required    bool     `json:"required"`
	Multiline   bool     `json:"multiline,omitempty"`
}

var (
	ErrRequired      = errors.New("value is required")
	ErrNotInteger    = errors.New("value must be a whole number")
	ErrInvalidOption = errors.New("value is not one of the allowed options")
	ErrInvalidJSON   = errors.New("value must be valid JSON")
)

// Field is one form input. Each kind owns how it renders, validates and
// converts its raw string value into the value sent to the API.
type Field interface {
	Name() string
	Kind() Kind
	Spec() models.ParameterSpec
	Initial() string
	Render(value string) Control
	Validate(value string) error
	Serialize(value string) (any, error)
}

// NewField picks the field kind for a parameter.
func NewField(spec models.ParameterSpec) Field {
	switch {
	case len(spec.AllowedValues) > 0:
		opts := make([]string, 0, len(spec.AllowedValues))
		for _, v := range spec.AllowedValues {
			opts = append(opts, stringify(v))
		}
		return &EnumField{spec: spec, options: opts}
	case spec.Type == models.ParamBool:
		return &BoolField{spec: spec}
	case spec.Type == models.ParamArray || spec.Type == models.ParamObject:
		return &JSONField{spec: spec}
	default:
		return &TextField{spec: spec}
	}
}

// TextField is a single-line input for strings, secure strings and integers.
type TextField struct {
	spec models.ParameterSpec
}

func (f *TextField) Name() string               { return f.spec.Name }
func (f *TextField) Kind() Kind                 { return KindText }
func (f *TextField) Spec() models.ParameterSpec { return f.spec }

func (f *TextField) Initial() string {
	if f.spec.Default == nil {
		return ""
	}
	return stringify(f.spec.Default)
}

func (f *TextField) Render(value string) Control {
	widget := WidgetText
	switch f.spec.Type {
	case models.ParamSecureString:
		widget = WidgetPassword
	case models.ParamInt:
		widget = WidgetNumber
	}
	return control(f, widget, value)
}

func (f *TextField) Validate(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		if f.spec.Required {
			return ErrRequired
		}
		return nil
	}
	if f.spec.Type == models.ParamInt {
		if _, err := strconv.Atoi(v); err != nil {
			return ErrNotInteger
		}
	}
	return nil
}

func (f *TextField) Serialize(value string) (any, error) {
	if f.spec.Type == models.ParamInt {
		return parseInt(value)
	}
	return value, nil
}

// BoolField is a checkbox.
type BoolField struct {
	spec models.ParameterSpec
}

func (f *BoolField) Name() string               { return f.spec.Name }
func (f *BoolField) Kind() Kind                 { return KindBool }
func (f *BoolField) Spec() models.ParameterSpec { return f.spec }

func (f *BoolField) Initial() string {
	return strconv.FormatBool(parseBool(stringify(f.spec.Default)))
}

func (f *BoolField) Render(value string) Control {
	c := control(f, WidgetCheckbox, strconv.FormatBool(parseBool(value)))
	c.Checked = parseBool(value)
	return c
}

func (f *BoolField) Validate(string) error { return nil }

func (f *BoolField) Serialize(value string) (any, error) {
	return parseBool(value), nil
}

// EnumField is a dropdown restricted to a fixed option list.
type EnumField struct {
	spec    models.ParameterSpec
	options []string
}

// NewEnumField creates a dropdown with explicit options.
func NewEnumField(spec models.ParameterSpec, options []string) *EnumField {
	return &EnumField{spec: spec, options: slices.Clone(options)}
}

func (f *EnumField) Name() string               { return f.spec.Name }
func (f *EnumField) Kind() Kind                 { return KindEnum }
func (f *EnumField) Spec() models.ParameterSpec { return f.spec }

// Options returns the allowed values in display order.
func (f *EnumField) Options() []string { return slices.Clone(f.options) }

// Initial is the default when it is an allowed option, else the first option.
func (f *EnumField) Initial() string {
	if f.spec.Default != nil {
		if d := stringify(f.spec.Default); slices.Contains(f.options, d) {
			return d
		}
	}
	if len(f.options) > 0 {
		return f.options[0]
	}
	return ""
}

func (f *EnumField) Render(value string) Control {
	c := control(f, WidgetSelect, value)
	c.Options = slices.Clone(f.options)
	return c
}

func (f *EnumField) Validate(value string) error {
	if value == "" {
		if f.spec.Required {
			return ErrRequired
		}
		return nil
	}
	if !slices.Contains(f.options, value) {
		return ErrInvalidOption
	}
	return nil
}

func (f *EnumField) Serialize(value string) (any, error) {
	switch f.spec.Type {
	case models.ParamInt:
		return parseInt(value)
	case models.ParamBool:
		return parseBool(value), nil
	default:
		return value, nil
	}
}

// JSONField is a multi-line editor for array and object parameters.
type JSONField struct {
	spec models.ParameterSpec
}

func (f *JSONField) Name() string               { return f.spec.Name }
func (f *JSONField) Kind() Kind                 { return KindJSON }
func (f *JSONField) Spec() models.ParameterSpec { return f.spec }

func (f *JSONField) Initial() string {
	if f.spec.Default != nil {
		if b, err := json.MarshalIndent(f.spec.Default, "", "  "); err == nil {
			return string(b)
		}
	}
	if f.spec.Type == models.ParamArray {
		return "[]"
	}
	return "{}"
}

func (f *JSONField) Render(value string) Control {
	c := control(f, WidgetTextarea, value)
	c.Multiline = true
	return c
}

// Validate accepts anything Serialize can fall back from, except a required
// field left empty.
func (f *JSONField) Validate(value string) error {
	if f.spec.Required && strings.TrimSpace(value) == "" {
		return ErrRequired
	}
	return nil
}

// Serialize parses the editor text. Arrays fall back to a comma-separated
// list and then to an empty array; objects fall back to an empty object.
func (f *JSONField) Serialize(value string) (any, error) {
	v := strings.TrimSpace(value)
	if f.spec.Type == models.ParamArray {
		if v == "" {
			return []any{}, nil
		}
		var arr []any
		if err := json.Unmarshal([]byte(v), &arr); err == nil {
			return arr, nil
		}
		if strings.HasPrefix(v, "[") {
			return []any{}, nil
		}
		out := []any{}
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(v), &obj); err != nil || obj == nil {
		return map[string]any{}, nil
	}
	return obj, nil
}

func control(f Field, widget Widget, value string) Control {
	spec := f.Spec()
	return Control{
		Kind:        f.Kind(),
		Widget:      widget,
		Name:        spec.Name,
		Label:       Label(spec.Name),
		Description: spec.Description,
		Value:       value,
		Required:    spec.Required,
	}
}

// Label turns a parameter name such as vmSize or admin_user into "Vm Size"
// or "Admin User".
func Label(name string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))):
			flush()
		}
		cur = append(cur, r)
	}
	flush()

	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}

func parseInt(s string) (int, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}
