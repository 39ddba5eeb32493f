package forms

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/store/memory"
)

func computeSpecs() []models.ParameterSpec {
	return []models.ParameterSpec{
		{Name: "vmName", Type: models.ParamString, Required: true},
		{Name: "osType", Type: models.ParamString, Default: "Ubuntu"},
		{Name: "vmTier", Type: models.ParamString},
		{Name: "vmSize", Type: models.ParamString, Default: "Standard_B2s"},
	}
}

func TestSynthesizeFieldKinds(t *testing.T) {
	specs := []models.ParameterSpec{
		{Name: "name", Type: models.ParamString},
		{Name: "password", Type: models.ParamSecureString},
		{Name: "count", Type: models.ParamInt, Default: float64(2)},
		{Name: "enabled", Type: models.ParamBool, Default: true},
		{Name: "sku", Type: models.ParamString, AllowedValues: []any{"Basic", "Standard"}},
		{Name: "zones", Type: models.ParamArray},
		{Name: "tags", Type: models.ParamObject, Default: map[string]any{"env": "dev"}},
	}
	f := Synthesize("tmpl", specs, nil)

	want := []struct {
		kind   Kind
		widget Widget
	}{
		{KindText, WidgetText},
		{KindText, WidgetPassword},
		{KindText, WidgetNumber},
		{KindBool, WidgetCheckbox},
		{KindEnum, WidgetSelect},
		{KindJSON, WidgetTextarea},
		{KindJSON, WidgetTextarea},
	}
	controls := f.Controls()
	if len(controls) != len(want) {
		t.Fatalf("expected %d controls, got %d", len(want), len(controls))
	}
	for i, c := range controls {
		if c.Name != specs[i].Name {
			t.Errorf("control %d: name %q, want %q (declaration order)", i, c.Name, specs[i].Name)
		}
		if c.Kind != want[i].kind || c.Widget != want[i].widget {
			t.Errorf("%s: got %s/%s, want %s/%s", c.Name, c.Kind, c.Widget, want[i].kind, want[i].widget)
		}
	}

	if v, _ := f.Value("count"); v != "2" {
		t.Errorf("count initial = %q, want 2", v)
	}
	if !controls[3].Checked {
		t.Error("enabled should start checked")
	}
	if v, _ := f.Value("sku"); v != "Basic" {
		t.Errorf("enum without default should select first option, got %q", v)
	}
	if v, _ := f.Value("zones"); v != "[]" {
		t.Errorf("array field should start as [], got %q", v)
	}
	if !controls[6].Multiline {
		t.Error("object field should be multiline")
	}
}

func TestJSONFieldSerializeFallbacks(t *testing.T) {
	arr := &JSONField{spec: models.ParameterSpec{Name: "a", Type: models.ParamArray}}
	obj := &JSONField{spec: models.ParameterSpec{Name: "o", Type: models.ParamObject}}

	tests := []struct {
		field Field
		in    string
		want  any
	}{
		{arr, `["x", 1]`, []any{"x", float64(1)}},
		{arr, `a, b ,,c`, []any{"a", "b", "c"}},
		{arr, `[broken`, []any{}},
		{arr, ``, []any{}},
		{obj, `{"k":"v"}`, map[string]any{"k": "v"}},
		{obj, `not json`, map[string]any{}},
		{obj, `[1,2]`, map[string]any{}},
	}
	for _, tt := range tests {
		got, err := tt.field.Serialize(tt.in)
		if err != nil {
			t.Fatalf("Serialize(%q) failed: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Serialize(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestBoolAndIntCoercion(t *testing.T) {
	b := &BoolField{spec: models.ParameterSpec{Name: "b", Type: models.ParamBool}}
	for _, in := range []string{"true", "YES", "1", "on"} {
		if v, _ := b.Serialize(in); v != true {
			t.Errorf("bool %q should be true", in)
		}
	}
	for _, in := range []string{"false", "no", "0", "", "maybe"} {
		if v, _ := b.Serialize(in); v != false {
			t.Errorf("bool %q should be false", in)
		}
	}

	n := &TextField{spec: models.ParameterSpec{Name: "n", Type: models.ParamInt}}
	if v, _ := n.Serialize(""); v != 0 {
		t.Errorf("empty int should serialize to 0, got %v", v)
	}
	if v, _ := n.Serialize(" 42 "); v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
	if err := n.Validate("4.5"); !errors.Is(err, ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}
}

func TestFormValidate(t *testing.T) {
	f := Synthesize("tmpl", []models.ParameterSpec{
		{Name: "name", Type: models.ParamString, Required: true},
		{Name: "count", Type: models.ParamInt},
		{Name: "notes", Type: models.ParamString},
	}, nil)
	if _, err := f.Set("count", "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	errs := f.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if errs[0].Field != "name" || errs[1].Field != "count" {
		t.Errorf("unexpected errors %v", errs)
	}
}

func TestSerializeOmitsEmptyOptionalStrings(t *testing.T) {
	f := Synthesize("tmpl", []models.ParameterSpec{
		{Name: "name", Type: models.ParamString, Required: true},
		{Name: "notes", Type: models.ParamString},
		{Name: "count", Type: models.ParamInt},
		{Name: "public", Type: models.ParamBool},
	}, nil)
	_, _ = f.Set("name", "web")

	params, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	want := map[string]any{"name": "web", "count": 0, "public": false}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("got %#v, want %#v", params, want)
	}
}

func TestSetUnknownAndInvalid(t *testing.T) {
	f := Synthesize("tmpl", computeSpecs(), DefaultCatalog())
	if _, err := f.Set("nope", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if _, err := f.Set("osType", "Plan9"); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("expected ErrInvalidOption, got %v", err)
	}
}

func TestCascadeAttachesAndKeepsValidDefaults(t *testing.T) {
	f := Synthesize("vm", computeSpecs(), DefaultCatalog())

	if opts := f.Options("osType"); len(opts) == 0 || opts[0] != "Ubuntu" {
		t.Fatalf("osType should become a dropdown, got %v", opts)
	}
	if v, _ := f.Value("vmTier"); v != "Burstable" {
		t.Errorf("vmTier = %q, want Burstable", v)
	}
	if v, _ := f.Value("vmSize"); v != "Standard_B2s" {
		t.Errorf("valid default vmSize should survive, got %q", v)
	}

	changes, err := f.Set("osType", "RHEL")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected tier and size to reset, got %v", changes)
	}
	if changes[0].Field != "vmTier" || changes[0].Value != "GeneralPurpose" {
		t.Errorf("unexpected tier change %+v", changes[0])
	}
	if changes[1].Field != "vmSize" || changes[1].Value != "Standard_D2s_v5" {
		t.Errorf("unexpected size change %+v", changes[1])
	}
}

func TestCascadeClearedLevelResets(t *testing.T) {
	f := Synthesize("vm", computeSpecs(), DefaultCatalog())

	changes, err := f.Set("osType", "")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if len(changes) != 3 || changes[0].Field != "osType" || changes[0].Value != "Ubuntu" {
		t.Fatalf("cleared osType should reset to its first option, got %v", changes)
	}
	for _, name := range []string{"osType", "vmTier", "vmSize"} {
		v, _ := f.Value(name)
		if v == "" || !slices.Contains(f.Options(name), v) {
			t.Errorf("%s = %q, options %v", name, v, f.Options(name))
		}
	}

	if _, err := f.Set("vmTier", ""); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := f.Value("vmTier"); v != "Burstable" {
		t.Errorf("cleared vmTier = %q, want Burstable", v)
	}
}

func TestCascadeNeedsTwoLevels(t *testing.T) {
	f := Synthesize("sql", []models.ParameterSpec{
		{Name: "sqlEdition", Type: models.ParamString},
		{Name: "adminLogin", Type: models.ParamString},
	}, DefaultCatalog())
	if f.Options("sqlEdition") != nil {
		t.Error("a lone first level should not become a dropdown")
	}
}

func TestCascadeRespectsDeclaredOptions(t *testing.T) {
	f := Synthesize("vm", []models.ParameterSpec{
		{Name: "osType", Type: models.ParamString, AllowedValues: []any{"WindowsServer", "Ubuntu", "Solaris"}},
		{Name: "vmTier", Type: models.ParamString},
	}, DefaultCatalog())

	want := []string{"WindowsServer", "Ubuntu"}
	if got := f.Options("osType"); !slices.Equal(got, want) {
		t.Errorf("osType options = %v, want %v", got, want)
	}
	if v, _ := f.Value("vmTier"); v != "Burstable" {
		t.Errorf("vmTier = %q, want Burstable", v)
	}
}

func TestRestoreDraftValues(t *testing.T) {
	f := Synthesize("storage", []models.ParameterSpec{
		{Name: "storageKind", Type: models.ParamString},
		{Name: "replication", Type: models.ParamString},
		{Name: "performance", Type: models.ParamString},
		{Name: "accountName", Type: models.ParamString},
	}, DefaultCatalog())

	f.Restore(map[string]string{
		"storageKind": "StorageV2",
		"replication": "ZRS",
		"performance": "Ultra",
		"accountName": "acct1",
		"unknown":     "x",
	})

	vals := f.Values()
	if vals["replication"] != "ZRS" || vals["performance"] != "Standard" || vals["accountName"] != "acct1" {
		t.Errorf("unexpected values %v", vals)
	}
	if _, ok := vals["unknown"]; ok {
		t.Error("unknown draft keys should be dropped")
	}
}

// **Feature: deployment-portal, Property 3: Cascade Child Membership**
// *For any* sequence of parent selections, every cascaded child's selected
// value SHALL be a member of its recomputed allowed-value set.
func TestCascadeChildMembership(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	catalog := DefaultCatalog()

	specs := []models.ParameterSpec{
		{Name: "osType"}, {Name: "vmTier"}, {Name: "vmSize"},
		{Name: "sqlEdition"}, {Name: "sqlCompute"}, {Name: "sqlVersion"},
		{Name: "storageKind"}, {Name: "replication"}, {Name: "performance"},
	}

	properties.Property("children stay within their allowed set", prop.ForAll(
		func(picks []int) bool {
			f := Synthesize("all", specs, catalog)
			for i, p := range picks {
				name := specs[i%len(specs)].Name
				opts := f.Options(name)
				if len(opts) == 0 {
					return false
				}
				if _, err := f.Set(name, opts[p%len(opts)]); err != nil {
					return false
				}

				for _, b := range f.bindings {
					for level, field := range b.fields {
						v, _ := f.Value(field)
						if !slices.Contains(f.optionsFor(b, level), v) {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.Property("changing a parent resets the child to its first option", prop.ForAll(
		func(pick int) bool {
			f := Synthesize("vm", computeSpecs(), catalog)
			opts := f.Options("osType")
			changes, err := f.Set("osType", opts[pick%len(opts)])
			if err != nil || len(changes) == 0 {
				return false
			}
			tiers := f.Options("vmTier")
			v, _ := f.Value("vmTier")
			return len(tiers) > 0 && v == tiers[0]
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestParseCatalogErrors(t *testing.T) {
	bad := map[string]string{
		"not a mapping":  "- a\n- b\n",
		"one level":      "c:\n  fields: [[a]]\n  values: [x]\n",
		"missing values": "c:\n  fields: [[a], [b]]\n",
		"ragged tree":    "c:\n  fields: [[a], [b]]\n  values:\n    x: y\n",
		"empty leaf":     "c:\n  fields: [[a], [b]]\n  values:\n    x: []\n",
	}
	for name, doc := range bad {
		if _, err := ParseCatalog([]byte(doc)); !errors.Is(err, ErrInvalidCatalog) {
			t.Errorf("%s: expected ErrInvalidCatalog, got %v", name, err)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"vmSize":        "Vm Size",
		"admin_user":    "Admin User",
		"VMSize":        "VM Size",
		"location":      "Location",
		"storage-kind":  "Storage Kind",
		"enableHTTPS":   "Enable HTTPS",
		"resourceGroup": "Resource Group",
	}
	for in, want := range tests {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAutosaverDebounce(t *testing.T) {
	st := memory.New()
	a := NewAutosaver(st.Drafts(), "dev@example.com", "vm", 20*time.Millisecond, nil)
	f := Synthesize("vm", computeSpecs(), DefaultCatalog())
	a.Attach(f)

	_, _ = f.Set("vmName", "web-1")
	_, _ = f.Set("vmName", "web-2")

	if _, err := st.Drafts().Get(context.Background(), "dev@example.com", "vm"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("draft should not be saved before the delay, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := st.Drafts().Get(context.Background(), "dev@example.com", "vm")
		if err == nil {
			if d.Values["vmName"] != "web-2" {
				t.Errorf("expected last value, got %q", d.Values["vmName"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("draft was never saved")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAutosaversFlushAndDiscard(t *testing.T) {
	st := memory.New()
	reg := NewAutosavers(st.Drafts(), time.Hour, nil)

	reg.Touch("a@example.com", "vm", map[string]string{"vmName": "a"})
	reg.Touch("b@example.com", "vm", map[string]string{"vmName": "b"})
	reg.Discard("b@example.com", "vm")
	reg.FlushAll()

	ctx := context.Background()
	if d, err := st.Drafts().Get(ctx, "a@example.com", "vm"); err != nil || d.Values["vmName"] != "a" {
		t.Errorf("expected flushed draft, got %v, %v", d, err)
	}
	if _, err := st.Drafts().Get(ctx, "b@example.com", "vm"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("discarded draft should not be saved, got %v", err)
	}
}

func TestAutosaversReleaseAfterSave(t *testing.T) {
	st := memory.New()
	reg := NewAutosavers(st.Drafts(), 10*time.Millisecond, nil)
	ctx := context.Background()

	savedValue := func() string {
		d, err := st.Drafts().Get(ctx, "dev@example.com", "vm")
		if err != nil {
			return ""
		}
		return d.Values["vmName"]
	}
	waitFor := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	reg.Touch("dev@example.com", "vm", map[string]string{"vmName": "web-1"})
	if reg.Len() != 1 {
		t.Fatalf("expected one active autosaver, got %d", reg.Len())
	}
	waitFor("first save", func() bool { return savedValue() == "web-1" })
	waitFor("release", func() bool { return reg.Len() == 0 })

	reg.Touch("dev@example.com", "vm", map[string]string{"vmName": "web-2"})
	waitFor("second save", func() bool { return savedValue() == "web-2" })
	waitFor("second release", func() bool { return reg.Len() == 0 })
}
