package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/interviewer/internal/model"
)

func testQuestions() []model.Question {
	return []model.Question{
		{ID: "fe-1", Role: "Frontend Engineer", Type: "Technical", Question: "Explain the virtual DOM."},
		{ID: "any-1", Role: model.AnyRole, Type: "Behavioral", Question: "Tell me about a conflict."},
		{ID: "be-1", Role: "Backend Engineer", Type: "System Design", Question: "Design a rate limiter."},
		{ID: "fe-2", Role: "Frontend Engineer", Type: "Behavioral", Question: "Describe a UI you shipped."},
		{ID: "pm-1", Role: "Product Manager", Type: "Technical", Question: "How do you prioritise?"},
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(testQuestions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func ids(qs []model.Question) []string {
	var out []string
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

// TestFilterProperty checks every role/type pair against the filter rule
// written out longhand.
func TestFilterProperty(t *testing.T) {
	c := newTestCatalog(t)
	for _, role := range model.Roles {
		for _, typ := range c.Types() {
			var want []string
			for _, q := range c.All() {
				roleOK := q.Role == role || q.Role == model.AnyRole || role == model.AnyRole
				typeOK := q.Type == typ || typ == model.AllTypes
				if roleOK && typeOK {
					want = append(want, q.ID)
				}
			}
			got := ids(c.Filter(role, typ))
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Filter(%q, %q) = %v, want %v", role, typ, got, want)
			}
		}
	}
}

func TestFilterSelection(t *testing.T) {
	c := newTestCatalog(t)
	tests := []struct {
		role, typ string
		want      []string
	}{
		{"Frontend Engineer", model.AllTypes, []string{"fe-1", "any-1", "fe-2"}},
		{"Frontend Engineer", "Behavioral", []string{"any-1", "fe-2"}},
		{model.AnyRole, model.AllTypes, []string{"fe-1", "any-1", "be-1", "fe-2", "pm-1"}},
		{"Data/ML Engineer", model.AllTypes, []string{"any-1"}},
		{"Data/ML Engineer", "Technical", nil},
	}
	for _, tt := range tests {
		got := ids(c.Filter(tt.role, tt.typ))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Filter(%q, %q) = %v, want %v", tt.role, tt.typ, got, tt.want)
		}
	}
}

func TestTypes(t *testing.T) {
	c := newTestCatalog(t)
	want := []string{model.AllTypes, "Technical", "Behavioral", "System Design"}
	if got := c.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
	if !c.IsValidType("System Design") || c.IsValidType("Trivia") {
		t.Error("IsValidType mismatch")
	}
}

func TestGetAndContains(t *testing.T) {
	c := newTestCatalog(t)
	q, ok := c.Get("be-1")
	if !ok || q.Question != "Design a rate limiter." {
		t.Errorf("Get(be-1) = %+v, %v", q, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
	if !c.Contains("any-1", "Product Manager", "Behavioral") {
		t.Error("any-role question should be contained for every role")
	}
	if c.Contains("be-1", "Frontend Engineer", model.AllTypes) {
		t.Error("backend question should not match frontend filter")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	c := newTestCatalog(t)
	all := c.All()
	all[0].Question = "mutated"
	if q, _ := c.Get("fe-1"); q.Question == "mutated" {
		t.Error("All() must not expose internal storage")
	}
}

func TestValidate(t *testing.T) {
	bad := []model.Question{
		{ID: "a", Role: "r", Type: "t", Question: "q"},
		{ID: "a", Role: "r", Type: "t", Question: "q"},
		{ID: "", Role: "", Type: "t", Question: "q"},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"duplicate id", "id is required", "role is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
	if _, err := New(bad); err == nil {
		t.Error("New should reject invalid questions")
	}
}

func TestParse(t *testing.T) {
	jsonData := `[{"id":"q1","role":"Any Role","type":"Behavioral","question":"Why us?"}]`
	yamlData := "- id: q1\n  role: Any Role\n  type: Behavioral\n  question: Why us?\n"
	want := []model.Question{{ID: "q1", Role: model.AnyRole, Type: "Behavioral", Question: "Why us?"}}

	got, err := Parse([]byte(jsonData), FormatJSON)
	if err != nil {
		t.Fatalf("Parse json: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("json = %+v", got)
	}

	got, err = Parse([]byte(yamlData), FormatYAML)
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("yaml = %+v", got)
	}

	if _, err := Parse([]byte(`[{"id":"q1","role":"r","type":"t","question":"q","extra":1}]`), FormatJSON); err == nil {
		t.Error("unknown JSON field should be rejected")
	}
	if _, err := Parse([]byte("- id: q1\n  colour: red\n"), FormatYAML); err == nil {
		t.Error("unknown YAML field should be rejected")
	}
	if _, err := Parse([]byte(`{not json`), FormatJSON); err == nil {
		t.Error("invalid JSON should be rejected")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "questions.yml")
	data := "- id: q1\n  role: Backend Engineer\n  type: Technical\n  question: What is a goroutine?\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	qs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(qs) != 1 || qs[0].Role != "Backend Engineer" {
		t.Errorf("LoadFile = %+v", qs)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestFormatForPath(t *testing.T) {
	for path, want := range map[string]Format{
		"q.json": FormatJSON,
		"q.YAML": FormatYAML,
		"q.yml":  FormatYAML,
		"q":      FormatJSON,
	} {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
