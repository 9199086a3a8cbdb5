// Package catalog holds the ordered, read-only question catalog and the
// role/type filtering rules applied to it.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/interviewer/internal/model"
)

// Catalog is an immutable ordered question list. It is safe for concurrent
// use.
type Catalog struct {
	questions []model.Question
	byID      map[string]int
	types     []string
}

// New validates questions and returns a Catalog preserving their order.
func New(questions []model.Question) (*Catalog, error) {
	if err := Validate(questions); err != nil {
		return nil, err
	}
	c := &Catalog{
		questions: make([]model.Question, len(questions)),
		byID:      make(map[string]int, len(questions)),
	}
	copy(c.questions, questions)
	seenType := make(map[string]bool)
	for i, q := range c.questions {
		c.byID[q.ID] = i
		if !seenType[q.Type] {
			seenType[q.Type] = true
			c.types = append(c.types, q.Type)
		}
	}
	return c, nil
}

// Validate checks that every question has all fields set and a unique ID.
// It returns a joined error listing all problems found.
func Validate(questions []model.Question) error {
	var errs []error
	seen := make(map[string]bool, len(questions))
	for i, q := range questions {
		if strings.TrimSpace(q.ID) == "" {
			errs = append(errs, fmt.Errorf("question %d: id is required", i))
		} else if seen[q.ID] {
			errs = append(errs, fmt.Errorf("question %d: duplicate id %q", i, q.ID))
		}
		seen[q.ID] = true
		if strings.TrimSpace(q.Role) == "" {
			errs = append(errs, fmt.Errorf("question %q: role is required", q.ID))
		}
		if strings.TrimSpace(q.Type) == "" {
			errs = append(errs, fmt.Errorf("question %q: type is required", q.ID))
		}
		if strings.TrimSpace(q.Question) == "" {
			errs = append(errs, fmt.Errorf("question %q: question text is required", q.ID))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// All returns a copy of every question in catalog order.
func (c *Catalog) All() []model.Question {
	out := make([]model.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Get returns the question with the given ID.
func (c *Catalog) Get(id string) (model.Question, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Question{}, false
	}
	return c.questions[i], true
}

// Filter returns, in catalog order, the questions matching role and typ.
func (c *Catalog) Filter(role, typ string) []model.Question {
	return Filter(c.questions, role, typ)
}

// Contains reports whether the question with id passes the role/type filter.
func (c *Catalog) Contains(id, role, typ string) bool {
	q, ok := c.Get(id)
	return ok && q.Matches(role, typ)
}

// Types returns the selectable type filters: model.AllTypes followed by the
// distinct catalog types in first-seen order.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.types)+1)
	out = append(out, model.AllTypes)
	return append(out, c.types...)
}

// IsValidType reports whether typ is one of Types.
func (c *Catalog) IsValidType(typ string) bool {
	for _, t := range c.Types() {
		if t == typ {
			return true
		}
	}
	return false
}

// Filter returns the questions in qs matching role and typ, preserving order.
func Filter(qs []model.Question, role, typ string) []model.Question {
	var out []model.Question
	for _, q := range qs {
		if q.Matches(role, typ) {
			out = append(out, q)
		}
	}
	return out
}
