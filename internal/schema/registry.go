// Package schema holds the static task and slot definitions. A Registry is
// immutable once built and safe for concurrent readers.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlotType is the semantic type of a slot value.
type SlotType string

const (
	TypeText         SlotType = "text"
	TypeName         SlotType = "name"
	TypeDate         SlotType = "date"
	TypeTime         SlotType = "time"
	TypeEnum         SlotType = "enum"
	TypePhone        SlotType = "phone"
	TypeEmail        SlotType = "email"
	TypeAmount       SlotType = "amount"
	TypeBoolean      SlotType = "boolean"
	TypeParticipants SlotType = "participants"
)

// Reserved intent names that can never be task intents.
const (
	IntentNone   = "none"
	IntentCancel = "cancel"
)

const DefaultMaxRetries = 3

var ErrInvalidRegistry = errors.New("invalid task registry")

//go:embed default_tasks.yaml
var defaultTasksYAML []byte

// NeedsNormalization reports whether raw values of this type are
// canonicalized before they are confirmed.
func (t SlotType) NeedsNormalization() bool {
	switch t {
	case TypeText, TypeName, TypeParticipants:
		return false
	default:
		return true
	}
}

func (t SlotType) valid() bool {
	switch t {
	case TypeText, TypeName, TypeDate, TypeTime, TypeEnum, TypePhone,
		TypeEmail, TypeAmount, TypeBoolean, TypeParticipants:
		return true
	default:
		return false
	}
}

type Slot struct {
	Name       string   `json:"name"`
	Type       SlotType `json:"type"`
	Required   bool     `json:"required"`
	Prompt     string   `json:"prompt"`
	MaxRetries int      `json:"max_retries"`
	Default    string   `json:"default,omitempty"`
	Options    []string `json:"options,omitempty"`
	Cues       []string `json:"cues,omitempty"`
}

// HasFallback reports whether exhausted retries can fall back to Default.
func (s Slot) HasFallback() bool {
	return strings.TrimSpace(s.Default) != ""
}

type KeywordRule struct {
	Terms  []string `json:"terms"`
	Weight float64  `json:"weight"`
}

type PatternRule struct {
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`

	re *regexp.Regexp
}

// Regexp returns the compiled, case-insensitive pattern.
func (p PatternRule) Regexp() *regexp.Regexp { return p.re }

// Completion describes the payload handed to the action executor.
type Completion struct {
	Action string   `json:"action"`
	Fields []string `json:"fields,omitempty"`
}

type Task struct {
	Intent      string        `json:"intent"`
	Description string        `json:"description"`
	Keywords    []KeywordRule `json:"keywords,omitempty"`
	Patterns    []PatternRule `json:"patterns,omitempty"`
	Slots       []Slot        `json:"slots"`
	Completion  Completion    `json:"completion"`
}

func (t Task) Slot(name string) (Slot, bool) {
	for _, s := range t.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// PayloadFields lists the slots included in the executor payload, in
// declared order.
func (t Task) PayloadFields() []string {
	if len(t.Completion.Fields) > 0 {
		out := make([]string, len(t.Completion.Fields))
		copy(out, t.Completion.Fields)
		return out
	}
	out := make([]string, 0, len(t.Slots))
	for _, s := range t.Slots {
		out = append(out, s.Name)
	}
	return out
}

type Registry struct {
	tasks map[string]Task
	order []string
}

// New validates tasks and builds a registry. Slots without MaxRetries get
// defaultMaxRetries (DefaultMaxRetries when <= 0).
func New(tasks []Task, defaultMaxRetries int) (*Registry, error) {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = DefaultMaxRetries
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks defined", ErrInvalidRegistry)
	}
	r := &Registry{tasks: make(map[string]Task, len(tasks))}
	for _, in := range tasks {
		t := cloneTask(in)
		t.Intent = strings.TrimSpace(t.Intent)
		if err := validateTask(&t, defaultMaxRetries); err != nil {
			return nil, err
		}
		if _, dup := r.tasks[t.Intent]; dup {
			return nil, fmt.Errorf("%w: duplicate intent %q", ErrInvalidRegistry, t.Intent)
		}
		r.tasks[t.Intent] = t
		r.order = append(r.order, t.Intent)
	}
	return r, nil
}

func validateTask(t *Task, defaultMaxRetries int) error {
	switch t.Intent {
	case "":
		return fmt.Errorf("%w: task intent is required", ErrInvalidRegistry)
	case IntentNone, IntentCancel:
		return fmt.Errorf("%w: intent %q is reserved", ErrInvalidRegistry, t.Intent)
	}
	if len(t.Slots) == 0 {
		return fmt.Errorf("%w: task %q has no slots", ErrInvalidRegistry, t.Intent)
	}
	seen := make(map[string]bool, len(t.Slots))
	for i := range t.Slots {
		s := &t.Slots[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return fmt.Errorf("%w: task %q slot %d has no name", ErrInvalidRegistry, t.Intent, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: task %q repeats slot %q", ErrInvalidRegistry, t.Intent, s.Name)
		}
		seen[s.Name] = true
		if s.Type == "" {
			s.Type = TypeText
		}
		if !s.Type.valid() {
			return fmt.Errorf("%w: slot %s.%s has unknown type %q", ErrInvalidRegistry, t.Intent, s.Name, s.Type)
		}
		if s.MaxRetries <= 0 {
			s.MaxRetries = defaultMaxRetries
		}
		if strings.TrimSpace(s.Prompt) == "" {
			s.Prompt = fmt.Sprintf("What is the %s?", strings.ReplaceAll(s.Name, "_", " "))
		}
		if s.Type == TypeEnum {
			if len(s.Options) == 0 {
				return fmt.Errorf("%w: enum slot %s.%s needs options", ErrInvalidRegistry, t.Intent, s.Name)
			}
			if s.HasFallback() && !containsFold(s.Options, s.Default) {
				return fmt.Errorf("%w: default %q of %s.%s is not an option", ErrInvalidRegistry, s.Default, t.Intent, s.Name)
			}
		}
	}
	for _, f := range t.Completion.Fields {
		if !seen[f] {
			return fmt.Errorf("%w: completion field %q of %q is not a slot", ErrInvalidRegistry, f, t.Intent)
		}
	}
	if strings.TrimSpace(t.Completion.Action) == "" {
		t.Completion.Action = t.Intent
	}
	for i := range t.Patterns {
		re, err := regexp.Compile("(?i)" + t.Patterns[i].Pattern)
		if err != nil {
			return fmt.Errorf("%w: pattern %q of %q: %v", ErrInvalidRegistry, t.Patterns[i].Pattern, t.Intent, err)
		}
		t.Patterns[i].re = re
	}
	return nil
}

func (r *Registry) Task(intent string) (Task, bool) {
	t, ok := r.tasks[intent]
	return t, ok
}

func (r *Registry) Has(intent string) bool {
	_, ok := r.tasks[intent]
	return ok
}

// Intents returns task intents in declared order.
func (r *Registry) Intents() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tasks returns every definition in declared order.
func (r *Registry) Tasks() []Task {
	out := make([]Task, 0, len(r.order))
	for _, intent := range r.order {
		out = append(out, r.tasks[intent])
	}
	return out
}

func cloneTask(t Task) Task {
	c := t
	c.Slots = make([]Slot, len(t.Slots))
	for i, s := range t.Slots {
		s.Options = append([]string(nil), s.Options...)
		s.Cues = append([]string(nil), s.Cues...)
		c.Slots[i] = s
	}
	c.Keywords = make([]KeywordRule, len(t.Keywords))
	for i, k := range t.Keywords {
		k.Terms = append([]string(nil), k.Terms...)
		c.Keywords[i] = k
	}
	c.Patterns = append([]PatternRule(nil), t.Patterns...)
	c.Completion.Fields = append([]string(nil), t.Completion.Fields...)
	return c
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

type fileSlot struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Required   *bool    `yaml:"required"`
	Prompt     string   `yaml:"prompt"`
	MaxRetries int      `yaml:"max_retries"`
	Default    string   `yaml:"default"`
	Options    []string `yaml:"options"`
	Cues       []string `yaml:"cues"`
}

type fileTask struct {
	Intent      string `yaml:"intent"`
	Description string `yaml:"description"`
	Keywords    []struct {
		Terms  []string `yaml:"terms"`
		Weight float64  `yaml:"weight"`
	} `yaml:"keywords"`
	Patterns []struct {
		Pattern string  `yaml:"pattern"`
		Weight  float64 `yaml:"weight"`
	} `yaml:"patterns"`
	Slots      []fileSlot `yaml:"slots"`
	Completion struct {
		Action string   `yaml:"action"`
		Fields []string `yaml:"fields"`
	} `yaml:"completion"`
}

type fileRegistry struct {
	Tasks []fileTask `yaml:"tasks"`
}

// Parse builds a registry from YAML. Slots are required unless they set
// `required: false`.
func Parse(data []byte, defaultMaxRetries int) (*Registry, error) {
	var doc fileRegistry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}
	tasks := make([]Task, 0, len(doc.Tasks))
	for _, ft := range doc.Tasks {
		t := Task{
			Intent:      ft.Intent,
			Description: strings.TrimSpace(ft.Description),
			Completion:  Completion{Action: ft.Completion.Action, Fields: ft.Completion.Fields},
		}
		for _, k := range ft.Keywords {
			t.Keywords = append(t.Keywords, KeywordRule{Terms: k.Terms, Weight: k.Weight})
		}
		for _, p := range ft.Patterns {
			t.Patterns = append(t.Patterns, PatternRule{Pattern: p.Pattern, Weight: p.Weight})
		}
		for _, fs := range ft.Slots {
			required := true
			if fs.Required != nil {
				required = *fs.Required
			}
			t.Slots = append(t.Slots, Slot{
				Name:       fs.Name,
				Type:       SlotType(strings.ToLower(strings.TrimSpace(fs.Type))),
				Required:   required,
				Prompt:     strings.TrimSpace(fs.Prompt),
				MaxRetries: fs.MaxRetries,
				Default:    strings.TrimSpace(fs.Default),
				Options:    fs.Options,
				Cues:       fs.Cues,
			})
		}
		tasks = append(tasks, t)
	}
	return New(tasks, defaultMaxRetries)
}

// LoadFile parses the registry at path.
func LoadFile(path string, defaultMaxRetries int) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task registry: %w", err)
	}
	return Parse(data, defaultMaxRetries)
}

// Default returns the built-in HR task registry.
func Default(defaultMaxRetries int) (*Registry, error) {
	return Parse(defaultTasksYAML, defaultMaxRetries)
}

// Load reads path when set, otherwise the built-in registry.
func Load(path string, defaultMaxRetries int) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(defaultMaxRetries)
	}
	return LoadFile(path, defaultMaxRetries)
}
