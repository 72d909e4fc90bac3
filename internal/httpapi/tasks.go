package httpapi

import (
	"net/http"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/schema"
)

type taskSlotView struct {
	Name     string          `json:"name"`
	Type     schema.SlotType `json:"type"`
	Required bool            `json:"required"`
	Prompt   string          `json:"prompt"`
	Default  string          `json:"default,omitempty"`
	Options  []string        `json:"options,omitempty"`
}

type taskView struct {
	Intent      string         `json:"intent"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Slots       []taskSlotView `json:"slots"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	reg := s.runtime.Registry()
	out := make([]taskView, 0, len(reg.Intents()))
	for _, t := range reg.Tasks() {
		view := taskView{
			Intent:      t.Intent,
			Description: t.Description,
			Action:      t.Completion.Action,
			Slots:       make([]taskSlotView, 0, len(t.Slots)),
		}
		for _, slot := range t.Slots {
			view.Slots = append(view.Slots, taskSlotView{
				Name:     slot.Name,
				Type:     slot.Type,
				Required: slot.Required,
				Prompt:   slot.Prompt,
				Default:  slot.Default,
				Options:  slot.Options,
			})
		}
		out = append(out, view)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"capabilities": dialogue.Capabilities(reg),
		"tasks":        out,
	})
}
