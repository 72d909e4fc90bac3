package actions

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

// Composer writes the outbound message for a completed task.
type Composer interface {
	Compose(ctx context.Context, req dialogue.ExecuteRequest) (string, error)
}

var messageTemplates = map[string]string{
	"notify_manager": `Time off request from {{.employee_name}}: {{.time_off_type}} from {{.start_date}} to {{.end_date}}.` +
		`{{with .reason}} Reason: {{.}}.{{end}}`,
	"post_meeting": `Meeting organized by {{.organizer_name}} on {{.date}} from {{.start_time}} to {{.end_time}}` +
		` with {{.participants}} on {{.meeting_platform}}.{{with .agenda}} Agenda: {{.}}{{end}}`,
	"post_it_ticket": `IT ticket from {{.requester_name}} [{{.urgency}}] {{.issue_category}}: {{.issue_description}}` +
		`{{with .affected_system}} (system: {{.}}){{end}}{{with .contact_email}} Contact: {{.}}{{end}}`,
	"post_medical_claim": `Medical claim from {{.employee_name}}: {{.claim_type}} of {{.claim_amount}} at {{.provider_name}} on {{.incident_date}}.` +
		`{{with .description}} {{.}}{{end}}`,
}

var summaries = map[string]string{
	"notify_manager":     "Your time off request has been sent to your manager.",
	"post_meeting":       "Your meeting is scheduled and the details have been shared.",
	"post_it_ticket":     "Your IT ticket has been submitted to the support team.",
	"post_medical_claim": "Your medical claim has been filed with HR.",
}

// TemplateComposer renders a fixed template per action, or a field list
// for actions without one.
type TemplateComposer struct {
	templates map[string]*template.Template
}

func NewTemplateComposer() (*TemplateComposer, error) {
	c := &TemplateComposer{templates: make(map[string]*template.Template, len(messageTemplates))}
	for action, text := range messageTemplates {
		tmpl, err := template.New(action).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", action, err)
		}
		c.templates[action] = tmpl
	}
	return c, nil
}

func (c *TemplateComposer) Compose(_ context.Context, req dialogue.ExecuteRequest) (string, error) {
	values := make(map[string]string, len(req.Slots))
	for name, v := range req.Slots {
		values[name] = v.Value
	}
	tmpl, ok := c.templates[req.Action]
	if !ok {
		return listMessage(req), nil
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, values); err != nil {
		return "", fmt.Errorf("render %s message: %w", req.Action, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func listMessage(req dialogue.ExecuteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s request", strings.ReplaceAll(req.Intent, "_", " "))
	for _, name := range req.Fields {
		v, ok := req.Slots[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", strings.ReplaceAll(name, "_", " "), v.Value)
		if v.Source == dialogue.SourceFallback {
			b.WriteString(" (default)")
		}
	}
	return b.String()
}

// Summary is the user-facing confirmation for a delivered action.
func Summary(action string) string {
	return summaries[action]
}
