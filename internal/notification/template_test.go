package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandTemplate(t *testing.T) {
	tpl := &NotificationTemplate{
		Type: TypeExam,
		Template: TemplateBody{
			Title:   "Quiz {{quizName}} starts soon",
			Content: "Hi {{username}}, {{quizName}} starts in {{minutes}} minutes.",
			Variables: []TemplateVariable{
				{Name: "quizName", Type: "string", Required: true},
				{Name: "username", Type: "string", Required: true},
				{Name: "minutes", Type: "number", DefaultValue: 15},
			},
		},
		Channels: TemplateChannels{
			Web:   TemplateChannelWeb{Enabled: true},
			Email: TemplateChannelEmail{Enabled: true},
		},
		Settings: TemplateSettings{Priority: PriorityHigh, RequireAcknowledgment: true},
	}

	rendered := ExpandTemplate(tpl, map[string]interface{}{
		"quizName": "Football Rules",
		"username": "sam",
	})

	assert.Equal(t, "Quiz Football Rules starts soon", rendered.Title)
	assert.Equal(t, "Hi sam, Football Rules starts in 15 minutes.", rendered.Content)
	assert.Equal(t, TypeExam, rendered.Type)
	assert.Equal(t, PriorityHigh, rendered.Priority)
	assert.True(t, rendered.Channels.Web)
	assert.True(t, rendered.Channels.Email)
	assert.False(t, rendered.Channels.SMS)
	assert.True(t, rendered.Settings.RequireAcknowledgment)
}

func TestExpandTemplateMissingRequiredVariable(t *testing.T) {
	tpl := &NotificationTemplate{
		Template: TemplateBody{
			Title:   "Result for {{quizName}}",
			Content: "Score: {{score}}",
			Variables: []TemplateVariable{
				{Name: "quizName", Required: true},
				{Name: "score", Required: true},
			},
		},
	}

	rendered := ExpandTemplate(tpl, map[string]interface{}{"score": 87})

	assert.Equal(t, "Result for ", rendered.Title)
	assert.Equal(t, "Score: 87", rendered.Content)
}

func TestExpandTemplateRepeatedPlaceholder(t *testing.T) {
	tpl := &NotificationTemplate{
		Template: TemplateBody{
			Title:   "{{name}}",
			Content: "{{name}} and {{name}} again",
			Variables: []TemplateVariable{
				{Name: "name"},
			},
		},
	}

	rendered := ExpandTemplate(tpl, map[string]interface{}{"name": "x"})

	assert.Equal(t, "x", rendered.Title)
	assert.Equal(t, "x and x again", rendered.Content)
}

func TestExpandTemplateUndeclaredVariableLeftIntact(t *testing.T) {
	tpl := &NotificationTemplate{
		Template: TemplateBody{
			Title:   "Hello {{unknown}}",
			Content: "body",
		},
	}

	rendered := ExpandTemplate(tpl, map[string]interface{}{"unknown": "value"})

	// Only declared variables are substituted.
	assert.Equal(t, "Hello {{unknown}}", rendered.Title)
}
