package notification

import (
	"fmt"
	"strings"
)

// Rendered is the outcome of expanding a template: concrete title/content
// plus the channel flags and settings the template stamps onto the
// notification being built.
type Rendered struct {
	Title    string
	Content  string
	Type     string
	Priority string
	Channels ChannelFlags
	Settings TemplateSettings
}

// ExpandTemplate substitutes {{name}} placeholders in the template's title
// and content with the bound value, the declared default, or an empty string
// if neither is present. Substitution is textual and not type-checked; a
// missing required variable degrades to an empty string rather than failing.
func ExpandTemplate(tpl *NotificationTemplate, vars map[string]interface{}) Rendered {
	title := tpl.Template.Title
	content := tpl.Template.Content

	for _, v := range tpl.Template.Variables {
		value, ok := vars[v.Name]
		if !ok || value == nil {
			value = v.DefaultValue
		}
		var text string
		if value != nil {
			text = fmt.Sprintf("%v", value)
		}
		placeholder := "{{" + v.Name + "}}"
		title = strings.ReplaceAll(title, placeholder, text)
		content = strings.ReplaceAll(content, placeholder, text)
	}

	return Rendered{
		Title:    title,
		Content:  content,
		Type:     tpl.Type,
		Priority: tpl.Settings.Priority,
		Channels: ChannelFlags{
			Web:   tpl.Channels.Web.Enabled,
			Email: tpl.Channels.Email.Enabled,
			SMS:   tpl.Channels.SMS.Enabled,
			Push:  tpl.Channels.Push.Enabled,
		},
		Settings: tpl.Settings,
	}
}
