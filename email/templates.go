package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"maps"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateName identifies one of the portal's email templates.
type TemplateName string

const (
	TemplateWelcome                TemplateName = "WELCOME"
	TemplateVerification           TemplateName = "VERIFICATION"
	TemplatePasswordReset          TemplateName = "PASSWORD_RESET"
	TemplateDeleteAccount          TemplateName = "DELETE_ACCOUNT"
	TemplateOrganizationInvitation TemplateName = "ORGANIZATION_INVITATION"
)

var templateFiles = map[TemplateName]string{
	TemplateWelcome:                "templates/welcome.html",
	TemplateVerification:           "templates/verification.html",
	TemplatePasswordReset:          "templates/password_reset.html",
	TemplateDeleteAccount:          "templates/delete_account.html",
	TemplateOrganizationInvitation: "templates/organization_invitation.html",
}

// TemplateEngine renders the embedded email templates.
type TemplateEngine struct {
	appName   string
	templates map[TemplateName]*template.Template
}

// NewTemplateEngine parses every template up front.
func NewTemplateEngine(appName string) (*TemplateEngine, error) {
	funcs := template.FuncMap{"dict": dict}
	te := &TemplateEngine{appName: appName, templates: make(map[TemplateName]*template.Template)}
	for name, file := range templateFiles {
		tmpl, err := template.New(string(name)).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTemplateRender, name, err)
		}
		te.templates[name] = tmpl
	}
	return te, nil
}

// Render executes the named template with data. The keys "appName" and
// "year" are always available.
func (te *TemplateEngine) Render(name TemplateName, data map[string]string) (string, error) {
	tmpl, ok := te.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	values := map[string]string{
		"appName": te.appName,
		"year":    strconv.Itoa(time.Now().Year()),
	}
	maps.Copy(values, data)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", values); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateRender, name, err)
	}
	return buf.String(), nil
}

func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict needs key/value pairs")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}
