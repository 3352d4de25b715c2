package workflow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\[\]-]+)\s*\}\}`)

// Interpolate substitutes {{a.b.c}} placeholders against the context using
// dotted-path lookup. Missing paths are left literal. Object and array values
// render as indented JSON; scalars render bare.
func Interpolate(template string, ctx map[string]any) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	doc, err := json.Marshal(ctx)
	if err != nil {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		res := gjson.GetBytes(doc, path)
		if !res.Exists() {
			return match
		}
		switch res.Type {
		case gjson.String:
			return res.Str
		case gjson.JSON:
			var pretty any
			if err := json.Unmarshal([]byte(res.Raw), &pretty); err == nil {
				if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
					return string(b)
				}
			}
			return res.Raw
		default:
			return res.String()
		}
	})
}
