// Package templates renders the markdown bodies of filed issues and plan
// steps. The syntax is deliberately small:
//
//	{{name}}                 substitutes a variable (missing variables are an error)
//	{{#if name}}...{{/if}}   keeps the block only when name is set and non-empty
//
// Conditionals nest.
package templates

import (
	"fmt"
	"regexp"
	"strings"
)

// Vars maps variable names to values.
type Vars map[string]string

var tagRe = regexp.MustCompile(`\{\{\s*(#if\s+[a-zA-Z_][a-zA-Z0-9_]*|/if|[a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// frame is an open {{#if}} block.
type frame struct {
	name string
	tag  string
	keep bool
	buf  strings.Builder
}

// Render expands tmpl with vars.
func Render(tmpl string, vars Vars) (string, error) {
	root := &frame{keep: true}
	stack := []*frame{root}
	var missing []string
	seenMissing := map[string]bool{}

	pos := 0
	for _, loc := range tagRe.FindAllStringSubmatchIndex(tmpl, -1) {
		top := stack[len(stack)-1]
		top.buf.WriteString(tmpl[pos:loc[0]])
		pos = loc[1]

		tag := tmpl[loc[2]:loc[3]]
		switch {
		case strings.HasPrefix(tag, "#if"):
			name := strings.TrimSpace(strings.TrimPrefix(tag, "#if"))
			stack = append(stack, &frame{name: name, tag: tmpl[loc[0]:loc[1]], keep: vars[name] != ""})
		case tag == "/if":
			if len(stack) == 1 {
				return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if closed.keep {
				stack[len(stack)-1].buf.WriteString(closed.buf.String())
			}
		default:
			val, ok := vars[tag]
			if !ok {
				if !seenMissing[tag] && inLiveBlock(stack) {
					seenMissing[tag] = true
					missing = append(missing, tag)
				}
				continue
			}
			top.buf.WriteString(val)
		}
	}
	if len(stack) > 1 {
		return "", fmt.Errorf("unclosed conditional block: %s", stack[len(stack)-1].tag)
	}
	root.buf.WriteString(tmpl[pos:])
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return root.buf.String(), nil
}

// inLiveBlock reports whether output at the top of stack will be kept.
// Variables inside dropped blocks are not required.
func inLiveBlock(stack []*frame) bool {
	for _, f := range stack {
		if !f.keep {
			return false
		}
	}
	return true
}
