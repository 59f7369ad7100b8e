// Package template renders Handlebars-like prompt sections against a data
// model: variable substitution, if/else, each, comparison helpers, and
// partials. Rendering is pure (no I/O) and failures (missing required
// field, unbalanced block) surface as a stage error rather than a panic.
//
// No Handlebars-family templating library appears anywhere in the
// retrieval pack, so this renderer is a small hand-rolled recursive-
// descent implementation over the standard library only; see DESIGN.md
// for the justification.
package template

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ErrRender is the sentinel wrapped by every rendering failure, letting
// callers distinguish a TemplateFailure (spec §7 taxonomy) from other
// stage errors.
type ErrRender struct{ Msg string }

func (e *ErrRender) Error() string { return "template: " + e.Msg }

// Partials resolves named partial templates by name.
type Partials map[string]string

// Render renders src against data. Partials may be nil.
func Render(src string, data map[string]any, partials Partials) (string, error) {
	p := &parser{src: src}
	nodes, term, err := p.parseUntil()
	if err != nil {
		return "", err
	}
	if term != "" {
		return "", &ErrRender{Msg: fmt.Sprintf("unbalanced block: unexpected {{%s}}", term)}
	}
	var buf bytes.Buffer
	if err := evalNodes(nodes, data, partials, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeIf
	nodeEach
	nodePartial
)

type node struct {
	kind     nodeKind
	text     string
	expr     string
	body     []node
	elseBody []node
}

// parser walks src left to right, emitting text/tag nodes. parseUntil
// parses nodes until it reaches end of input or a block terminator tag
// ("else", "/if", "/each"); it returns that terminator's raw tag text (or
// "" at end of input) so callers can recognize their own closing tag.
type parser struct{ src string }

func (p *parser) parseUntil() ([]node, string, error) {
	var nodes []node
	for {
		start := strings.Index(p.src, "{{")
		if start < 0 {
			nodes = append(nodes, node{kind: nodeText, text: p.src})
			p.src = ""
			return nodes, "", nil
		}
		if start > 0 {
			nodes = append(nodes, node{kind: nodeText, text: p.src[:start]})
		}
		end := strings.Index(p.src[start:], "}}")
		if end < 0 {
			return nil, "", &ErrRender{Msg: "unterminated {{ tag"}
		}
		tag := strings.TrimSpace(p.src[start+2 : start+end])
		p.src = p.src[start+end+2:]

		switch {
		case tag == "else" || strings.HasPrefix(tag, "/"):
			return nodes, tag, nil
		case strings.HasPrefix(tag, "#if "):
			body, term, err := p.parseUntil()
			if err != nil {
				return nil, "", err
			}
			var elseBody []node
			if term == "else" {
				elseBody, term, err = p.parseUntil()
				if err != nil {
					return nil, "", err
				}
			}
			if term != "/if" {
				return nil, "", &ErrRender{Msg: fmt.Sprintf("unbalanced {{#if %s}}: expected {{/if}}", tag[4:])}
			}
			nodes = append(nodes, node{kind: nodeIf, expr: strings.TrimSpace(strings.TrimPrefix(tag, "#if ")), body: body, elseBody: elseBody})
		case strings.HasPrefix(tag, "#each "):
			body, term, err := p.parseUntil()
			if err != nil {
				return nil, "", err
			}
			if term != "/each" {
				return nil, "", &ErrRender{Msg: fmt.Sprintf("unbalanced {{#each %s}}: expected {{/each}}", tag[6:])}
			}
			nodes = append(nodes, node{kind: nodeEach, expr: strings.TrimSpace(strings.TrimPrefix(tag, "#each ")), body: body})
		case strings.HasPrefix(tag, "> "):
			nodes = append(nodes, node{kind: nodePartial, expr: strings.TrimSpace(strings.TrimPrefix(tag, "> "))})
		default:
			nodes = append(nodes, node{kind: nodeVar, expr: tag})
		}
	}
}

func evalNodes(nodes []node, data map[string]any, partials Partials, buf *bytes.Buffer) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			buf.WriteString(n.text)
		case nodeVar:
			v, ok := lookup(data, n.expr)
			if !ok {
				return &ErrRender{Msg: fmt.Sprintf("missing field %q", n.expr)}
			}
			buf.WriteString(stringify(v))
		case nodeIf:
			ok, err := truthy(data, n.expr)
			if err != nil {
				return err
			}
			if ok {
				if err := evalNodes(n.body, data, partials, buf); err != nil {
					return err
				}
			} else if n.elseBody != nil {
				if err := evalNodes(n.elseBody, data, partials, buf); err != nil {
					return err
				}
			}
		case nodeEach:
			items, ok := lookup(data, n.expr)
			if !ok {
				return &ErrRender{Msg: fmt.Sprintf("missing list %q", n.expr)}
			}
			slice, ok := items.([]any)
			if !ok {
				return &ErrRender{Msg: fmt.Sprintf("%q is not a list", n.expr)}
			}
			for i, item := range slice {
				scoped := map[string]any{"this": item, "@index": i}
				for k, v := range data {
					if _, exists := scoped[k]; !exists {
						scoped[k] = v
					}
				}
				if m, ok := item.(map[string]any); ok {
					for k, v := range m {
						scoped[k] = v
					}
				}
				if err := evalNodes(n.body, scoped, partials, buf); err != nil {
					return err
				}
			}
		case nodePartial:
			src, ok := partials[n.expr]
			if !ok {
				return &ErrRender{Msg: fmt.Sprintf("unknown partial %q", n.expr)}
			}
			out, err := Render(src, data, partials)
			if err != nil {
				return err
			}
			buf.WriteString(out)
		}
	}
	return nil
}

// truthy evaluates an #if expression: a bare field lookup, or one of the
// comparison helpers "eq A B" / "ne A B".
func truthy(data map[string]any, expr string) (bool, error) {
	fields := strings.Fields(expr)
	switch {
	case len(fields) == 3 && (fields[0] == "eq" || fields[0] == "ne"):
		a, _ := lookup(data, fields[1])
		b, _ := lookup(data, fields[2])
		eq := stringify(a) == stringify(b)
		if fields[0] == "ne" {
			return !eq, nil
		}
		return eq, nil
	case len(fields) == 1:
		v, ok := lookup(data, fields[0])
		if !ok {
			return false, nil
		}
		return isTruthy(v), nil
	default:
		return false, &ErrRender{Msg: fmt.Sprintf("unsupported #if expression %q", expr)}
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// lookup resolves a dotted path (e.g. "input.name") or a quoted/numeric
// literal against data.
func lookup(data map[string]any, path string) (any, bool) {
	if strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		return strings.Trim(path, `"`), true
	}
	if n, err := strconv.ParseFloat(path, 64); err == nil {
		return n, true
	}
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
