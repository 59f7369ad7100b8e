package agentparser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// headingAliases maps every accepted heading spelling (case-insensitive,
// trimmed) to the canonical section name.
var headingAliases = map[string]string{
	"options":     "Options",
	"before all":  "Before All",
	"data":        "Data",
	"system":      "System",
	"instruction": "Instruction",
	"user":        "Instruction",
	"inst":        "Instruction",
	"assistant":   "Assistant",
	"model":       "Assistant",
	"jedi trick":  "Assistant",
	"output":      "Output",
	"after all":   "After All",
}

// section is one top-level ("# Heading") block of the source file, holding
// the raw markdown between this heading and the next level-1 heading.
type section struct {
	name string // canonical name, per headingAliases
	body string // raw markdown source of the section body
}

// Parse parses the text of an .aip file into an Agent. name and
// sourcePath are recorded for diagnostics and sub-agent resolution; they
// do not affect parsing.
func Parse(src, name, sourcePath string) (*Agent, error) {
	sections, err := splitSections([]byte(src))
	if err != nil {
		return nil, err
	}

	a := &Agent{Name: name, SourcePath: sourcePath}
	var sawOptions bool

	for _, s := range sections {
		switch s.name {
		case "Options":
			opts, err := decodeOptionsBlock(s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # Options: %w", sourcePath, err)
			}
			a.Options = opts
			sawOptions = true
		case "Before All":
			script, err := firstFencedScript(s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # Before All: %w", sourcePath, err)
			}
			a.BeforeAll = script
		case "Data":
			script, err := firstFencedScript(s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # Data: %w", sourcePath, err)
			}
			a.Data = script
		case "Output":
			script, err := firstFencedScript(s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # Output: %w", sourcePath, err)
			}
			a.Output = script
		case "After All":
			script, err := firstFencedScript(s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # After All: %w", sourcePath, err)
			}
			a.AfterAll = script
		case "System", "Instruction", "Assistant":
			part, err := parsePromptPart(s.name, s.body)
			if err != nil {
				return nil, fmt.Errorf("agentparser: %s: # %s: %w", sourcePath, s.name, err)
			}
			a.PromptParts = append(a.PromptParts, part)
		}
	}
	_ = sawOptions
	return a, nil
}

// parsePromptPart extracts an optional leading #!meta TOML fence (part
// options) and treats the remaining markdown as the part's template
// source verbatim (spec §4.6: prompt parts render as templates).
func parsePromptPart(name, body string) (PromptPart, error) {
	kind := PartKind(strings.ToLower(name))
	meta, rest, err := extractMetaBlock(body)
	if err != nil {
		return PromptPart{}, err
	}
	return PromptPart{Kind: kind, Template: strings.TrimSpace(rest), Options: meta}, nil
}

// extractMetaBlock looks for the first fenced block in body whose info
// string is "#!meta" and, if present, decodes it as TOML and returns the
// remaining markdown with that fence removed.
func extractMetaBlock(body string) (PartOptions, string, error) {
	fences, err := fencedBlocks([]byte(body))
	if err != nil {
		return PartOptions{}, body, err
	}
	for _, f := range fences {
		if strings.TrimSpace(f.info) != "#!meta" {
			continue
		}
		var opts PartOptions
		if _, err := toml.Decode(f.content, &opts); err != nil {
			return PartOptions{}, body, fmt.Errorf("decode #!meta: %w", err)
		}
		return opts, body[:f.start] + body[f.end:], nil
	}
	return PartOptions{}, body, nil
}

// decodeOptionsBlock decodes the first fenced code block in the "#
// Options" section as TOML (the fence's info string, e.g. "toml", is
// not required to be present).
func decodeOptionsBlock(body string) (Options, error) {
	fences, err := fencedBlocks([]byte(body))
	if err != nil {
		return Options{}, err
	}
	var opts Options
	if len(fences) == 0 {
		// Allow a bare (unfenced) TOML section body too.
		if strings.TrimSpace(body) == "" {
			return opts, nil
		}
		if _, err := toml.Decode(body, &opts); err != nil {
			return Options{}, err
		}
		return opts, nil
	}
	if _, err := toml.Decode(fences[0].content, &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// firstFencedScript returns the content of the first fenced code block in
// body, or "" if the section has none.
func firstFencedScript(body string) (string, error) {
	fences, err := fencedBlocks([]byte(body))
	if err != nil {
		return "", err
	}
	if len(fences) == 0 {
		return "", nil
	}
	return fences[0].content, nil
}

// fence is one fenced code block found by walking the goldmark AST.
type fence struct {
	info    string
	content string
	start   int // byte offset in the original section body (info-fence start)
	end     int // byte offset just past the closing fence
}

// fencedBlocks parses src as Markdown and walks the AST collecting every
// fenced code block (three- or four-backtick fences are both accepted:
// goldmark's default parser already treats any run of >=3 backticks as a
// valid fence). Grounded on the nevindra-oasis telegram markdown
// renderer's goldmark AST-walking pattern.
func fencedBlocks(src []byte) ([]fence, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var out []fence
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		for i := 0; i < fcb.Lines().Len(); i++ {
			line := fcb.Lines().At(i)
			buf.Write(line.Value(src))
		}
		info := string(fcb.Language(src))
		startLine, endLine := blockByteRange(fcb, src)
		out = append(out, fence{info: info, content: buf.String(), start: startLine, end: endLine})
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("agentparser: parse fenced blocks: %w", err)
	}
	return out, nil
}

// blockByteRange approximates the byte span of a fenced block (including
// its fences) within src, used only to splice #!meta blocks back out of a
// prompt part's template text.
func blockByteRange(fcb *ast.FencedCodeBlock, src []byte) (start, end int) {
	lines := fcb.Lines()
	if lines.Len() == 0 {
		return 0, 0
	}
	first := lines.At(0)
	last := lines.At(lines.Len() - 1)
	start = first.Start
	end = last.Stop
	// Walk backward from the first content line to include the opening
	// fence line, and forward from the last content line to include the
	// closing fence line.
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	if bol := lineStart(src, start); bol >= 0 {
		start = bol
	}
	start = backOneLine(src, start)
	end = forwardOneLine(src, end)
	return start, end
}

func lineStart(src []byte, pos int) int {
	for i := pos - 1; i >= 0; i-- {
		if src[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func backOneLine(src []byte, pos int) int {
	if pos == 0 {
		return 0
	}
	i := pos - 1
	for i > 0 && src[i-1] != '\n' {
		i--
	}
	return i
}

func forwardOneLine(src []byte, pos int) int {
	i := pos
	for i < len(src) && src[i] != '\n' {
		i++
	}
	if i < len(src) {
		i++
	}
	return i
}

// headingPlainText concatenates the raw source bytes backing every
// ast.Text inline child of a heading node. Walking text segments
// directly (rather than relying on a node-wide Text() accessor) keeps
// this independent of any particular goldmark minor version's node API.
func headingPlainText(h *ast.Heading, src []byte) string {
	var buf bytes.Buffer
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		collectText(c, src, &buf)
	}
	return buf.String()
}

func collectText(n ast.Node, src []byte, buf *bytes.Buffer) {
	if t, ok := n.(*ast.Text); ok {
		buf.Write(t.Segment.Value(src))
		return
	}
	if t, ok := n.(*ast.String); ok {
		buf.Write(t.Value)
		return
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		collectText(c, src, buf)
	}
}

// splitSections splits src into top-level ("# Heading") sections by
// walking the goldmark AST for level-1 headings, then slicing the raw
// source between consecutive heading start offsets.
func splitSections(src []byte) ([]section, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	type headingPos struct {
		name  string
		start int
	}
	var headings []headingPos

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		title := strings.TrimSpace(headingPlainText(h, src))
		canon, ok := headingAliases[strings.ToLower(title)]
		if !ok {
			return ast.WalkContinue, nil // unrecognized heading: not a section boundary we track
		}
		lines := h.Lines()
		start := 0
		if lines.Len() > 0 {
			start = lineStart(src, lines.At(0).Start)
		}
		headings = append(headings, headingPos{name: canon, start: start})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, fmt.Errorf("agentparser: parse headings: %w", err)
	}

	sections := make([]section, 0, len(headings))
	for i, h := range headings {
		end := len(src)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		body := string(src[h.start:end])
		// Drop the heading line itself.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = ""
		}
		sections = append(sections, section{name: h.name, body: body})
	}
	return sections, nil
}
