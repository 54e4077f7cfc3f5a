package page

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
}

type stylesheet struct {
	rules []cssRule
}

// textFetcher loads an external stylesheet; ok is false on any failure.
type textFetcher func(ctx context.Context, absURL string) ([]byte, bool)

type viewport struct {
	width, height int
}

type cssParseContext struct {
	ctx     context.Context
	baseURL string
	fetch   textFetcher
	vp      viewport
	log     zerolog.Logger
	depth   int
	visited map[string]struct{}
	budget  *int
}

func (c *cssParseContext) child(newBase string) *cssParseContext {
	next := *c
	next.baseURL = newBase
	next.depth = c.depth + 1
	return &next
}

const (
	maxStylesheetFetches = 16
	maxImportDepth       = 16
)

func buildStylesheet(ctx context.Context, doc *html.Node, base string, fetch textFetcher, vp viewport, log zerolog.Logger) *stylesheet {
	if doc == nil {
		return nil
	}
	ss := &stylesheet{}
	order := 0
	budget := maxStylesheetFetches
	pc := &cssParseContext{
		ctx:     ctx,
		baseURL: base,
		fetch:   fetch,
		vp:      vp,
		log:     log,
		visited: map[string]struct{}{},
		budget:  &budget,
	}

	var links []string
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					if rs, ord := parseCSSText(n.FirstChild.Data, order, pc); len(rs) > 0 {
						ss.rules = append(ss.rules, rs...)
						order = ord
					}
				}
			case "link":
				if isStylesheetLink(n) {
					links = append(links, strings.TrimSpace(getAttr(n, "href")))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(doc)

	for _, link := range links {
		if fetch == nil || *pc.budget <= 0 {
			break
		}
		abs := resolveAbsURL(base, link)
		if abs == "" {
			continue
		}
		if _, seen := pc.visited[abs]; seen {
			continue
		}
		pc.visited[abs] = struct{}{}
		*pc.budget--
		if b, ok := fetch(ctx, abs); ok {
			if rs, ord := parseCSSText(string(b), order, pc.child(abs)); len(rs) > 0 {
				ss.rules = append(ss.rules, rs...)
				order = ord
			}
		}
	}

	if len(ss.rules) == 0 {
		return nil
	}
	return ss
}

func isStylesheetLink(n *html.Node) bool {
	rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
	if !strings.Contains(rel, "stylesheet") || strings.Contains(rel, "alternate") {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
	if typ != "" && typ != "text/css" {
		return false
	}
	if m := getAttr(n, "media"); m != "" && !mediaRuleActive(m, viewport{}) {
		return false
	}
	return strings.TrimSpace(getAttr(n, "href")) != ""
}

func parseCSSText(txt string, startOrder int, pc *cssParseContext) ([]cssRule, int) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || pc.depth >= maxImportDepth {
		return nil, startOrder
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		pc.log.Debug().Err(err).Str("base", pc.baseURL).Msg("css parse failed")
		return nil, startOrder
	}

	rules := make([]cssRule, 0, len(sheet.Rules)*2)
	order := startOrder

	var walk func([]*cssast.Rule, *cssParseContext)
	walk = func(list []*cssast.Rule, cur *cssParseContext) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude, cur.vp) {
						walk(rule.Rules, cur)
					}
				case "@supports":
					walk(rule.Rules, cur)
				case "@import":
					rs, ord := importRules(rule.Prelude, order, cur)
					rules = append(rules, rs...)
					order = ord
				default:
					if rule.EmbedsRules() {
						walk(rule.Rules, cur)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ","))
				if err != nil {
					cur.log.Debug().Err(err).Strs("selectors", rule.Selectors).Msg("css selector skipped")
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					rules = append(rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}
	walk(sheet.Rules, pc)
	return rules, order
}

func importRules(prelude string, order int, cur *cssParseContext) ([]cssRule, int) {
	target, media := extractImportTarget(prelude)
	if target == "" || cur.fetch == nil {
		return nil, order
	}
	if media != "" && !mediaRuleActive(media, cur.vp) {
		return nil, order
	}
	abs := resolveAbsURL(cur.baseURL, target)
	if abs == "" {
		return nil, order
	}
	if _, seen := cur.visited[abs]; seen {
		return nil, order
	}
	cur.visited[abs] = struct{}{}
	if *cur.budget <= 0 {
		return nil, order
	}
	*cur.budget--
	b, ok := cur.fetch(cur.ctx, abs)
	if !ok {
		return nil, order
	}
	return parseCSSText(string(b), order, cur.child(abs))
}

func convertDeclarations(list []*cssast.Declaration) []cssDeclaration {
	out := make([]cssDeclaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		val := strings.TrimSpace(decl.Value)
		if prop == "" || val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: decl.Important})
	}
	return out
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	if strings.HasPrefix(strings.ToLower(s), "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		return trimCSSString(s[4:end]), strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	return trimCSSString(fields[0]), strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	vv := strings.TrimSpace(v)
	if len(vv) >= 2 {
		if (vv[0] == '"' && vv[len(vv)-1] == '"') || (vv[0] == '\'' && vv[len(vv)-1] == '\'') {
			return vv[1 : len(vv)-1]
		}
	}
	return vv
}

func mediaRuleActive(prelude string, vp viewport) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(query, mediaType))
			if mediaType == "only" && len(parts) > 1 {
				mediaType = parts[1]
				rest = strings.TrimSpace(strings.TrimPrefix(rest, mediaType))
			}
		}
		switch mediaType {
		case "", "all", "screen":
		default:
			continue
		}
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "and"))
		if evaluateMediaFeatures(rest, vp) {
			return true
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, vp viewport) bool {
	width, height := vp.width, vp.height
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}
	for _, clause := range strings.Split(expr, " and ") {
		c := strings.TrimSpace(clause)
		c = strings.TrimSuffix(strings.TrimPrefix(c, "("), ")")
		if c == "" {
			continue
		}
		parts := strings.SplitN(c, ":", 2)
		feature := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		switch feature {
		case "orientation":
			orientation := "portrait"
			if width > height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-width":
			if px, ok := cssLengthToPx(value, width); ok && width < px {
				return false
			}
		case "max-width":
			if px, ok := cssLengthToPx(value, width); ok && width > px {
				return false
			}
		case "min-height":
			if px, ok := cssLengthToPx(value, height); ok && height < px {
				return false
			}
		case "max-height":
			if px, ok := cssLengthToPx(value, height); ok && height > px {
				return false
			}
		}
	}
	return true
}

func cssLengthToPx(val string, base int) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
	if v == "" {
		return 0, false
	}
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case strings.HasSuffix(v, "px"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f + 0.5), true
		}
	case strings.HasSuffix(v, "%"):
		if f, ok := num(v[:len(v)-1]); ok && base > 0 {
			return int(float64(base) * f / 100.0), true
		}
	case strings.HasSuffix(v, "rem"):
		if f, ok := num(v[:len(v)-3]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "em"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "vw"), strings.HasSuffix(v, "vh"):
		if f, ok := num(v[:len(v)-2]); ok && base > 0 {
			return int(float64(base) * f / 100.0), true
		}
	default:
		if f, ok := num(v); ok {
			return int(f + 0.5), true
		}
	}
	return 0, false
}

func computeStyleFor(n *html.Node, ss *stylesheet) map[string]string {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	props := map[string]propState{}
	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}

	inlineSpec := cascadia.Specificity{1 << 12, 0, 0}
	if inline := strings.TrimSpace(getAttr(n, "style")); inline != "" {
		if decls, err := parser.ParseDeclarations(inline); err == nil {
			for i, d := range decls {
				if d == nil {
					continue
				}
				applyDeclaration(props, cssDeclaration{property: d.Property, value: d.Value, important: d.Important}, inlineSpec, (1<<30)+i)
			}
		} else {
			for i, part := range strings.Split(inline, ";") {
				kv := strings.SplitN(part, ":", 2)
				if len(kv) != 2 {
					continue
				}
				value := strings.TrimSpace(kv[1])
				important := false
				if strings.HasSuffix(strings.ToLower(value), "!important") {
					important = true
					value = strings.TrimSpace(value[:len(value)-len("!important")])
				}
				applyDeclaration(props, cssDeclaration{property: kv[0], value: value, important: important}, inlineSpec, (1<<30)+i)
			}
		}
	}

	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, st := range props {
		out[k] = st.val
	}
	return out
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	prop := strings.ToLower(strings.TrimSpace(decl.property))
	value := strings.TrimSpace(decl.value)
	if prop == "" || value == "" {
		return
	}
	// the shorthand only matters here for its image layer
	if prop == "background" {
		if BackgroundURL(value) == "" {
			return
		}
		prop = "background-image"
	}
	entry := propState{val: value, spec: spec, order: order, important: decl.important}
	prev, ok := store[prop]
	if !ok {
		store[prop] = entry
		return
	}
	switch {
	case prev.important && !decl.important:
	case decl.important && !prev.important:
		store[prop] = entry
	case prev.spec.Less(spec):
		store[prop] = entry
	case spec.Less(prev.spec):
	case order >= prev.order:
		store[prop] = entry
	}
}

// BackgroundURL returns the first url(...) target in a background-image
// value, or "" when there is none.
func BackgroundURL(value string) string {
	v := strings.TrimSpace(value)
	lower := strings.ToLower(v)
	searchIdx := 0
	for searchIdx < len(v) {
		idx := strings.Index(lower[searchIdx:], "url(")
		if idx == -1 {
			return ""
		}
		start := searchIdx + idx + 4
		depth := 1
		end := start
		for end < len(v) && depth > 0 {
			switch v[end] {
			case '(':
				depth++
			case ')':
				depth--
			}
			end++
		}
		if depth > 0 {
			return ""
		}
		raw := strings.Trim(strings.TrimSpace(v[start:end-1]), "\"'")
		if raw != "" && !strings.EqualFold(raw, "none") {
			return raw
		}
		searchIdx = end
	}
	return ""
}

func resolveAbsURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "data:") {
		return href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if hu.IsAbs() || base == "" {
		return hu.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}
