// internal/browser/htmlpage/dom.go
package htmlpage

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
)

// Elements whose text never counts as rendered content.
var nonRenderedTags = map[string]bool{
	"head": true, "title": true, "meta": true, "link": true, "script": true,
	"style": true, "noscript": true, "template": true,
}

// queryAll returns the nodes matching expr in document order. Callers hold p.mu.
func (p *Page) queryAll(expr string) ([]*html.Node, error) {
	q, err := selector.Parse(expr)
	if err != nil {
		return nil, err
	}

	var nodes []*html.Node
	switch q.Engine {
	case selector.EngineXPath:
		nodes, err = htmlquery.QueryAll(p.root, q.XPath)
		if err != nil {
			return nil, fmt.Errorf("invalid XPath selector '%s': %w", q.XPath, err)
		}
	default:
		m, err := cascadia.Compile(q.CSS)
		if err != nil {
			return nil, fmt.Errorf("invalid CSS selector '%s': %w", q.CSS, err)
		}
		nodes = goquery.NewDocumentFromNode(p.root).FindMatcher(m).Nodes
	}

	if !q.HasTextFilter() {
		return nodes, nil
	}

	filtered := nodes[:0:0]
	for _, n := range nodes {
		if n.Type != html.ElementNode || nonRenderedTags[n.Data] {
			continue
		}
		if q.MatchText(elementText(n)) {
			filtered = append(filtered, n)
		}
	}
	if q.Innermost {
		filtered = innermost(filtered)
	}
	return filtered, nil
}

// nth resolves the index-th match of expr. Callers hold p.mu.
func (p *Page) nth(expr string, index int) (*html.Node, error) {
	nodes, err := p.queryAll(expr)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(nodes) {
		return nil, fmt.Errorf("element not found matching selector '%s' at index %d (%d matches)", expr, index, len(nodes))
	}
	return nodes[index], nil
}

// innermost drops every node that is an ancestor of another node in the set.
func innermost(nodes []*html.Node) []*html.Node {
	ancestors := make(map[*html.Node]bool)
	for _, n := range nodes {
		for a := n.Parent; a != nil; a = a.Parent {
			ancestors[a] = true
		}
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if !ancestors[n] {
			out = append(out, n)
		}
	}
	return out
}

// elementText is the text a user would read on the element. Buttons rendered
// from input elements expose their value.
func elementText(n *html.Node) string {
	if n.Data == "input" {
		switch strings.ToLower(getAttr(n, "type")) {
		case "button", "submit", "reset":
			return getAttr(n, "value")
		}
		return ""
	}
	var b strings.Builder
	collectText(n, &b)
	return selector.NormalizeText(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if nonRenderedTags[n.Data] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// isVisible approximates rendering from markup alone: the element and its
// ancestors must not be hidden by attribute or inline style.
func isVisible(n *html.Node) bool {
	if n.Type != html.ElementNode || nonRenderedTags[n.Data] {
		return false
	}
	if n.Data == "input" && strings.EqualFold(getAttr(n, "type"), "hidden") {
		return false
	}
	for a := n; a != nil; a = a.Parent {
		if a.Type != html.ElementNode {
			continue
		}
		if hasAttr(a, "hidden") || nonRenderedTags[a.Data] {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(getAttr(a, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func isDisabled(n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if a.Type == html.ElementNode && hasAttr(a, "disabled") {
			switch a.Data {
			case "button", "input", "select", "textarea", "fieldset", "option", "optgroup":
				return true
			}
		}
	}
	return strings.EqualFold(getAttr(n, "aria-disabled"), "true")
}

func isEditable(n *html.Node) bool {
	switch n.Data {
	case "textarea":
		return !hasAttr(n, "readonly")
	case "input":
		switch strings.ToLower(getAttr(n, "type")) {
		case "button", "submit", "reset", "checkbox", "radio", "file", "image", "hidden":
			return false
		}
		return !hasAttr(n, "readonly")
	case "select":
		return true
	}
	return strings.EqualFold(getAttr(n, "contenteditable"), "true")
}

// controlValue reads the current value of a form control.
func controlValue(n *html.Node) string {
	switch n.Data {
	case "textarea":
		return htmlquery.InnerText(n)
	case "select":
		options, _ := htmlquery.QueryAll(n, ".//option")
		var first *html.Node
		for _, opt := range options {
			if first == nil {
				first = opt
			}
			if hasAttr(opt, "selected") {
				return optionValue(opt)
			}
		}
		if first != nil {
			return optionValue(first)
		}
		return ""
	case "input":
		return getAttr(n, "value")
	}
	return elementText(n)
}

// setControlValue writes value into a form control or contenteditable element.
func setControlValue(n *html.Node, value string) error {
	switch n.Data {
	case "input":
		setAttr(n, "value", value)
	case "textarea":
		replaceChildrenWithText(n, value)
	case "select":
		options, err := htmlquery.QueryAll(n, ".//option")
		if err != nil {
			return fmt.Errorf("failed to query options for select element: %w", err)
		}
		found := false
		for _, opt := range options {
			if !found && (optionValue(opt) == value || strings.TrimSpace(htmlquery.InnerText(opt)) == value) {
				setAttr(opt, "selected", "selected")
				found = true
				continue
			}
			removeAttr(opt, "selected")
		}
		if !found {
			return fmt.Errorf("option with value '%s' not found in select element", value)
		}
	default:
		replaceChildrenWithText(n, value)
	}
	return nil
}

func optionValue(opt *html.Node) string {
	if v, ok := lookupAttr(opt, "value"); ok {
		return v
	}
	return strings.TrimSpace(htmlquery.InnerText(opt))
}

func replaceChildrenWithText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// toggleCheckable mirrors the default action of clicking a checkbox or radio.
func toggleCheckable(n *html.Node) {
	if n.Data != "input" {
		return
	}
	switch strings.ToLower(getAttr(n, "type")) {
	case "checkbox":
		if hasAttr(n, "checked") {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "checked")
		}
	case "radio":
		name := getAttr(n, "name")
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		if name != "" {
			radios, _ := htmlquery.QueryAll(root, fmt.Sprintf(".//input[@type='radio' and @name='%s']", name))
			for _, r := range radios {
				removeAttr(r, "checked")
			}
		}
		setAttr(n, "checked", "checked")
	}
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := lookupAttr(n, key)
	return ok
}

func removeAttr(n *html.Node, key string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func setAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
