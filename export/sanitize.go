package export

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Elements kept as they are. Anything else is unwrapped, keeping its
// children, except the elements in dropped which go with their content.
var allowedElements = map[string]bool{
	"p": true, "br": true, "hr": true, "em": true, "strong": true, "del": true,
	"code": true, "pre": true, "blockquote": true, "ul": true, "ol": true, "li": true,
	"a": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"span": true, "div": true, "sub": true, "sup": true,

	"math": true, "semantics": true, "annotation": true, "mrow": true, "mi": true,
	"mn": true, "mo": true, "ms": true, "mtext": true, "mspace": true, "msup": true,
	"msub": true, "msubsup": true, "mfrac": true, "msqrt": true, "mroot": true,
	"munder": true, "mover": true, "munderover": true, "mtable": true, "mtr": true,
	"mtd": true, "mstyle": true, "mpadded": true, "mphantom": true, "menclose": true,
}

var dropped = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true, "embed": true,
	"form": true, "input": true, "button": true, "textarea": true, "select": true,
	"template": true, "noscript": true, "svg": true,
}

var allowedAttrs = map[string]bool{
	"href": true, "title": true, "display": true, "xmlns": true, "mathvariant": true,
	"stretchy": true, "fence": true, "separator": true, "lspace": true, "rspace": true,
	"columnalign": true, "encoding": true, "accent": true, "accentunder": true,
	"linethickness": true, "notation": true, "width": true, "height": true, "depth": true,
}

var allowedSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// sanitize returns the allowed form of n as detached nodes.
func sanitize(n *html.Node) []*html.Node {
	switch n.Type {
	case html.TextNode:
		return []*html.Node{{Type: html.TextNode, Data: n.Data}}
	case html.ElementNode:
	default:
		return nil
	}
	if dropped[n.Data] {
		return nil
	}

	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, sanitize(c)...)
	}
	if !allowedElements[n.Data] {
		return children
	}

	out := &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
	for _, a := range n.Attr {
		if a.Namespace != "" || !allowedAttrs[strings.ToLower(a.Key)] {
			continue
		}
		if strings.EqualFold(a.Key, "href") && !safeURL(a.Val) {
			continue
		}
		out.Attr = append(out.Attr, html.Attribute{Key: a.Key, Val: a.Val})
	}
	if out.Data == "a" {
		out.Attr = append(out.Attr, html.Attribute{Key: "rel", Val: "nofollow noopener"})
	}
	for _, c := range children {
		out.AppendChild(c)
	}
	return []*html.Node{out}
}

func safeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return !strings.HasPrefix(strings.TrimSpace(raw), "//")
	}
	return allowedSchemes[strings.ToLower(u.Scheme)]
}
