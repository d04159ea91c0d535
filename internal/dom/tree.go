package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// isRawText reports whether an element's children are raw text that is never
// user-visible content (or cannot legally hold markup).
func isRawText(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Textarea,
		atom.Title, atom.Iframe, atom.Noembed, atom.Noframes, atom.Xmp, atom.Plaintext:
		return true
	}
	return false
}

// TextLeaves returns every text-bearing leaf under root in document order.
func TextLeaves(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.TextNode {
		return []*html.Node{root}
	}
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				out = append(out, c)
			case html.ElementNode:
				if !isRawText(c) {
					walk(c)
				}
			}
		}
	}
	walk(root)
	return out
}

// TextContent concatenates the data of all text leaves under n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	for _, leaf := range TextLeaves(n) {
		b.WriteString(leaf.Data)
	}
	return b.String()
}

// SplitText splits a text node at offset. n keeps data[:offset]; the returned
// node holds data[offset:] and is inserted right after n.
func SplitText(n *html.Node, offset int) *html.Node {
	offset = clamp(offset, 0, len(n.Data))
	tail := &html.Node{Type: html.TextNode, Data: n.Data[offset:]}
	n.Data = n.Data[:offset]
	if n.Parent != nil {
		n.Parent.InsertBefore(tail, n.NextSibling)
	}
	return tail
}

// Normalize merges adjacent text siblings and drops empty text nodes in the
// subtree rooted at n.
func Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.TextNode && c.Data == "":
			n.RemoveChild(c)
		case c.Type == html.TextNode && c.PrevSibling != nil && c.PrevSibling.Type == html.TextNode:
			c.PrevSibling.Data += c.Data
			n.RemoveChild(c)
		case c.Type == html.ElementNode:
			Normalize(c)
		}
		c = next
	}
}

// Body returns the <body> element under root, or root itself when there is none.
func Body(root *html.Node) *html.Node {
	if b := findElement(root, atom.Body); b != nil {
		return b
	}
	return root
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Contains reports whether n is root or a descendant of root.
func Contains(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
