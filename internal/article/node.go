package article

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node は記事本文のDOMノード。Tagが空の場合はテキストノードとして扱う。
type Node struct {
	Text     string
	Tag      string
	Attrs    map[string]string
	Children []Node
}

type elementJSON struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// MarshalJSON はテキストノードを文字列、要素ノードをオブジェクトとしてエンコードする。
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Tag == "" {
		return json.Marshal(n.Text)
	}
	return json.Marshal(elementJSON{Tag: n.Tag, Attrs: n.Attrs, Children: n.Children})
}

// UnmarshalJSON はMarshalJSONの逆変換。
func (n *Node) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*n = Node{}
		return json.Unmarshal(data, &n.Text)
	}
	var e elementJSON
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	*n = Node{Tag: e.Tag, Attrs: e.Attrs, Children: e.Children}
	return nil
}

// keptAttrs は記事サービスが受け付ける属性。
var keptAttrs = map[string]bool{"href": true, "src": true}

// ParseHTML はHTML断片をノード列に変換する。
func ParseHTML(s string) ([]Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	roots, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, fmt.Errorf("記事本文の解析に失敗しました: %w", err)
	}
	nodes := make([]Node, 0, len(roots))
	for _, r := range roots {
		if n, ok := convert(r); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func convert(n *html.Node) (Node, bool) {
	switch n.Type {
	case html.TextNode:
		if n.Data == "" {
			return Node{}, false
		}
		return Node{Text: n.Data}, true
	case html.ElementNode:
		out := Node{Tag: n.Data}
		for _, a := range n.Attr {
			if keptAttrs[a.Key] {
				if out.Attrs == nil {
					out.Attrs = map[string]string{}
				}
				out.Attrs[a.Key] = a.Val
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child, ok := convert(c); ok {
				out.Children = append(out.Children, child)
			}
		}
		return out, true
	default:
		return Node{}, false
	}
}
