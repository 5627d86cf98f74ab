package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// treeSitterParser walks a real tree-sitter AST for one grammar and
// emits symbols plus "calls" relations for the call sites inside each
// function; no extends/implements relations are emitted. AST-level structure (func/type
// boundaries, doc comments) is what a tree-sitter grammar buys over
// the regex fallback, and is what this handler focuses on.
type treeSitterParser struct {
	lang      *sitter.Language
	extractor func(root *sitter.Node, src []byte, path string) Result
}

func newTreeSitterParser(lang string) Parser {
	switch lang {
	case "go":
		return &treeSitterParser{lang: golang.GetLanguage(), extractor: extractGo}
	case "python":
		return &treeSitterParser{lang: python.GetLanguage(), extractor: extractPython}
	default:
		return nil
	}
}

func (p *treeSitterParser) Extract(path string, content string) (Result, error) {
	src := []byte(content)
	parser := sitter.NewParser()
	parser.SetLanguage(p.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return Result{}, err
	}
	defer tree.Close()

	return p.extractor(tree.RootNode(), src, path), nil
}

func nodeText(n *sitter.Node, src []byte) string {
	return n.Content(src)
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func endLineOf(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}

// precedingDocComment collects the contiguous run of line comments
// immediately above node ("doc block directly above the declaration").
// The regex parsers extract no doc text at all.
func precedingDocComment(n *sitter.Node, src []byte, commentType string) string {
	prev := n.PrevSibling()
	var lines []string
	for prev != nil && prev.Type() == commentType {
		lines = append([]string{cleanCommentLine(nodeText(prev, src))}, lines...)
		prev = prev.PrevSibling()
	}
	return strings.Join(lines, "\n")
}

func cleanCommentLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "///")
	s = strings.TrimPrefix(s, "//")
	s = strings.TrimPrefix(s, "#")
	return strings.TrimSpace(s)
}

func extractGo(root *sitter.Node, src []byte, path string) Result {
	var out Result
	var walk func(n *sitter.Node, parent string)
	walk = func(n *sitter.Node, parent string) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "type_declaration":
				for j := 0; j < int(child.ChildCount()); j++ {
					spec := child.Child(j)
					if spec == nil || spec.Type() != "type_spec" {
						continue
					}
					nameNode := spec.ChildByFieldName("name")
					if nameNode == nil {
						continue
					}
					name := nodeText(nameNode, src)
					kind := "type"
					if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
						switch typeNode.Type() {
						case "struct_type":
							kind = "struct"
						case "interface_type":
							kind = "interface"
						}
					}
					out.Symbols = append(out.Symbols, Symbol{
						Name:     name,
						Kind:     kind,
						Line:     lineOf(child),
						EndLine:  endLineOf(child),
						Content:  nodeText(child, src),
						Parent:   parent,
						Qualname: Qualname(parent, name),
						Doc:      precedingDocComment(child, src, "comment"),
					})
				}
			case "function_declaration", "method_declaration":
				nameNode := child.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nodeText(nameNode, src)
				qualParent := parent
				if recv := child.ChildByFieldName("receiver"); recv != nil {
					qualParent = receiverTypeName(recv, src)
				}
				out.Symbols = append(out.Symbols, Symbol{
					Name:     name,
					Kind:     "function",
					Line:     lineOf(child),
					EndLine:  endLineOf(child),
					Content:  signatureLine(child, src),
					Parent:   qualParent,
					Qualname: Qualname(qualParent, name),
					Doc:      precedingDocComment(child, src, "comment"),
				})
				out.Relations = append(out.Relations, callsWithin(child, src, Qualname(qualParent, name))...)
			}
			walk(child, parent)
		}
	}
	walk(root, "")
	return out
}

func receiverTypeName(recv *sitter.Node, src []byte) string {
	text := nodeText(recv, src)
	text = strings.Trim(text, "()")
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	return strings.TrimPrefix(last, "*")
}

func signatureLine(n *sitter.Node, src []byte) string {
	text := nodeText(n, src)
	if i := strings.Index(text, "{"); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

func callsWithin(n *sitter.Node, src []byte, fromQual string) []Relation {
	var out []Relation
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "call_expression" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				name := nodeText(fn, src)
				if i := strings.LastIndex(name, "."); i >= 0 {
					name = name[i+1:]
				}
				out = append(out, Relation{
					FromQualname: fromQual,
					ToName:       name,
					Kind:         "calls",
					Line:         lineOf(n),
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

func extractPython(root *sitter.Node, src []byte, path string) Result {
	var out Result
	var walk func(n *sitter.Node, parent string)
	walk = func(n *sitter.Node, parent string) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "class_definition":
				nameNode := child.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nodeText(nameNode, src)
				qual := Qualname(parent, name)
				out.Symbols = append(out.Symbols, Symbol{
					Name:     name,
					Kind:     "class",
					Line:     lineOf(child),
					EndLine:  endLineOf(child),
					Content:  signatureLine(child, src),
					Parent:   parent,
					Qualname: qual,
					Doc:      pythonDocstring(child, src),
				})
				if body := child.ChildByFieldName("body"); body != nil {
					walk(body, qual)
				}
				continue
			case "function_definition":
				nameNode := child.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nodeText(nameNode, src)
				qual := Qualname(parent, name)
				kind := "function"
				if parent != "" {
					kind = "method"
				}
				out.Symbols = append(out.Symbols, Symbol{
					Name:     name,
					Kind:     kind,
					Line:     lineOf(child),
					EndLine:  endLineOf(child),
					Content:  signatureLine(child, src),
					Parent:   parent,
					Qualname: qual,
					Doc:      pythonDocstring(child, src),
				})
				out.Relations = append(out.Relations, pythonCallsWithin(child, src, qual)...)
				continue
			}
			walk(child, parent)
		}
	}
	walk(root, "")
	return out
}

// pythonDocstring reads the first statement of a def/class body when
// it is a bare string expression, mirroring Python's own docstring
// convention rather than a leading-comment convention.
func pythonDocstring(n *sitter.Node, src []byte) string {
	body := n.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first == nil || first.Type() != "expression_statement" {
		return ""
	}
	if first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str == nil || str.Type() != "string" {
		return ""
	}
	text := nodeText(str, src)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

func pythonCallsWithin(n *sitter.Node, src []byte, fromQual string) []Relation {
	var out []Relation
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "call" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				name := nodeText(fn, src)
				if i := strings.LastIndex(name, "."); i >= 0 {
					name = name[i+1:]
				}
				out = append(out, Relation{
					FromQualname: fromQual,
					ToName:       name,
					Kind:         "calls",
					Line:         lineOf(n),
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}
