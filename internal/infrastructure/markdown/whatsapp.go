package markdown

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

// Formatter 把模型输出的 Markdown 转成 WhatsApp 可读文本
// WhatsApp 只认 *粗体* _斜体_ ~删除线~ ```等宽```，其余语法去掉
type Formatter struct {
	md goldmark.Markdown
	// Plain 为 true 时连 WhatsApp 强调标记也去掉
	Plain bool
}

var _ service.TextFormatter = (*Formatter)(nil)

// NewFormatter 创建格式化器
func NewFormatter(plain bool) *Formatter {
	return &Formatter{
		md:    goldmark.New(goldmark.WithExtensions(extension.Strikethrough)),
		Plain: plain,
	}
}

// Format 转换文本; 空文本原样返回
func (f *Formatter) Format(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return markdown
	}
	src := []byte(markdown)
	doc := f.md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	r := &waRenderer{src: src, plain: f.Plain}
	r.renderChildren(&buf, doc)
	return strings.TrimRight(buf.String(), "\n")
}

// waRenderer 遍历 goldmark AST 输出 WhatsApp 文本
type waRenderer struct {
	src   []byte
	plain bool
}

func (r *waRenderer) mark(w *bytes.Buffer, m string) {
	if !r.plain {
		w.WriteString(m)
	}
}

func (r *waRenderer) renderNode(w *bytes.Buffer, node ast.Node) {
	switch n := node.(type) {
	case *ast.Paragraph:
		r.renderChildren(w, n)
		w.WriteString("\n\n")

	case *ast.Heading:
		r.mark(w, "*")
		r.renderChildren(w, n)
		r.mark(w, "*")
		w.WriteString("\n\n")

	case *ast.ThematicBreak:
		w.WriteString("———\n\n")

	case *ast.Blockquote:
		var inner bytes.Buffer
		r.renderChildren(&inner, n)
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			w.WriteString("> ")
			w.WriteString(line)
			w.WriteString("\n")
		}
		w.WriteString("\n")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		r.mark(w, "```\n")
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			w.Write(line.Value(r.src))
		}
		r.mark(w, "```")
		w.WriteString("\n\n")

	case *ast.List:
		r.renderList(w, n)

	case *ast.Text:
		w.Write(n.Segment.Value(r.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteString("\n")
		}

	case *ast.String:
		w.Write(n.Value)

	case *ast.CodeSpan:
		r.mark(w, "`")
		r.renderCodeSpanText(w, n)
		r.mark(w, "`")

	case *ast.Emphasis:
		m := "_"
		if n.Level == 2 {
			m = "*"
		}
		r.mark(w, m)
		r.renderChildren(w, n)
		r.mark(w, m)

	case *extast.Strikethrough:
		r.mark(w, "~")
		r.renderChildren(w, n)
		r.mark(w, "~")

	case *ast.Link:
		var label bytes.Buffer
		r.renderChildren(&label, n)
		dest := string(n.Destination)
		w.Write(label.Bytes())
		if dest != "" && dest != label.String() {
			w.WriteString(" (")
			w.WriteString(dest)
			w.WriteString(")")
		}

	case *ast.AutoLink:
		w.Write(n.URL(r.src))

	case *ast.Image:
		w.Write(n.Destination)

	case *ast.RawHTML, *ast.HTMLBlock:
		// 渠道不渲染 HTML

	default:
		r.renderChildren(w, node)
	}
}

func (r *waRenderer) renderChildren(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		r.renderNode(w, child)
	}
}

func (r *waRenderer) renderCodeSpanText(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			w.Write(t.Segment.Value(r.src))
		} else {
			r.renderCodeSpanText(w, child)
		}
	}
}

func (r *waRenderer) renderList(w *bytes.Buffer, list *ast.List) {
	idx := list.Start
	for child := list.FirstChild(); child != nil; child = child.NextSibling() {
		if list.IsOrdered() {
			w.WriteString(strconv.Itoa(idx))
			w.WriteString(". ")
			idx++
		} else {
			w.WriteString("• ")
		}
		var item bytes.Buffer
		r.renderChildren(&item, child)
		for i, line := range strings.Split(strings.TrimRight(item.String(), "\n"), "\n") {
			if i > 0 {
				w.WriteString("\n  ")
			}
			w.WriteString(line)
		}
		w.WriteString("\n")
	}
	w.WriteString("\n")
}
