package knowledge

import (
	"errors"
	"strings"
)

const (
	// DefaultChunkSize 窗口大小（按 rune 计）
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 相邻窗口重叠
	DefaultChunkOverlap = 200
)

// ErrInvalidChunking 窗口参数非法
var ErrInvalidChunking = errors.New("chunk overlap must be smaller than chunk size")

// Document 语料文档
type Document struct {
	Source string
	Text   string
}

// Chunk 文档切片; Start/End 为源文本中的 rune 偏移 [Start, End)
type Chunk struct {
	Source string
	Index  int
	Start  int
	End    int
	Text   string
}

// Chunker 固定窗口重叠切分
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建切分器
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidChunking
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker 1000/200 窗口
func DefaultChunker() *Chunker {
	return &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split 以 size-overlap 为步长滑动窗口切分文本。
// 空文本没有切片; 长度不超过窗口的文本恰好一个切片。
func (c *Chunker) Split(source, text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Source: source,
			Index:  len(chunks),
			Start:  start,
			End:    end,
			Text:   string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return chunks
}

// LoadAndChunk 按文档顺序切分全部文档，结果可重复生成
func (c *Chunker) LoadAndChunk(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, c.Split(d.Source, d.Text)...)
	}
	return out
}

// Reassemble 去掉每个后续切片开头的重叠部分后拼接，还原原文。
// Index 为 0 的切片视为新文档的开始。
func (c *Chunker) Reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		if ch.Index == 0 {
			b.WriteString(ch.Text)
			continue
		}
		r := []rune(ch.Text)
		if len(r) > c.overlap {
			b.WriteString(string(r[c.overlap:]))
		}
	}
	return b.String()
}
