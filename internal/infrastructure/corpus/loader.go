package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/knowledge"
)

// textExtensions 目录遍历时收录的纯文本扩展名
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
}

// Loader 语料加载器: .pdf 走 PDF 提取，其他文件按 UTF-8 文本读取
type Loader struct {
	logger *zap.Logger
}

// NewLoader 创建加载器
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger.With(zap.String("component", "corpus_loader"))}
}

// Load 加载文件或目录，返回顺序与参数顺序一致（目录内按路径排序）
func (l *Loader) Load(paths []string) ([]knowledge.Document, error) {
	var docs []knowledge.Document
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			loaded, err := l.LoadFile(p)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loaded...)
			continue
		}

		files, err := walk(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			loaded, err := l.LoadFile(f)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loaded...)
		}
	}
	l.logger.Info("Corpus loaded", zap.Int("paths", len(paths)), zap.Int("documents", len(docs)))
	return docs, nil
}

// LoadFile 加载单个文件; PDF 每页一个文档
func (l *Loader) LoadFile(path string) ([]knowledge.Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return l.loadPDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", path)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(text) == "" {
		l.logger.Warn("Skipping empty document", zap.String("path", path))
		return nil, nil
	}
	return []knowledge.Document{{Source: path, Text: text}}, nil
}

func (l *Loader) loadPDF(path string) ([]knowledge.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var docs []knowledge.Document
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract %s page %d: %w", path, i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, knowledge.Document{
			Source: fmt.Sprintf("%s#page=%d", path, i),
			Text:   text,
		})
	}
	l.logger.Debug("PDF extracted", zap.String("path", path), zap.Int("pages", total), zap.Int("documents", len(docs)))
	return docs, nil
}

func walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".pdf" || textExtensions[ext] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
