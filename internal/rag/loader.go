package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/mindpal/backend/internal/storage"
)

// SupportedExtensions lists the file types the loader understands.
var SupportedExtensions = map[string]bool{".pdf": true, ".txt": true, ".md": true}

// LoadPath loads a single file or every supported file under a directory,
// in lexical path order. PDFs yield one Document per non-empty page.
func LoadPath(p string) ([]Document, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return loadFile(p)
	}

	var files []string
	err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && SupportedExtensions[strings.ToLower(filepath.Ext(fp))] {
			files = append(files, fp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var docs []Document
	for _, f := range files {
		fileDocs, err := loadFile(f)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func loadFile(p string) ([]Document, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return LoadBytes(p, b)
}

// LoadBytes parses raw content named name; the extension picks the parser.
func LoadBytes(name string, b []byte) ([]Document, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return loadPDF(name, b)
	case ".txt", ".md":
		if strings.TrimSpace(string(b)) == "" {
			return nil, nil
		}
		return []Document{{
			Content:  string(b),
			Metadata: map[string]any{"source": name},
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported document type %q", path.Ext(name))
	}
}

func loadPDF(name string, b []byte) ([]Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	var docs []Document
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, Document{
			Content: text,
			Metadata: map[string]any{
				"source":      name,
				"page":        int64(i - 1),
				"total_pages": int64(total),
			},
		})
	}
	return docs, nil
}

// LoadObjects loads every supported object under prefix from a bucket.
func LoadObjects(ctx context.Context, store storage.ObjectStore, prefix string) ([]Document, error) {
	objs, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list corpus objects: %w", err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })

	var docs []Document
	for _, o := range objs {
		if !SupportedExtensions[strings.ToLower(path.Ext(o.Name))] {
			continue
		}
		rc, err := store.Open(ctx, o.Name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.Name, err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", o.Name, err)
		}
		objDocs, err := LoadBytes(o.Name, b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", o.Name, err)
		}
		docs = append(docs, objDocs...)
	}
	return docs, nil
}
