package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// DirSource reads archived articles from .json files under Root. A file holds
// either one article object or an array of them.
type DirSource struct {
	Root             string
	MinContentLength int
	Walker           FileSystemWalker
	FileReader       FileReader
}

func NewDirSource(root string, minContentLength int) *DirSource {
	return &DirSource{
		Root:             root,
		MinContentLength: minContentLength,
		Walker:           &DefaultFileSystemWalker{},
		FileReader:       &DefaultFileReader{},
	}
}

func (d *DirSource) Sources() []string {
	return []string{"file://" + d.Root}
}

// FetchAll walks Root in lexical order. Unreadable or malformed files are
// logged and skipped.
func (d *DirSource) FetchAll(ctx context.Context) ([]models.Article, error) {
	var out []models.Article
	err := d.Walker.Walk(d.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// de is nil when driven by a test walker
			if de != nil && de.IsDir() {
				if path != d.Root && strings.HasPrefix(de.Name(), ".") {
					return godirwalk.SkipThis
				}
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := d.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			articles, err := decodeArticles(b)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping malformed article file")
				return nil
			}
			for _, a := range articles {
				a.Content = strings.TrimSpace(a.Content)
				if len([]rune(a.Content)) < d.MinContentLength || a.Content == "" {
					continue
				}
				out = append(out, a)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", d.Root, err)
	}
	log.Info().Str("root", d.Root).Int("articles", len(out)).Msg("read local articles")
	return out, nil
}

func decodeArticles(b []byte) ([]models.Article, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []models.Article
		err := json.Unmarshal(b, &list)
		return list, err
	}
	var a models.Article
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return []models.Article{a}, nil
}

// shouldSkip returns true if the file at path is not an article file.
func shouldSkip(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return strings.ToLower(filepath.Ext(base)) != ".json"
}
