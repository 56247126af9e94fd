package models

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Model describes one installed model file, in the shape the model listing
// endpoint returns.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Path    string `json:"path"`
	Created int64  `json:"created"`
}

// Store locates and manages GGML model files under a single directory.
type Store struct {
	dir string
}

// NewStore creates a Store over the given directory. An empty dir falls
// back to "models" relative to the working directory.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "models"
	}
	return &Store{dir: dir}
}

// Dir returns the directory the store manages.
func (s *Store) Dir() string {
	return s.dir
}

// Resolve maps a model name or an explicit file path to an on-disk model
// file. An explicit path to an existing regular file wins over registry
// lookup, so callers can point at models outside the store directory.
func (s *Store) Resolve(nameOrPath string) (string, error) {
	if info, err := os.Stat(nameOrPath); err == nil && info.Mode().IsRegular() {
		return nameOrPath, nil
	}

	path := filepath.Join(s.dir, FileName(nameOrPath))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("model file not found: %s", path)
	}
	return path, nil
}

// List returns the installed models, sorted by ID. A missing store
// directory yields an empty list, not an error.
func (s *Store) List() ([]Model, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Model{}, nil
		}
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	list := make([]Model, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "ggml-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		list = append(list, Model{
			ID:      Normalize(name),
			Object:  "model",
			Path:    filepath.Join(s.dir, name),
			Created: info.ModTime().Unix(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Get returns the installed model with the given id or path.
func (s *Store) Get(id string) (Model, error) {
	path, err := s.Resolve(id)
	if err != nil {
		return Model{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Model{}, err
	}
	return Model{
		ID:      Normalize(filepath.Base(path)),
		Object:  "model",
		Path:    path,
		Created: info.ModTime().Unix(),
	}, nil
}

// Download fetches a known model from Hugging Face into the store
// directory. Already-installed models are returned as-is. The file is
// written to a temp name and renamed into place, so an interrupted
// download never leaves a half-written model behind.
func (s *Store) Download(ctx context.Context, name string) (string, error) {
	spec, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown model: %q", name)
	}

	target := filepath.Join(s.dir, spec.File)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	url := downloadBaseURL + spec.File
	log.Printf("[INFO] Store: downloading %s (~%d MB) from %s", spec.ID, spec.SizeMB, url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.dir, spec.File+".part-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download interrupted: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move model into place: %w", err)
	}

	log.Printf("[INFO] Store: installed %s", target)
	return target, nil
}
