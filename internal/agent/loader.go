package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weftai/weft/internal/wferrors"
)

const frontmatterDelimiter = "---"

// DirResolver loads agent definitions from a directory. Each agent is one
// markdown file named <agent>.md with optional YAML frontmatter; the body
// becomes the agent's prompt. Plain <agent>.yaml definitions are accepted too.
// Files are re-read when their modification time changes.
type DirResolver struct {
	dir string

	cache   map[string]*Agent
	cacheMu sync.RWMutex
}

// NewDirResolver creates a resolver over the given directory. The directory
// does not have to exist yet; a missing directory resolves nothing.
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{
		dir:   dir,
		cache: make(map[string]*Agent),
	}
}

// Dir returns the directory this resolver reads from.
func (d *DirResolver) Dir() string { return d.dir }

// Resolve implements Resolver.
func (d *DirResolver) Resolve(name string) (*Agent, error) {
	for _, ext := range []string{".md", ".yaml", ".yml"} {
		path := filepath.Join(d.dir, name+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if cached, ok := d.getFromCache(path, info.ModTime()); ok {
			return cached, nil
		}

		a, err := d.load(name, path)
		if err != nil {
			return nil, err
		}
		a.ModTime = info.ModTime()
		d.updateCache(path, a)
		return a, nil
	}

	return nil, wferrors.NewNotFound("agent", name, d.List(),
		fmt.Sprintf("add %s.md to %s", name, d.dir))
}

// List implements Resolver.
func (d *DirResolver) List() []string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		switch ext {
		case ".md", ".yaml", ".yml":
			names = append(names, strings.TrimSuffix(entry.Name(), ext))
		}
	}
	sort.Strings(names)
	return names
}

func (d *DirResolver) load(name, path string) (*Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent definition %s: %w", path, err)
	}

	a := &Agent{Name: name, Source: path}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, a); err != nil {
			return nil, fmt.Errorf("failed to parse agent definition %s: %w", path, err)
		}
	default:
		front, body, err := splitFrontmatter(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse agent definition %s: %w", path, err)
		}
		if front != "" {
			if err := yaml.Unmarshal([]byte(front), a); err != nil {
				return nil, fmt.Errorf("failed to parse frontmatter of %s: %w", path, err)
			}
		}
		a.Prompt = strings.TrimSpace(body)
	}

	// The file name is authoritative even when the frontmatter sets a name.
	a.Name = name
	a.Source = path
	return a, nil
}

// splitFrontmatter separates an optional leading YAML frontmatter block from
// the markdown body.
func splitFrontmatter(content string) (front, body string, err error) {
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") {
		return "", content, nil
	}

	rest := strings.TrimPrefix(content, frontmatterDelimiter+"\n")
	idx := strings.Index(rest, "\n"+frontmatterDelimiter)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter block")
	}

	front = rest[:idx]
	body = rest[idx+len("\n"+frontmatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}

func (d *DirResolver) getFromCache(path string, modTime time.Time) (*Agent, bool) {
	d.cacheMu.RLock()
	cached, ok := d.cache[path]
	d.cacheMu.RUnlock()

	if !ok {
		return nil, false
	}

	if modTime.After(cached.ModTime) {
		// File has been modified, invalidate cache
		d.cacheMu.Lock()
		delete(d.cache, path)
		d.cacheMu.Unlock()
		return nil, false
	}

	return cached, true
}

func (d *DirResolver) updateCache(path string, a *Agent) {
	d.cacheMu.Lock()
	d.cache[path] = a
	d.cacheMu.Unlock()
}
