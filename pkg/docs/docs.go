// CLAUDE:SUMMARY Per-client document folders: safe file names, category extension rules, parallel uploads, glob listing and removal.
package docs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// MaxNameRunes caps the length of a sanitized name.
const MaxNameRunes = 150

// WriteConcurrency bounds parallel file writes in Save.
const WriteConcurrency = 4

var (
	// ErrUnknownCategory is returned for a category ID outside Categories.
	ErrUnknownCategory = errors.New("unknown document category")
	// ErrExtension is returned when a file type is not allowed in its category.
	ErrExtension = errors.New("file type not allowed")
	// ErrNoFolder is returned when neither a name nor an id yields a folder.
	ErrNoFolder = errors.New("client has no document folder")
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._\-áéíóúÁÉÍÓÚñÑ ]+`)
	spaces      = regexp.MustCompile(`\s+`)
)

// SafeName replaces characters outside letters, digits, accented vowels,
// ñ, dot, underscore, dash and space with "_", collapses whitespace and
// truncates to MaxNameRunes. The result never contains a path separator
// and is never "." or "..".
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeChars.ReplaceAllString(s, "_")
	s = spaces.ReplaceAllString(s, " ")
	if r := []rune(s); len(r) > MaxNameRunes {
		s = string(r[:MaxNameRunes])
	}
	if s == "." || s == ".." {
		return "_"
	}
	return s
}

// Category is a kind of client document with its stored-name prefix and
// accepted extensions.
type Category struct {
	ID         string   `json:"id"`
	Prefix     string   `json:"prefix"`
	Extensions []string `json:"extensions"`
}

// Categories lists the document kinds in display order.
var Categories = []Category{
	{ID: "estado_cuenta", Prefix: "estado_", Extensions: []string{"pdf", "jpg", "jpeg", "png"}},
	{ID: "buro_credito", Prefix: "buro_", Extensions: []string{"pdf", "jpg", "jpeg", "png"}},
	{ID: "solicitud", Prefix: "solic_", Extensions: []string{"pdf", "docx", "jpg", "jpeg", "png"}},
	{ID: "contrato", Prefix: "contrato_", Extensions: []string{"pdf", "docx", "jpg", "jpeg", "png"}},
	{ID: "otros", Prefix: "otros_", Extensions: []string{"pdf", "docx", "xlsx", "jpg", "jpeg", "png"}},
}

// CategoryByID looks up a category.
func CategoryByID(id string) (Category, error) {
	for _, c := range Categories {
		if c.ID == id {
			return c, nil
		}
	}
	return Category{}, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
}

// Allows reports whether filename has an extension accepted by c.
func (c Category) Allows(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return ext != "" && slices.Contains(c.Extensions, ext)
}

// categoryOf returns the ID of the category whose prefix starts name, or "".
func categoryOf(name string) string {
	for _, c := range Categories {
		if strings.HasPrefix(name, c.Prefix) {
			return c.ID
		}
	}
	return ""
}

// Upload is one file to store.
type Upload struct {
	Name string
	Data []byte
}

// File describes a stored document.
type File struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Size     int64  `json:"size"`
}

// Client identifies whose folder to use: Name is preferred, ID is the fallback.
type Client struct {
	ID   string
	Name string
}

// Store keeps one folder per client under a root directory.
type Store struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

// NewStore creates root if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create docs dir %s: %w", root, err)
	}
	return &Store{root: root, logger: logger.With("component", "docs")}, nil
}

// Root returns the documents directory.
func (s *Store) Root() string { return s.root }

// Folder returns the client's folder, creating it. With a usable name the
// folder is named after the client; an existing folder named after the id
// is moved there first when the name folder does not exist yet.
func (s *Store) Folder(c Client) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, byID := SafeName(c.Name), SafeName(c.ID)
	var dir string
	switch {
	case byName != "":
		dir = filepath.Join(s.root, byName)
		if byID != "" && byID != byName {
			s.migrate(filepath.Join(s.root, byID), dir)
		}
	case byID != "":
		dir = filepath.Join(s.root, byID)
	default:
		return "", ErrNoFolder
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", dir, err)
	}
	return dir, nil
}

// migrate moves from to to when from is a directory and to is absent.
// Failures are logged; the caller keeps using to.
func (s *Store) migrate(from, to string) {
	fi, err := os.Stat(from)
	if err != nil || !fi.IsDir() {
		return
	}
	if _, err := os.Stat(to); err == nil {
		return
	}
	if err := os.Rename(from, to); err != nil {
		s.logger.Warn("migrate id folder", "from", from, "to", to, "error", err)
		return
	}
	s.logger.Info("id folder migrated", "from", from, "to", to)
}

// existing returns the folder to read from without creating anything: the
// name folder when present, else the id folder, else "".
func (s *Store) existing(c Client) string {
	for _, n := range []string{SafeName(c.Name), SafeName(c.ID)} {
		if n == "" {
			continue
		}
		dir := filepath.Join(s.root, n)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return ""
}

// Save stores uploads in the client's folder under category, prefixing
// each sanitized name with the category prefix. Files are written in
// parallel; the stored names are returned sorted.
func (s *Store) Save(ctx context.Context, c Client, category string, uploads []Upload) ([]string, error) {
	cat, err := CategoryByID(category)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if !cat.Allows(u.Name) {
			return nil, fmt.Errorf("%w: %q in %s", ErrExtension, u.Name, cat.ID)
		}
	}
	if len(uploads) == 0 {
		return nil, nil
	}
	dir, err := s.Folder(c)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(uploads))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(WriteConcurrency)
	for i, u := range uploads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := SafeName(cat.Prefix + filepath.Base(u.Name))
			if err := os.WriteFile(filepath.Join(dir, name), u.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			names[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	names = slices.Compact(names)
	s.logger.Info("documents saved", "client", c.ID, "category", cat.ID, "files", len(names))
	return names, nil
}

// List returns the client's files whose names match pattern (doublestar
// syntax, "" means all), sorted by name. A client without a folder has no
// files.
func (s *Store) List(c Client, pattern string) ([]File, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	dir := s.existing(c)
	if dir == "" {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(matches)
	out := make([]File, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(filepath.Join(dir, m))
		if err != nil {
			continue
		}
		out = append(out, File{Name: m, Category: categoryOf(filepath.Base(m)), Size: fi.Size()})
	}
	return out, nil
}

// Path returns the on-disk path of a stored file, or os.ErrNotExist.
func (s *Store) Path(c Client, name string) (string, error) {
	dir := s.existing(c)
	if dir == "" || name != SafeName(name) || name == "" {
		return "", os.ErrNotExist
	}
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// Remove deletes one stored file.
func (s *Store) Remove(c Client, name string) error {
	p, err := s.Path(c, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// RemoveAll deletes the client's id folder and, unless keepName is set,
// its name folder. Clients sharing a name share that folder, so the caller
// keeps it while another client still uses it. It reports whether anything
// was removed.
func (s *Store) RemoveAll(c Client, keepName bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folders := []string{SafeName(c.ID)}
	if !keepName {
		folders = append(folders, SafeName(c.Name))
	}
	removed := false
	for _, n := range folders {
		if n == "" {
			continue
		}
		dir := filepath.Join(s.root, n)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove folder %s: %w", dir, err)
		}
		removed = true
	}
	return removed, nil
}
