// Package materializer turns mapped metadata and rendered bodies into
// deterministic artifact paths and bytes, and writes them atomically.
package materializer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/starford/pagesync/internal/checksum"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/parser"
	"github.com/starford/pagesync/internal/storage"
)

// Materializer writes artifacts into a content directory.
type Materializer struct {
	store storage.Provider
}

// New returns a Materializer over store.
func New(store storage.Provider) *Materializer {
	return &Materializer{store: store}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify folds s to a lower-case ASCII token: diacritics are stripped
// after NFKD decomposition and every run of other characters becomes a
// single dash.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Trim(nonSlug.ReplaceAllString(folded, "-"), "-")
}

// Path computes "<bucket>/[YYYY-MM-DD-]<slug>.md". The slug comes from the
// slug key, then the title, then the record id.
func Path(bucket string, datePrefix bool, id string, meta models.Metadata) (string, error) {
	slug := Slugify(meta.String("slug"))
	if slug == "" {
		slug = Slugify(meta.String("title"))
	}
	if slug == "" {
		slug = Slugify(id)
	}
	if slug == "" {
		return "", fmt.Errorf("materializer: no usable slug for %q", id)
	}

	name := slug
	if datePrefix {
		if day, ok := effectiveDay(meta.String("date")); ok {
			name = day + "-" + slug
		}
	}

	bucket = strings.Trim(path.Clean("/"+bucket), "/")
	if bucket == "" {
		return name + ".md", nil
	}
	return bucket + "/" + name + ".md", nil
}

func effectiveDay(date string) (string, bool) {
	if len(date) < len(time.DateOnly) {
		return "", false
	}
	day := date[:len(time.DateOnly)]
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return "", false
	}
	return day, true
}

// Compose renders the artifact bytes: YAML frontmatter with sorted keys,
// a blank line, and the body with a single trailing newline.
func Compose(meta models.Metadata, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(meta)); err != nil {
		return nil, fmt.Errorf("materializer: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("materializer: encode frontmatter: %w", err)
	}
	buf.WriteString("---\n\n")
	if body = strings.TrimRight(body, "\n"); body != "" {
		buf.WriteString(body)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Write replaces the file at p with content, all or nothing.
func (m *Materializer) Write(p string, content []byte) error {
	if err := m.store.Write(p, content); err != nil {
		return fmt.Errorf("materializer: write %s: %w", p, err)
	}
	return nil
}

// Remove deletes the file at p. A missing file is not an error.
func (m *Materializer) Remove(p string) error {
	if err := m.store.Delete(p); err != nil {
		return fmt.Errorf("materializer: remove %s: %w", p, err)
	}
	return nil
}

// Inspect reports what currently sits at p.
func (m *Materializer) Inspect(p string) (detector.Disk, error) {
	data, err := m.store.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return detector.Disk{}, nil
		}
		return detector.Disk{}, fmt.Errorf("materializer: inspect %s: %w", p, err)
	}
	return detector.Disk{
		Exists:   true,
		Hash:     checksum.Sum(data),
		Identity: parser.Identity(data),
	}, nil
}
