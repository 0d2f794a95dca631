package fs

import (
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

// Resolution is the outcome of collapsing a directory listing to one
// file per logical key.
type Resolution struct {
	Documents []domain.Document // sorted by key
	Conflicts []domain.Conflict // sorted by key
	Ignored   []string          // relative paths with no supported format
}

// Keys returns every key present on disk, including conflicted ones.
func (r Resolution) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(r.Documents)+len(r.Conflicts))
	for _, d := range r.Documents {
		keys[d.Key] = struct{}{}
	}
	for _, c := range r.Conflicts {
		keys[c.Key] = struct{}{}
	}
	return keys
}

// LogicalKey derives the format-independent identity of a file: its base
// name without extension, NFC-normalised and trimmed.
func LogicalKey(relPath string) string {
	base := path.Base(relPath)
	stem := strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimSpace(norm.NFC.String(stem))
}

// Resolve groups files by logical key and picks the highest-priority
// format for each. Several files of one format under a key, whichever
// format it is, make the whole key a conflict instead of being resolved.
// Resolve is a pure function of its input.
func Resolve(files []port.FileInfo) Resolution {
	type group struct {
		byFormat map[domain.Format][]port.FileInfo
	}

	groups := make(map[string]*group)
	var res Resolution

	for _, f := range files {
		format, ok := domain.FormatFromExt(path.Ext(f.RelPath))
		if !ok {
			res.Ignored = append(res.Ignored, f.RelPath)
			continue
		}
		key := LogicalKey(f.RelPath)
		if key == "" {
			res.Ignored = append(res.Ignored, f.RelPath)
			continue
		}
		g := groups[key]
		if g == nil {
			g = &group{byFormat: make(map[domain.Format][]port.FileInfo)}
			groups[key] = g
		}
		g.byFormat[format] = append(g.byFormat[format], f)
	}

	for key, g := range groups {
		var best domain.Format
		for format := range g.byFormat {
			if format.Priority() > best.Priority() {
				best = format
			}
		}

		// a duplicate in any format is ambiguous, even one that would lose
		var dup domain.Format
		for format, files := range g.byFormat {
			if len(files) > 1 && format.Priority() > dup.Priority() {
				dup = format
			}
		}
		if dup != "" {
			dups := g.byFormat[dup]
			paths := make([]string, len(dups))
			for i, c := range dups {
				paths[i] = c.RelPath
			}
			sort.Strings(paths)
			res.Conflicts = append(res.Conflicts, domain.Conflict{Key: key, Format: dup, Paths: paths})
			continue
		}

		f := g.byFormat[best][0]
		res.Documents = append(res.Documents, domain.Document{
			Key:     key,
			Path:    f.Path,
			RelPath: f.RelPath,
			Format:  best,
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}

	sort.Slice(res.Documents, func(i, j int) bool { return res.Documents[i].Key < res.Documents[j].Key })
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Key < res.Conflicts[j].Key })
	sort.Strings(res.Ignored)
	return res
}
