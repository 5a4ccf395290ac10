// Package vfs resolves client supplied paths into the virtual folder model.
//
// Directories are always rendered with both delimiters ("/" for the root,
// "/a/b/" otherwise). Nothing in this package performs I/O.
package vfs

import (
	"strings"

	"cloudshare-backend/internal/apperr"
)

// Root is the parent path of top level entities
const Root = "/"

// Normalize splits a client relative path such as "Photos\\2024/a.jpg" into
// its parent directory ("/Photos/2024/") and base name ("a.jpg").
func Normalize(raw string) (parentPath, baseName string, err error) {
	segments, err := segmentsOf(raw)
	if err != nil {
		return "", "", err
	}
	if len(segments) == 0 {
		return "", "", apperr.New(apperr.KindInvalidPath, "empty file name")
	}

	baseName = segments[len(segments)-1]
	return joinDir(segments[:len(segments)-1]), baseName, nil
}

// NormalizeDir renders a directory string in canonical form. The empty
// string and "/" both mean the root.
func NormalizeDir(raw string) (string, error) {
	segments, err := segmentsOf(raw)
	if err != nil {
		return "", err
	}
	return joinDir(segments), nil
}

// ValidateName checks a single path segment used as an entity name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return apperr.New(apperr.KindInvalidPath, "name is required")
	case name == "." || name == "..":
		return apperr.Newf(apperr.KindInvalidPath, "%q is not a valid name", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return apperr.Newf(apperr.KindInvalidPath, "name %q must not contain separators", name)
	}
	return nil
}

// BlobKeyFor derives the object storage key for a file.
func BlobKeyFor(ownerID, parentPath, baseName string) string {
	key := collapseSlashes(ownerID + parentPath + baseName)
	return strings.TrimPrefix(key, "/")
}

// FolderPath is the directory a folder named name under parentPath occupies.
func FolderPath(parentPath, name string) string {
	return parentPath + name + "/"
}

// IsWithin reports whether dir is prefix or one of its descendants.
func IsWithin(dir, prefix string) bool {
	return strings.HasPrefix(dir, prefix)
}

// Rebase replaces the leading oldPrefix of dir with newPrefix.
func Rebase(dir, oldPrefix, newPrefix string) string {
	if !IsWithin(dir, oldPrefix) {
		return dir
	}
	return newPrefix + strings.TrimPrefix(dir, oldPrefix)
}

// Ancestors lists every folder (parentPath, name) pair along dir, root first.
func Ancestors(dir string) [][2]string {
	var out [][2]string
	acc := Root
	for _, name := range strings.Split(dir, "/") {
		if name == "" {
			continue
		}
		out = append(out, [2]string{acc, name})
		acc = FolderPath(acc, name)
	}
	return out
}

func segmentsOf(raw string) ([]string, error) {
	if strings.ContainsRune(raw, 0) {
		return nil, apperr.New(apperr.KindInvalidPath, "path contains a NUL byte")
	}

	cleaned := strings.ReplaceAll(raw, "\\", "/")
	var segments []string
	for _, seg := range strings.Split(cleaned, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, apperr.Newf(apperr.KindInvalidPath, "path %q contains a relative segment", raw)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func joinDir(segments []string) string {
	if len(segments) == 0 {
		return Root
	}
	return "/" + strings.Join(segments, "/") + "/"
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
