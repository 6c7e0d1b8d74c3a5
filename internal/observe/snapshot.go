package observe

import (
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// DefaultMaxSnapshotFiles caps how many files a workspace snapshot records.
const DefaultMaxSnapshotFiles = 10000

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".worktrees":   true,
	".taskloop":    true,
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Snapshot records modification time and size of every file under a root.
type Snapshot struct {
	root  string
	files map[string]fileStamp
	dirs  []string
}

// TakeSnapshot walks root and records file stamps, keyed by slash-separated
// paths relative to root. Unreadable entries are ignored.
func TakeSnapshot(root string, maxFiles int) *Snapshot {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxSnapshotFiles
	}
	s := &Snapshot{root: root, files: make(map[string]fileStamp)}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			s.dirs = append(s.dirs, path)
			return nil
		}
		if len(s.files) >= maxFiles {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		s.files[filepath.ToSlash(rel)] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return s
}

// FileChanges lists files that differ between two points in time.
type FileChanges struct {
	Modified []string
	Created  []string
	Deleted  []string
}

// Empty reports whether no changes were recorded.
func (c FileChanges) Empty() bool {
	return len(c.Modified) == 0 && len(c.Created) == 0 && len(c.Deleted) == 0
}

// Diff compares s (before) with after.
func (s *Snapshot) Diff(after *Snapshot) FileChanges {
	var c FileChanges
	for path, stamp := range after.files {
		prev, ok := s.files[path]
		switch {
		case !ok:
			c.Created = append(c.Created, path)
		case !prev.modTime.Equal(stamp.modTime) || prev.size != stamp.size:
			c.Modified = append(c.Modified, path)
		}
	}
	for path := range s.files {
		if _, ok := after.files[path]; !ok {
			c.Deleted = append(c.Deleted, path)
		}
	}
	sort.Strings(c.Modified)
	sort.Strings(c.Created)
	sort.Strings(c.Deleted)
	return c
}

// Merge combines two change sets. A path reported as created or deleted is
// not also listed as modified.
func (c FileChanges) Merge(other FileChanges) FileChanges {
	created := mergeUnique(c.Created, other.Created)
	deleted := mergeUnique(c.Deleted, other.Deleted)
	exclude := make(map[string]bool, len(created)+len(deleted))
	for _, p := range created {
		exclude[p] = true
	}
	for _, p := range deleted {
		exclude[p] = true
	}
	var modified []string
	for _, p := range mergeUnique(c.Modified, other.Modified) {
		if !exclude[p] {
			modified = append(modified, p)
		}
	}
	return FileChanges{Modified: modified, Created: created, Deleted: deleted}
}

// mergeUnique appends b to a, keeping first-seen order and dropping duplicates.
func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
