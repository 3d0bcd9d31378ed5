package layouts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/capture/maze"
)

// DefaultName is the layout used when none is configured.
const DefaultName = "default"

const defaultText = `
%%%%%%%%%%%%%%%%%%%%
%1.....%.....%...o.%
%3%%.%.%.%%..%.%%..%
%..o.%....%.......%%
%%.......%....%.o..%
%..%%.%..%%.%.%.%%4%
%.o...%.....%.....2%
%%%%%%%%%%%%%%%%%%%%
`

// ErrNotFound is returned by Load when no candidate file exists.
var ErrNotFound = errors.New("layout not found")

// Default is a small four agent board that ships with the binary.
func Default() *maze.Layout {
	l, err := maze.Parse(DefaultName, defaultText)
	if err != nil {
		panic(err)
	}
	return l
}

// Load resolves name the way layouts are usually referenced on the command
// line: as a path, or as a file under one of dirs, with or without the .lay
// extension. The name "default" without a matching file gives Default().
func Load(name string, dirs ...string) (*maze.Layout, error) {
	var candidates []string
	for _, n := range []string{name, name + ".lay"} {
		candidates = append(candidates, n)
		for _, d := range dirs {
			candidates = append(candidates, filepath.Join(d, n))
		}
	}
	for _, c := range candidates {
		b, err := os.ReadFile(c)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read layout %s: %w", c, err)
		}
		return maze.Parse(strings.TrimSuffix(filepath.Base(c), ".lay"), string(b))
	}
	if name == DefaultName {
		return Default(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LoadDir parses every .lay file in dir, sorted by name.
func LoadDir(dir string) ([]*maze.Layout, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lay"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*maze.Layout, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read layout %s: %w", p, err)
		}
		l, err := maze.Parse(strings.TrimSuffix(filepath.Base(p), ".lay"), string(b))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Save writes l to dir/<name>.lay.
func Save(dir string, l *maze.Layout) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create layout dir: %w", err)
	}
	p := filepath.Join(dir, l.Name+".lay")
	if err := os.WriteFile(p, []byte(l.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write layout: %w", err)
	}
	return p, nil
}
