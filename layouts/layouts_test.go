package layouts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/capture/maze"
)

const tinyLayout = `
%%%%%%
%1..2%
%%%%%%
`

func indexServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul>
<li><a href="alpha.lay">alpha</a></li>
<li><a href="/maps/beta.lay">beta</a></li>
<li><a href="alpha.lay">alpha again</a></li>
<li><a href="broken.lay">broken</a></li>
<li><a href="readme.txt">readme</a></li>
<li><a>no href</a></li>
</ul></body></html>`)
	})
	mux.HandleFunc("/alpha.lay", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, tinyLayout) })
	mux.HandleFunc("/maps/beta.lay", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, tinyLayout) })
	mux.HandleFunc("/broken.lay", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "%%%\n%1.2%\n") })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLinks(t *testing.T) {
	srv := indexServer(t)
	w := NewWorker(DefaultConfig(), nil, nil)
	links, err := w.Links(context.Background(), srv.URL+"/index.html")
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	want := []string{srv.URL + "/alpha.lay", srv.URL + "/maps/beta.lay", srv.URL + "/broken.lay"}
	if len(links) != len(want) {
		t.Fatalf("links=%v want=%v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("links[%d]=%s want=%s", i, links[i], want[i])
		}
	}
}

func TestDiscoverSkipsKnownAndBroken(t *testing.T) {
	srv := indexServer(t)
	cfg := DefaultConfig()
	cfg.IndexURLs = []string{srv.URL + "/index.html", srv.URL + "/missing.html"}
	cfg.RequestDelay = 0
	w := NewWorker(cfg, nil, []string{"beta"})

	got, err := w.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 || got[0].Name != "alpha" {
		t.Fatalf("got %d layouts, first=%v", len(got), got)
	}
	if len(got[0].Starts) != 2 || got[0].Maze.Width != 6 {
		t.Fatalf("alpha starts=%d width=%d", len(got[0].Starts), got[0].Maze.Width)
	}

	// Second pass finds nothing new.
	again, err := w.Discover(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second discover got=%d err=%v", len(again), err)
	}
}

func TestFetchBadLayout(t *testing.T) {
	srv := indexServer(t)
	w := NewWorker(DefaultConfig(), nil, nil)
	if _, err := w.Fetch(context.Background(), srv.URL+"/broken.lay"); !errors.Is(err, maze.ErrBadLayout) {
		t.Fatalf("err=%v want ErrBadLayout", err)
	}
	if _, err := w.Fetch(context.Background(), srv.URL+"/nope.lay"); err == nil {
		t.Fatalf("404 should fail")
	}
}

func TestNameFromURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://x/maps/alpha.lay?raw=1": "alpha",
		"beta.lay":                      "beta",
		"/a/b/gamma":                    "gamma",
	} {
		if got := NameFromURL(in); got != want {
			t.Fatalf("NameFromURL(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestDefaultLayout(t *testing.T) {
	l := Default()
	if len(l.Starts) != 4 {
		t.Fatalf("starts=%d want=4", len(l.Starts))
	}
	for i, s := range l.Starts {
		if s.Red != (i%2 == 0) {
			t.Fatalf("start %d at %v red=%v", i, s.Cell, s.Red)
		}
	}
	red, blue := 0, 0
	for _, f := range l.Food {
		if l.Maze.IsRedSide(float64(f.X)) {
			red++
		} else {
			blue++
		}
	}
	if red != blue || red == 0 {
		t.Fatalf("food red=%d blue=%d", red, blue)
	}
}

func TestLoadSaveDir(t *testing.T) {
	dir := t.TempDir()
	tiny, err := maze.Parse("tiny", tinyLayout)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := Save(dir, tiny)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Base(p) != "tiny.lay" {
		t.Fatalf("saved as %s", p)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(all) != 1 || all[0].Name != "tiny" || all[0].String() != tiny.String() {
		t.Fatalf("load dir=%v", all)
	}

	byName, err := Load("tiny", dir)
	if err != nil || byName.Name != "tiny" {
		t.Fatalf("load by name=%v err=%v", byName, err)
	}
	if _, err := Load("absent", dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent err=%v", err)
	}
	def, err := Load(DefaultName, dir)
	if err != nil || len(def.Starts) != 4 {
		t.Fatalf("default err=%v", err)
	}
}
