package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// layers lists, per internal/ prefix, the internal/ prefixes it must not import.
var layers = []struct {
	prefix     string
	disallowed []string
}{
	{"platform/", []string{"domain", "data/", "realtime", "services", "jobs/", "http", "app", "client"}},
	{"domain/", []string{"data/", "realtime", "services", "jobs/", "http", "app", "observability", "client"}},
	{"data/", []string{"realtime", "services", "jobs/", "http", "app", "client"}},
	{"realtime/", []string{"data/", "services", "jobs/", "http", "app", "client"}},
	{"services/", []string{"jobs/", "http", "app", "client"}},
	{"jobs/", []string{"http", "app", "client"}},
	{"http/", []string{"app", "client"}},
	{"observability/", []string{"client"}},
	// The client ships with operator tools; it may share domain types and nothing server-side.
	{"client/", []string{"data/", "platform/", "realtime", "services", "jobs/", "http", "app", "observability"}},
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleRoot(t)
	internal := modulePath + "/internal/"

	var violations []string
	walkImports(t, filepath.Join(root, "internal"), root, func(rel, imp string) {
		if !strings.HasPrefix(imp, internal) {
			return
		}
		target := strings.TrimPrefix(imp, internal)
		for _, l := range layers {
			if !strings.HasPrefix(rel, "internal/"+l.prefix) {
				continue
			}
			for _, bad := range l.disallowed {
				if strings.HasPrefix(target, bad) {
					violations = append(violations, fmt.Sprintf("%s imports %q (internal/%s is off limits)", rel, imp, bad))
				}
			}
		}
	})

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("import boundary violations:\n- %s", strings.Join(violations, "\n- "))
	}
}

func TestEveryInternalPackageHasALayer(t *testing.T) {
	root, _ := moduleRoot(t)
	known := map[string]bool{"internal/app/": true, "internal/architecture/": true}
	for _, l := range layers {
		known["internal/"+l.prefix] = true
	}

	unknown := map[string]bool{}
	walkImports(t, filepath.Join(root, "internal"), root, func(rel, _ string) {
		for prefix := range known {
			if strings.HasPrefix(rel, prefix) {
				return
			}
		}
		unknown[filepath.ToSlash(filepath.Dir(rel))] = true
	})
	if len(unknown) > 0 {
		dirs := make([]string, 0, len(unknown))
		for d := range unknown {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		t.Fatalf("packages outside any layer: %s", strings.Join(dirs, ", "))
	}
}

// walkImports calls visit for every import of every .go file under dir.
// rel is the file path relative to root, slash separated.
func walkImports(t *testing.T, dir, root string, visit func(rel, imp string)) {
	t.Helper()
	fset := token.NewFileSet()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			if imp, err := strconv.Unquote(spec.Path.Value); err == nil {
				visit(filepath.ToSlash(rel), imp)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
}

func moduleRoot(t *testing.T) (root, modulePath string) {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found")
		}
		dir = parent
	}

	f, err := os.Open(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("open go.mod: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if mp, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "module "); ok {
			return dir, strings.TrimSpace(mp)
		}
	}
	t.Fatalf("module path not found in go.mod")
	return "", ""
}
