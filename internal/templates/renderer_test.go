package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCompileInlineRendersSprigFunctions(t *testing.T) {
	r := NewRenderer("")
	tmpl, err := r.CompileInline("greeting", `{{ .app | upper }} est hors ligne`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := tmpl.Render(map[string]any{"app": "novapress"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "NOVAPRESS est hors ligne" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCompileInlineEmptySourceReturnsNil(t *testing.T) {
	r := NewRenderer("")
	tmpl, err := r.CompileInline("empty", "   \n ")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if tmpl != nil {
		t.Fatalf("expected nil template for blank source")
	}
}

func TestRestrictedFunctionsRemoved(t *testing.T) {
	r := NewRenderer("")
	if _, err := r.CompileInline("bad", `{{ env "HOME" }}`); err == nil {
		t.Fatalf("expected env helper to be unavailable")
	}
}

func TestCompileFileStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "offline.html.tmpl")
	if err := os.WriteFile(path, []byte("<h1>{{ .title }}</h1>"), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	r := NewRenderer(root)
	tmpl, err := r.CompileFile("offline.html.tmpl")
	if err != nil {
		t.Fatalf("compile file: %v", err)
	}
	out, err := tmpl.Render(map[string]any{"title": "Hors ligne"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Hors ligne") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := r.CompileFile("../outside.tmpl"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}
