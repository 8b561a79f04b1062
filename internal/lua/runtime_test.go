package lua

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/mpataki/geolaunch/internal/models"
)

func TestLoadCatalogDeclaresOperations(t *testing.T) {
	script := `
interpreter("python3")

operation {
  name = "Buffer Analysis",
  executable = "buffer_analysis.py",
  parameters = {
    { label = "Input File", kind = "file", placeholder = "input.shp", help = "Select the input shapefile." },
    { label = "Buffer Distance", kind = "number", numeric = "real", placeholder = 100 },
    { label = "Output File", kind = "text", placeholder = "out.shp" },
  },
}

-- generated entries keep declaration order
for _, band in ipairs({ "red", "nir" }) do
  operation {
    name = "Normalize " .. band,
    executable = "/usr/local/bin/normalize",
    parameters = { { label = "Band", kind = "file" } },
  }
end
log("declared operations")
`
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.lua")
	if err := os.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}

	var logged bytes.Buffer
	ops, err := LoadCatalog(path, log.New(&logged))
	if err != nil {
		t.Fatal(err)
	}
	if out := logged.String(); !strings.Contains(out, "declared operations") || !strings.Contains(out, path) {
		t.Errorf("catalog log output = %q", out)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}

	buffer := ops[0]
	if buffer.Name != "Buffer Analysis" || buffer.Interpreter != "python3" {
		t.Errorf("buffer = %+v", buffer)
	}
	if len(buffer.Parameters) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(buffer.Parameters))
	}
	labels := []string{"Input File", "Buffer Distance", "Output File"}
	for i, p := range buffer.Parameters {
		if p.Label != labels[i] {
			t.Errorf("parameter %d = %q, want %q", i, p.Label, labels[i])
		}
	}
	if d := buffer.Parameters[1]; d.Kind != models.KindNumber || !d.IsReal() || d.Placeholder != "100" {
		t.Errorf("distance = %+v", d)
	}
	if ops[1].Name != "Normalize red" || ops[2].Name != "Normalize nir" {
		t.Errorf("generated names = %q, %q", ops[1].Name, ops[2].Name)
	}
	if ops[2].Interpreter != "python3" {
		t.Errorf("generated op did not inherit the default interpreter: %q", ops[2].Interpreter)
	}
}

func TestExecuteRejectsInvalidOperation(t *testing.T) {
	r := NewRuntime()
	err := r.Execute(`operation { name = "Bad", executable = "x", parameters = { { label = "When", kind = "date" } } }`)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("err = %v", err)
	}
}

func TestSandboxRemovesUnsafeGlobals(t *testing.T) {
	for _, fn := range []string{"dofile", "loadfile", "load", "loadstring", "print"} {
		t.Run(fn, func(t *testing.T) {
			r := NewRuntime()
			if err := r.Execute(fn + `("x")`); err == nil {
				t.Errorf("%s should not be callable", fn)
			}
		})
	}

	r := NewRuntime()
	if err := r.Execute(`local x = math.random()`); err == nil {
		t.Error("math.random should be removed")
	}
	if err := r.Execute(`local f = io.open("/etc/passwd")`); err == nil {
		t.Error("io should not be loaded")
	}
}

func TestLogCollectsMessages(t *testing.T) {
	r := NewRuntime()
	if err := r.Execute(`log("one") log("two")`); err != nil {
		t.Fatal(err)
	}
	if got := r.GetLogs(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("logs = %v", got)
	}
}

func TestOperationCategory(t *testing.T) {
	r := NewRuntime()
	err := r.Execute(`operation { name = "Slope", executable = "slope.py", category = "Data Analysis" }`)
	if err != nil {
		t.Fatal(err)
	}
	if ops := r.Operations(); len(ops) != 1 || ops[0].Category != "Data Analysis" {
		t.Errorf("ops = %+v", ops)
	}
}

func TestIsLuaCatalog(t *testing.T) {
	if !IsLuaCatalog("ops/extra.lua") {
		t.Error("expected .lua to be a catalog")
	}
	if IsLuaCatalog("ops/extra.yaml") {
		t.Error("yaml is not a Lua catalog")
	}
}
