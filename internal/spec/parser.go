package spec

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	luacat "github.com/mpataki/geolaunch/internal/lua"
	"github.com/mpataki/geolaunch/internal/models"
)

//go:embed operations.yaml
var defaultCatalog []byte

// Catalog is the on-disk shape of a YAML operations file.
type Catalog struct {
	// Interpreter applies to every operation that does not set its own.
	Interpreter string                       `yaml:"interpreter,omitempty"`
	Operations  []models.OperationDescriptor `yaml:"operations"`
}

// Default returns the built-in operations. interpreter runs each script;
// empty means the scripts are executed directly.
func Default(interpreter string) ([]models.OperationDescriptor, error) {
	ops, err := ParseBytes(defaultCatalog, "builtin")
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].Interpreter == "" {
			ops[i].Interpreter = interpreter
		}
	}
	return ops, nil
}

func Parse(path string) ([]models.OperationDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseBytes(data, path)
}

func ParseBytes(data []byte, source string) ([]models.OperationDescriptor, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML %s: %w", source, err)
	}

	for i := range catalog.Operations {
		op := &catalog.Operations[i]
		if op.Interpreter == "" {
			op.Interpreter = catalog.Interpreter
		}
	}

	if err := Validate(catalog.Operations); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	return catalog.Operations, nil
}

// LoadAll reads every YAML and Lua catalog in dirs, in directory order and
// then file-name order. Missing directories are skipped. Lua catalogs log
// through logger, which may be nil.
func LoadAll(dirs []string, logger *log.Logger) ([]models.OperationDescriptor, error) {
	var ops []models.OperationDescriptor

	for _, dir := range dirs {
		loaded, err := loadFromDir(dir, logger)
		if err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		ops = Merge(ops, loaded)
	}

	return ops, nil
}

func loadFromDir(dir string, logger *log.Logger) ([]models.OperationDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ops []models.OperationDescriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(dir, name)

		var loaded []models.OperationDescriptor
		switch {
		case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
			loaded, err = Parse(path)
		case luacat.IsLuaCatalog(path):
			loaded, err = luacat.LoadCatalog(path, logger)
			if err == nil {
				err = Validate(loaded)
			}
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}

		ops = Merge(ops, loaded)
	}

	return ops, nil
}

// Merge appends more to base. An operation whose name already exists in
// base replaces it in place so menu order stays stable.
func Merge(base, more []models.OperationDescriptor) []models.OperationDescriptor {
	index := make(map[string]int, len(base))
	for i, op := range base {
		index[op.Name] = i
	}

	for _, op := range more {
		if i, ok := index[op.Name]; ok {
			base[i] = op
			continue
		}
		index[op.Name] = len(base)
		base = append(base, op)
	}

	return base
}

// Validate checks each descriptor and rejects duplicate names within one
// catalog.
func Validate(ops []models.OperationDescriptor) error {
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if err := op.Check(); err != nil {
			return err
		}
		if seen[op.Name] {
			return fmt.Errorf("duplicate operation %q", op.Name)
		}
		seen[op.Name] = true
	}
	return nil
}
