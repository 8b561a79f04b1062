package lua

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/geolaunch/internal/models"
)

// Runtime evaluates a Lua catalog script in a sandboxed environment and
// collects the operations it declares.
type Runtime struct {
	ops         []models.OperationDescriptor
	interpreter string
	logs        []string
}

func NewRuntime() *Runtime {
	return &Runtime{
		ops:  make([]models.OperationDescriptor, 0),
		logs: make([]string, 0),
	}
}

// LoadCatalog runs the script at path and returns the declared operations.
// Messages the script passes to log() go to logger, tagged with path, even
// when the script fails. logger may be nil.
func LoadCatalog(path string, logger *log.Logger) ([]models.OperationDescriptor, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	r := NewRuntime()
	err = r.Execute(string(script))
	if logger != nil {
		for _, msg := range r.GetLogs() {
			logger.Info(msg, "catalog", path)
		}
	}
	if err != nil {
		return nil, err
	}
	return r.Operations(), nil
}

// Execute runs a catalog script. A script may be executed more than once
// on the same runtime; operations accumulate.
func (r *Runtime) Execute(script string) error {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("failed to run catalog script: %w", err)
	}
	return nil
}

// Catalog scripts get base, table, string and math, minus anything that
// reads files, evaluates code, or is nondeterministic.
var (
	blockedGlobals = []string{"loadfile", "dofile", "load", "loadstring", "require", "print"}
	blockedMath    = []string{"random", "randomseed"}
)

func (r *Runtime) openSafeLibs(L *lua.LState) {
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if math, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		for _, name := range blockedMath {
			L.SetField(math, name, lua.LNil)
		}
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("operation", L.NewFunction(r.luaOperation))
	L.SetGlobal("interpreter", L.NewFunction(r.luaInterpreter))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaOperation implements operation{name=..., executable=..., parameters={...}}
func (r *Runtime) luaOperation(L *lua.LState) int {
	tbl := L.CheckTable(1)

	op := models.OperationDescriptor{
		Name:        fieldString(tbl, "name"),
		Description: fieldString(tbl, "description"),
		Category:    fieldString(tbl, "category"),
		Executable:  fieldString(tbl, "executable"),
		Interpreter: fieldString(tbl, "interpreter"),
	}
	if op.Interpreter == "" {
		op.Interpreter = r.interpreter
	}

	if params, ok := tbl.RawGetString("parameters").(*lua.LTable); ok {
		var bad string
		params.ForEach(func(_, v lua.LValue) {
			p, ok := v.(*lua.LTable)
			if !ok {
				bad = v.Type().String()
				return
			}
			op.Parameters = append(op.Parameters, models.ParameterDescriptor{
				Label:       fieldString(p, "label"),
				Kind:        models.Kind(fieldString(p, "kind")),
				Numeric:     models.Numeric(fieldString(p, "numeric")),
				Placeholder: fieldString(p, "placeholder"),
				Help:        fieldString(p, "help"),
			})
		})
		if bad != "" {
			L.RaiseError("operation %q: parameters must be tables, got %s", op.Name, bad)
			return 0
		}
	}

	if err := op.Check(); err != nil {
		L.RaiseError("%v", err)
		return 0
	}

	r.ops = append(r.ops, op)
	return 0
}

// luaInterpreter sets the default interpreter for operations declared
// after the call.
func (r *Runtime) luaInterpreter(L *lua.LState) int {
	r.interpreter = L.OptString(1, "")
	return 0
}

func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	return 0
}

// fieldString reads a string or number field; anything else is empty.
func fieldString(tbl *lua.LTable, key string) string {
	switch v := tbl.RawGetString(key).(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	default:
		return ""
	}
}

func (r *Runtime) Operations() []models.OperationDescriptor {
	return append([]models.OperationDescriptor(nil), r.ops...)
}

// GetLogs returns the messages passed to log() during execution
func (r *Runtime) GetLogs() []string {
	return r.logs
}

// IsLuaCatalog checks if a file is a Lua catalog
func IsLuaCatalog(path string) bool {
	return filepath.Ext(path) == ".lua"
}
