package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reveal/internal/compiler"
	"github.com/roach88/reveal/internal/ir"
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No document files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeFormat      = "E007" // Unsupported file extension
)

// LoadError is a document that could not be read at all.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DocumentResult is a compiled document and everything found while
// compiling it.
type DocumentResult struct {
	Path          string
	FileCount     int
	Document      *ir.Document
	CompileErrors []*compiler.CompileError
	Validation    []compiler.ValidationError
	Cycles        []compiler.CycleWarning
}

// OK reports whether every entry compiled. Validation findings and cycles
// are warnings and do not affect OK.
func (r *DocumentResult) OK() bool {
	return r != nil && r.Document != nil && len(r.CompileErrors) == 0
}

// Problems returns the number of compile errors, validation findings and
// cycle warnings.
func (r *DocumentResult) Problems() int {
	return len(r.CompileErrors) + len(r.Validation) + len(r.Cycles)
}

// LoadDocument reads and compiles a configuration document.
//
// path may be a .cue, .json, .yaml or .yml file, or a directory holding a
// CUE package.
func LoadDocument(path string) (*DocumentResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("document not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing document: %v", err)}
	}

	if info.IsDir() {
		return loadDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading document: %v", err)}
	}
	return ParseDocument(path, data)
}

// ParseDocument compiles document bytes. The format is chosen by the
// extension of name.
func ParseDocument(name string, data []byte) (*DocumentResult, error) {
	ctx := cuecontext.New()

	var v cue.Value
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue", ".json":
		// JSON is valid CUE, so both go through the CUE parser and keep positions
		v = ctx.CompileBytes(data, cue.Filename(name))
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing %s: %v", name, err)}
		}
		v = ctx.Encode(raw)
	default:
		return nil, &LoadError{
			Code:    ErrCodeFormat,
			Message: fmt.Sprintf("unsupported document format %q (want .cue, .json, .yaml or .yml)", filepath.Ext(name)),
		}
	}

	return compileValue(v, name, 1)
}

// DocumentFromValue compiles a document already decoded into Go values,
// such as a YAML node embedded in a scenario file.
func DocumentFromValue(name string, x any) (*DocumentResult, error) {
	return compileValue(cuecontext.New().Encode(x), name, 0)
}

func loadDir(dir string) (*DocumentResult, error) {
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	return compileValue(ctx.BuildInstance(inst), dir, len(files))
}

func compileValue(v cue.Value, name string, files int) (*DocumentResult, error) {
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	doc, compileErrs, err := compiler.CompileDocument(v)
	if err != nil {
		le := &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			le.Code, le.Message, le.Pos = ce.Code, ce.Field+": "+ce.Message, ce.Pos
		}
		return nil, le
	}

	return &DocumentResult{
		Path:          name,
		FileCount:     files,
		Document:      doc,
		CompileErrors: compileErrs,
		Validation:    compiler.Validate(doc),
		Cycles:        compiler.AnalyzeCycles(doc),
	}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
