package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/compiler"
	"github.com/roach88/consentstack/internal/ir"
)

// LoadResult contains a stack read from a directory.
type LoadResult struct {
	Topology  *ir.Topology
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred while loading a stack.
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

// Error code constants - unified across all CLI commands.
// Build errors use the compiler's E1xx codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoStack     = "E008" // No (or ambiguous) stack declared
	ErrCodeTopology    = "E009" // Stack does not parse into a topology
	ErrCodeDatabase    = "E010" // Ledger could not be opened or read
	ErrCodeDeployment  = "E011" // Deployment failed
)

// LoadStack loads the stack declared under `stack: <name>:` in dir.
//
// params are filled into the top-level `params` struct before the stack is
// read, so the CUE source can derive names from them. An empty name selects
// the only declared stack.
func LoadStack(dir, name string, params map[string]string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("stack directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing stack directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
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

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	if value.LookupPath(cue.ParsePath("params")).Exists() {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value = value.FillPath(cue.MakePath(cue.Str("params"), cue.Str(k)), params[k])
		}
		if err := value.Err(); err != nil {
			return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("applying stack parameters: %v", err)}
		}
	}

	stack, err := selectStack(value, name)
	if err != nil {
		return nil, err
	}
	topo, err := compiler.CompileTopology(stack)
	if err != nil {
		return nil, convertCompileError(err)
	}

	return &LoadResult{
		Topology:  topo,
		CUEValue:  value,
		FileCount: len(cueFiles),
	}, nil
}

// selectStack returns the stack value called name, or the only one.
func selectStack(value cue.Value, name string) (cue.Value, error) {
	stacks := value.LookupPath(cue.ParsePath("stack"))
	if !stacks.Exists() {
		return cue.Value{}, &LoadError{Code: ErrCodeNoStack, Message: "no stack declared"}
	}
	if name != "" {
		v := stacks.LookupPath(cue.MakePath(cue.Str(name)))
		if !v.Exists() {
			return cue.Value{}, &LoadError{Code: ErrCodeNoStack, Message: fmt.Sprintf("stack %q not declared", name)}
		}
		return v, nil
	}

	iter, err := stacks.Fields()
	if err != nil {
		return cue.Value{}, convertCompileError(err)
	}
	var names []string
	var found cue.Value
	for iter.Next() {
		names = append(names, iter.Selector().Unquoted())
		found = iter.Value()
	}
	switch len(names) {
	case 0:
		return cue.Value{}, &LoadError{Code: ErrCodeNoStack, Message: "no stack declared"}
	case 1:
		return found, nil
	}
	return cue.Value{}, &LoadError{
		Code:    ErrCodeNoStack,
		Message: fmt.Sprintf("several stacks declared (%s); choose one with --stack", strings.Join(names, ", ")),
	}
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

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeTopology,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeTopology, Message: err.Error()}
}

// loadFailure reports a load error and returns the matching ExitError.
// Load errors are command errors (exit code 2).
func loadFailure(f *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		var details any
		if loadErr.Pos.IsValid() {
			details = map[string]any{"file": loadErr.Pos.Filename(), "line": loadErr.Pos.Line()}
		}
		return f.fail(ExitCommandError, loadErr.Code, loadErr.Message, details)
	}
	return f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
}

// stackFlags are the flags shared by the commands that read a stack.
type stackFlags struct {
	Stack  string
	Params []string // key=value overrides of config-derived parameters
}

func (s *stackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Stack, "stack", "", "stack name (defaults to the only declared stack)")
	cmd.Flags().StringArrayVarP(&s.Params, "param", "p", nil, "stack parameter override key=value (repeatable)")
}

// params merges config-derived stack parameters with --param overrides.
func (s *stackFlags) params(opts *RootOptions) (map[string]string, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	out := cfg.Params()
	overridden := make(map[string]bool)
	for _, kv := range s.Params {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", kv)
		}
		out[k] = v
		overridden[k] = true
	}
	// A derived application domain follows an overridden hosted zone.
	if overridden["hostedZone"] && !overridden["appDomain"] && cfg.AppDomain == "devtest."+cfg.HostedZone {
		out["appDomain"] = "devtest." + out["hostedZone"]
	}
	return out, nil
}

// load reads and compiles the stack in dir. Load problems are reported
// through f; build errors are returned unreported for the caller to render.
func (s *stackFlags) load(opts *RootOptions, f *OutputFormatter, dir string) (*LoadResult, *compiler.Result, error) {
	params, err := s.params(opts)
	if err != nil {
		return nil, nil, f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	loaded, err := LoadStack(dir, s.Stack, params)
	if err != nil {
		return nil, nil, loadFailure(f, err)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	res, err := compiler.Compile(loaded.Topology)
	if err != nil {
		return loaded, nil, err
	}
	return loaded, res, nil
}
