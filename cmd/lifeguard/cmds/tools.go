package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/pkg/errors"
)

type readFileInput struct {
	Path     string `json:"path" jsonschema:"required,description=File path relative to the workspace root"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Read at most this many bytes (default 65536)"`
}

type listDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory relative to the workspace root (default: the root)"`
}

type runCommandInput struct {
	Command string   `json:"command" jsonschema:"required,description=Executable to run"`
	Args    []string `json:"args,omitempty" jsonschema:"description=Arguments passed to the executable"`
}

// workspace confines the demo tools to one directory tree.
type workspace struct {
	root string
}

func (w *workspace) resolve(rel string) (string, error) {
	p := filepath.Join(w.root, filepath.Clean("/"+rel))
	r, err := filepath.Rel(w.root, p)
	if err != nil || strings.HasPrefix(r, "..") {
		return "", &tools.ExecError{
			Code:    tools.ErrorCodeInvalidArguments,
			Message: fmt.Sprintf("%s is outside the workspace", rel),
		}
	}
	return p, nil
}

func (w *workspace) readFile(in readFileInput) (string, error) {
	p, err := w.resolve(in.Path)
	if err != nil {
		return "", err
	}
	limit := in.MaxBytes
	if limit <= 0 {
		limit = 64 * 1024
	}
	f, err := os.Open(p)
	if err != nil {
		return "", &tools.ExecError{Code: tools.ErrorCodeExecutionError, Message: "could not open file", Cause: err}
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "could not read file")
	}
	return string(buf[:n]), nil
}

func (w *workspace) listDir(in listDirInput) ([]string, error) {
	p, err := w.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, &tools.ExecError{Code: tools.ErrorCodeExecutionError, Message: "could not list directory", Cause: err}
	}
	ret := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret, nil
}

func (w *workspace) runCommand(ctx context.Context, in runCommandInput) (tools.Result, error) {
	events.PublishProgress(ctx, strings.TrimSpace("running "+in.Command+" "+strings.Join(in.Args, " ")))
	cmd := exec.CommandContext(ctx, in.Command, in.Args...)
	cmd.Dir = w.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.NewErr(tools.ErrorCodeExecutionError,
			fmt.Sprintf("%s failed: %v\n%s", in.Command, err, out), true), nil
	}
	return tools.NewOk(string(out)), nil
}

func confirmCommand(args json.RawMessage) *tools.ConfirmationDetails {
	var in runCommandInput
	_ = json.Unmarshal(args, &in)
	return &tools.ConfirmationDetails{
		ToolName:    "run_command",
		Title:       "Run a shell command?",
		Message:     strings.TrimSpace(in.Command + " " + strings.Join(in.Args, " ")),
		Arguments:   args,
		SafetyLevel: tools.SafetyLevelDangerous,
	}
}

// demoTools registers the read-only workspace tools and the gated
// run_command tool.
func demoTools(root string) (*tools.InMemoryToolRegistry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve workspace root")
	}
	w := &workspace{root: abs}
	registry := tools.NewInMemoryToolRegistry()

	readFile, err := tools.NewToolFromFunc("read_file",
		"Read a text file from the workspace, for example a manifest or a log file.", w.readFile)
	if err != nil {
		return nil, err
	}
	listDir, err := tools.NewToolFromFunc("list_dir",
		"List the entries of a workspace directory. Directories end with a slash.", w.listDir)
	if err != nil {
		return nil, err
	}
	runCommand, err := tools.NewToolFromFunc("run_command",
		"Run a command in the workspace and return its combined output. The user must approve every call.",
		w.runCommand,
		tools.WithSafetyLevel(tools.SafetyLevelDangerous),
		tools.WithConfirmation(confirmCommand),
	)
	if err != nil {
		return nil, err
	}

	for _, t := range []tools.Tool{readFile, listDir, runCommand} {
		if err := registry.RegisterTool(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
