package cmds

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "deploy.yaml"), []byte("kind: Deployment\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "logs"), 0o755))
	return root
}

func TestWorkspaceResolveStaysInsideRoot(t *testing.T) {
	root := newTestWorkspace(t)
	w := &workspace{root: root}

	p, err := w.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), p)
}

func TestDemoToolsReadAndList(t *testing.T) {
	root := newTestWorkspace(t)
	registry, err := demoTools(root)
	require.NoError(t, err)
	assert.Equal(t, 3, registry.Count())

	readFile, err := registry.GetTool("read_file")
	require.NoError(t, err)
	res, err := readFile.Execute(context.Background(), json.RawMessage(`{"path":"deploy.yaml","max_bytes":4}`))
	require.NoError(t, err)
	assert.Equal(t, "kind", tools.AgentText(res))

	listDir, err := registry.GetTool("list_dir")
	require.NoError(t, err)
	res, err = listDir.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `["deploy.yaml","logs/"]`, tools.AgentText(res))
}

func TestReadMissingFileIsRecoverable(t *testing.T) {
	w := &workspace{root: newTestWorkspace(t)}
	_, err := w.readFile(readFileInput{Path: "missing.txt"})
	require.Error(t, err)

	var execErr *tools.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, tools.ErrorCodeExecutionError, execErr.Code)
	assert.False(t, execErr.Fatal)
}

func TestRunCommandIsDangerousAndConfirmed(t *testing.T) {
	registry, err := demoTools(newTestWorkspace(t))
	require.NoError(t, err)

	runCommand, err := registry.GetTool("run_command")
	require.NoError(t, err)
	assert.Equal(t, tools.SafetyLevelDangerous, runCommand.SafetyLevel())

	details := confirmCommand(json.RawMessage(`{"command":"kubectl","args":["get","pods"]}`))
	assert.Equal(t, "kubectl get pods", details.Message)
	assert.Equal(t, "run_command", details.ToolName)
}

func TestTerminalConfirmationAutoApprove(t *testing.T) {
	ok, err := terminalConfirmation(true)(context.Background(), tools.ConfirmationDetails{Title: "Run?"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmationRefusesWithoutTerminal(t *testing.T) {
	asked := false
	p := &confirmationPrompt{
		isTerminal: func() bool { return false },
		ask: func(string) (string, error) {
			asked = true
			return "y", nil
		},
	}
	ok, err := p.confirm(context.Background(), tools.ConfirmationDetails{Title: "Run?"})
	assert.ErrorIs(t, err, ErrNoTerminal)
	assert.False(t, ok)
	assert.False(t, asked)
}

func TestConfirmationPromptsOneAtATime(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	p := &confirmationPrompt{
		isTerminal: func() bool { return true },
		ask: func(string) (string, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return " Yes ", nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := p.confirm(context.Background(), tools.ConfirmationDetails{Title: "Run?"})
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}
