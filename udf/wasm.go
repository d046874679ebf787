package udf

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	apierrors "github.com/oblivkv/kvserver/errors"
)

// wasmEngine runs WASM-only code objects as WASI command modules. The
// invocation arguments arrive as a JSON array on stdin; the module
// writes the partition output to stdout.
type wasmEngine struct {
	runtime     wazero.Runtime
	execTimeout time.Duration

	mu       sync.Mutex
	compiled wazero.CompiledModule
}

func newWasmEngine(execTimeout time.Duration) *wasmEngine {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx,
		wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	return &wasmEngine{runtime: r, execTimeout: execTimeout}
}

// Load compiles a module and makes it current.
func (e *wasmEngine) Load(ctx context.Context, wasm []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		if ctx.Err() != nil {
			return apierrors.Internal("Timed out setting UDF code object.")
		}
		return apierrors.Newf(apierrors.CodeInvalidArgument, "compile wasm: %v", err)
	}
	e.mu.Lock()
	old := e.compiled
	e.compiled = compiled
	e.mu.Unlock()
	if old != nil {
		old.Close(context.Background())
	}
	return nil
}

// Execute instantiates the module once and runs it to completion.
func (e *wasmEngine) Execute(ctx context.Context, args []interface{}) (string, error) {
	e.mu.Lock()
	compiled := e.compiled
	e.mu.Unlock()
	if compiled == nil {
		return "", apierrors.Internal("no UDF code object loaded")
	}

	input, err := json.Marshal(args)
	if err != nil {
		return "", apierrors.Newf(apierrors.CodeInvalidArgument, "serialize udf argument: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous, so executions can overlap
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStartFunctions("_start")

	start := time.Now()
	mod, err := e.runtime.InstantiateModule(runCtx, compiled, cfg)
	if mod != nil {
		mod.Close(context.Background())
	}
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() == 0 {
			// Normal proc_exit(0) termination.
		} else if runCtx.Err() != nil {
			return "", apierrors.Internal("Timed out waiting for UDF result.")
		} else {
			return "", apierrors.Internalf("udf execution after %v: %v", time.Since(start), err)
		}
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// Close releases the runtime and any compiled module.
func (e *wasmEngine) Close() {
	e.runtime.Close(context.Background())
}
