package udf

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/dop251/goja"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/metrics"
	"github.com/oblivkv/kvserver/proto"
)

// Client owns the UDF runtimes and the currently installed code
// object.
type Client struct {
	hooks *Hooks
	pool  chan *gojaWorker
	wasm  *wasmEngine

	loadTimeout time.Duration
	execTimeout time.Duration

	mu      sync.Mutex
	current *codeState
}

// codeState is an immutable snapshot of one installed code object.
// Workers compare pointers to decide whether to reload.
type codeState struct {
	cfg     CodeConfig
	program *goja.Program
}

type gojaWorker struct {
	vm      *goja.Runtime
	handler goja.Callable
	loaded  *codeState
}

func NewClient(cfg Config, hooks *Hooks) *Client {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	c := &Client{
		hooks:       hooks,
		pool:        make(chan *gojaWorker, workers),
		wasm:        newWasmEngine(cfg.executionTimeout()),
		loadTimeout: cfg.loadTimeout(),
		execTimeout: cfg.executionTimeout(),
	}
	for i := 0; i < workers; i++ {
		c.pool <- &gojaWorker{}
	}
	return c
}

// SetCodeObject installs a new code object. Stale objects, those whose
// logical commit time is not strictly greater than the installed one,
// are ignored. Compilation is bounded by the configured load timeout.
func (c *Client) SetCodeObject(cfg CodeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && cfg.LogicalCommitTime <= c.current.cfg.LogicalCommitTime {
		return nil
	}
	if cfg.JS == "" && len(cfg.WASM) == 0 {
		return apierrors.InvalidArgument("code object has neither js nor wasm")
	}

	state := &codeState{cfg: cfg}
	if cfg.JS != "" {
		program, err := compileWithTimeout(cfg.JS, c.loadTimeout)
		if err != nil {
			return err
		}
		state.program = program
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
		defer cancel()
		if err := c.wasm.Load(ctx, cfg.WASM); err != nil {
			return err
		}
	}
	c.current = state
	return nil
}

func compileWithTimeout(src string, timeout time.Duration) (*goja.Program, error) {
	type result struct {
		program *goja.Program
		err     error
	}
	done := make(chan result, 1)
	go func() {
		program, err := goja.Compile("udf", src, true)
		done <- result{program, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "compile udf: %v", r.err)
		}
		return r.program, nil
	case <-time.After(timeout):
		return nil, apierrors.Internal("Timed out setting UDF code object.")
	}
}

func (c *Client) state() *codeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CodeVersion reports the installed code object's version and logical
// commit time, or zeros when none is set.
func (c *Client) CodeVersion() (version, logicalCommitTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0, 0
	}
	return c.current.cfg.Version, c.current.cfg.LogicalCommitTime
}

// ExecuteCode runs the installed UDF once. The first argument the UDF
// sees is the execution metadata; request arguments follow, tagless
// ones flattened to their data.
func (c *Client) ExecuteCode(ctx context.Context, metadata map[string]string, args []proto.UDFArgument) (string, error) {
	state := c.state()
	if state == nil {
		return "", apierrors.Internal("no UDF code object loaded")
	}
	start := time.Now()
	defer func() {
		metrics.UDFExecutionLatency.Observe(time.Since(start).Seconds())
	}()

	execMeta := proto.UDFExecutionMetadata{
		UDFInterfaceVersion: proto.UDFInterfaceVersion,
		RequestMetadata:     metadata,
	}
	jsArgs := make([]interface{}, 0, len(args)+1)
	jsArgs = append(jsArgs, execMeta)
	for _, arg := range args {
		if len(arg.Tags) == 0 {
			jsArgs = append(jsArgs, arg.Data)
		} else {
			jsArgs = append(jsArgs, arg)
		}
	}

	if state.program == nil {
		return c.wasm.Execute(ctx, jsArgs)
	}
	return c.executeJS(ctx, state, jsArgs)
}

func (c *Client) executeJS(ctx context.Context, state *codeState, jsArgs []interface{}) (string, error) {
	timeout := c.execTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	var worker *gojaWorker
	select {
	case worker = <-c.pool:
	case <-ctx.Done():
		return "", apierrors.Internal("Timed out waiting for UDF result.")
	}
	defer func() { c.pool <- worker }()

	if worker.loaded != state {
		if err := worker.load(state); err != nil {
			return "", err
		}
	}
	if err := c.hooks.install(ctx, worker.vm); err != nil {
		return "", apierrors.Internalf("install udf hooks: %v", err)
	}

	values := make([]goja.Value, 0, len(jsArgs))
	for _, arg := range jsArgs {
		v, err := jsValue(worker.vm, arg)
		if err != nil {
			return "", apierrors.Newf(apierrors.CodeInvalidArgument, "serialize udf argument: %v", err)
		}
		values = append(values, v)
	}

	type result struct {
		value goja.Value
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := worker.handler(goja.Undefined(), values...)
		done <- result{value, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return "", apierrors.Internalf("udf execution: %v", r.err)
		}
		return renderResult(r.value)
	case <-timer.C:
	case <-ctx.Done():
	}
	worker.vm.Interrupt("execution timed out")
	<-done
	worker.vm.ClearInterrupt()
	return "", apierrors.Internal("Timed out waiting for UDF result.")
}

// load builds a fresh runtime for the code object so globals from the
// previous object cannot leak into the new one.
func (w *gojaWorker) load(state *codeState) error {
	vm := goja.New()
	if _, err := vm.RunProgram(state.program); err != nil {
		return apierrors.Newf(apierrors.CodeInvalidArgument, "load udf: %v", err)
	}
	handler, ok := goja.AssertFunction(vm.Get(state.cfg.handlerName()))
	if !ok {
		return apierrors.Newf(apierrors.CodeInvalidArgument,
			"udf handler %q is not a function", state.cfg.handlerName())
	}
	w.vm = vm
	w.handler = handler
	w.loaded = state
	return nil
}

// renderResult turns the UDF return value into the partition output
// string. Strings pass through; everything else is serialized as JSON.
func renderResult(value goja.Value) (string, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	exported := value.Export()
	if s, ok := exported.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(exported)
	if err != nil {
		return "", apierrors.Internalf("serialize udf result: %v", err)
	}
	return string(raw), nil
}
