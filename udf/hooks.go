package udf

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/dop251/goja"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/proto"
)

// Hooks exposes data lookups to running UDFs. The lookup backend is
// attached after construction because the sharded lookup comes up
// later than the UDF runtime during server start.
type Hooks struct {
	lookup atomic.Value // lookup.Lookup
}

func NewHooks() *Hooks { return &Hooks{} }

// SetLookup attaches the backend all subsequent hook calls use.
func (h *Hooks) SetLookup(l lookup.Lookup) {
	h.lookup.Store(l)
}

func (h *Hooks) backend() (lookup.Lookup, error) {
	l, _ := h.lookup.Load().(lookup.Lookup)
	if l == nil {
		return nil, apierrors.Internal("lookup backend not initialized")
	}
	return l, nil
}

// install registers the hook functions into a runtime for the duration
// of one UDF invocation, binding them to the request context.
func (h *Hooks) install(ctx context.Context, vm *goja.Runtime) error {
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"getValues":       h.getValuesFunc(ctx, vm),
		"getValuesBinary": h.getValuesBinaryFunc(ctx, vm),
		"runQuery":        h.runQueryFunc(ctx, vm),
		"logMessage":      h.logMessageFunc(ctx),
	} {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func statusValue(vm *goja.Runtime, code apierrors.Code, msg string) goja.Value {
	return vm.ToValue(map[string]interface{}{
		"code":    int32(code),
		"message": msg,
	})
}

func stringKeys(arg goja.Value) ([]string, bool) {
	exported, ok := arg.Export().([]interface{})
	if !ok {
		return nil, false
	}
	keys := make([]string, 0, len(exported))
	for _, v := range exported {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		keys = append(keys, s)
	}
	return keys, true
}

// jsValue converts v through JSON so the runtime sees the wire field
// names instead of Go struct names.
func jsValue(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain interface{}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	return vm.ToValue(plain), nil
}

func (h *Hooks) getValuesFunc(ctx context.Context, vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		keys, ok := stringKeys(call.Argument(0))
		if !ok {
			return statusValue(vm, apierrors.CodeInvalidArgument, "getValues input must be a list of strings")
		}
		backend, err := h.backend()
		if err != nil {
			return statusValue(vm, apierrors.CodeOf(err), err.Error())
		}
		resp, err := backend.GetKeyValues(ctx, keys)
		if err != nil {
			return statusValue(vm, apierrors.CodeOf(err), err.Error())
		}
		value, err := jsValue(vm, resp)
		if err != nil {
			return statusValue(vm, apierrors.CodeInternal, err.Error())
		}
		return value
	}
}

// getValuesBinaryFunc is the binary twin of getValues: the result is a
// serialized BinaryGetValuesResponse handed to the UDF as an
// ArrayBuffer.
func (h *Hooks) getValuesBinaryFunc(ctx context.Context, vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		out := &proto.BinaryGetValuesResponse{}
		keys, ok := stringKeys(call.Argument(0))
		if !ok {
			out.Status = &proto.WireStatus{
				Code:    int32(apierrors.CodeInvalidArgument),
				Message: "getValuesBinary input must be a list of strings",
			}
			return binaryValue(vm, out)
		}
		backend, err := h.backend()
		if err != nil {
			out.Status = &proto.WireStatus{Code: int32(apierrors.CodeOf(err)), Message: err.Error()}
			return binaryValue(vm, out)
		}
		resp, err := backend.GetKeyValues(ctx, keys)
		if err != nil {
			out.Status = &proto.WireStatus{Code: int32(apierrors.CodeOf(err)), Message: err.Error()}
			return binaryValue(vm, out)
		}
		out.KvPairs = make(map[string]*proto.BinaryValue, len(resp.KVPairs))
		for key, result := range resp.KVPairs {
			bv := &proto.BinaryValue{}
			if result.Value != nil {
				bv.Data = []byte(*result.Value)
			} else if result.Status != nil {
				bv.Status = &proto.WireStatus{Code: result.Status.Code, Message: result.Status.Message}
			}
			out.KvPairs[key] = bv
		}
		return binaryValue(vm, out)
	}
}

func binaryValue(vm *goja.Runtime, resp *proto.BinaryGetValuesResponse) goja.Value {
	data, err := resp.Marshal()
	if err != nil {
		return goja.Null()
	}
	return vm.ToValue(vm.NewArrayBuffer(data))
}

func (h *Hooks) runQueryFunc(ctx context.Context, vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		query, ok := call.Argument(0).Export().(string)
		if !ok {
			return statusValue(vm, apierrors.CodeInvalidArgument, "runQuery input must be a string")
		}
		backend, err := h.backend()
		if err != nil {
			return statusValue(vm, apierrors.CodeOf(err), err.Error())
		}
		elements, err := backend.RunQuery(ctx, query)
		if err != nil {
			return statusValue(vm, apierrors.CodeOf(err), err.Error())
		}
		if elements == nil {
			elements = []string{}
		}
		return vm.ToValue(elements)
	}
}

func (h *Hooks) logMessageFunc(ctx context.Context) func(goja.FunctionCall) goja.Value {
	span := trace.SpanFromContextSafe(ctx)
	return func(call goja.FunctionCall) goja.Value {
		span.Info("udf:", call.Argument(0).String())
		return goja.Undefined()
	}
}
