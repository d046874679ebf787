package udf

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oblivkv/kvserver/cache"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/proto"
)

func newTestClient(t *testing.T, js string) *Client {
	c := cache.New()
	c.UpdateKeyValue("key1", "value1", 1)
	c.UpdateKeyValueSet("set1", []string{"a", "b"}, 1)
	c.UpdateKeyValueSet("set2", []string{"b", "c"}, 1)

	hooks := NewHooks()
	hooks.SetLookup(lookup.NewLocalLookup(c))
	client := NewClient(Config{Workers: 2}, hooks)
	if js != "" {
		require.NoError(t, client.SetCodeObject(CodeConfig{JS: js, LogicalCommitTime: 1, Version: 1}))
	}
	return client
}

func TestExecuteEcho(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata, arg) {
			return arg;
		}
	`)
	out, err := client.ExecuteCode(context.Background(), nil,
		[]proto.UDFArgument{{Data: "Hello, world!"}})
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", out)
}

func TestExecuteNoCodeLoaded(t *testing.T) {
	client := newTestClient(t, "")
	_, err := client.ExecuteCode(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestMetadataInjected(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata) {
			return metadata;
		}
	`)
	out, err := client.ExecuteCode(context.Background(), map[string]string{"hostname": "example.com"}, nil)
	require.NoError(t, err)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	require.Equal(t, float64(1), meta["udfInterfaceVersion"])
	require.Equal(t, map[string]interface{}{"hostname": "example.com"}, meta["requestMetadata"])
}

func TestTaglessArgumentFlattened(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata, first, second) {
			return { first: first, second: second };
		}
	`)
	out, err := client.ExecuteCode(context.Background(), nil, []proto.UDFArgument{
		{Data: []interface{}{"k1", "k2"}},
		{Tags: []string{"custom", "keys"}, Data: "k3"},
	})
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	// Tagless arguments collapse to their data.
	require.Equal(t, []interface{}{"k1", "k2"}, result["first"])
	// Tagged arguments keep the tags alongside the data.
	require.Equal(t, map[string]interface{}{
		"tags": []interface{}{"custom", "keys"},
		"data": "k3",
	}, result["second"])
}

func TestCustomHandlerName(t *testing.T) {
	hooks := NewHooks()
	client := NewClient(Config{Workers: 1}, hooks)
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS:                `function myHandler() { return "custom"; }`,
		UDFHandlerName:    "myHandler",
		LogicalCommitTime: 1,
	}))
	out, err := client.ExecuteCode(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "custom", out)
}

func TestMissingHandlerIsError(t *testing.T) {
	client := newTestClient(t, `function somethingElse() {}`)
	_, err := client.ExecuteCode(context.Background(), nil, nil)
	require.Error(t, err)
	require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err))
}

func TestLogicalCommitTimeGate(t *testing.T) {
	client := newTestClient(t, "")
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { return "v1"; }`, LogicalCommitTime: 5, Version: 1,
	}))

	// Same and older commit times are ignored without error.
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { return "stale"; }`, LogicalCommitTime: 5, Version: 2,
	}))
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { return "older"; }`, LogicalCommitTime: 4, Version: 3,
	}))
	version, lct := client.CodeVersion()
	require.Equal(t, int64(1), version)
	require.Equal(t, int64(5), lct)

	out, err := client.ExecuteCode(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "v1", out)

	// A strictly newer commit time replaces the code.
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { return "v2"; }`, LogicalCommitTime: 6, Version: 4,
	}))
	out, err = client.ExecuteCode(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "v2", out)
}

func TestExecutionTimeout(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest() {
			for (;;) {}
		}
	`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.ExecuteCode(ctx, nil, nil)
	require.Error(t, err)
	require.Equal(t, "Timed out waiting for UDF result.", err.Error())
	require.Equal(t, apierrors.CodeInternal, apierrors.CodeOf(err))

	// The worker is reusable after an interrupt.
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { return "ok"; }`, LogicalCommitTime: 2,
	}))
	out, err := client.ExecuteCode(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestExecutionTimeoutFromConfig(t *testing.T) {
	hooks := NewHooks()
	client := NewClient(Config{Workers: 1, UDFTimeoutMs: 100}, hooks)
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS: `function HandleRequest() { for (;;) {} }`, LogicalCommitTime: 1,
	}))

	_, err := client.ExecuteCode(context.Background(), nil, nil)
	require.Error(t, err)
	require.Equal(t, "Timed out waiting for UDF result.", err.Error())
	require.Equal(t, apierrors.CodeInternal, apierrors.CodeOf(err))
}

func TestInvalidWasmRejected(t *testing.T) {
	client := newTestClient(t, "")
	err := client.SetCodeObject(CodeConfig{WASM: []byte("not wasm"), LogicalCommitTime: 1})
	require.Error(t, err)
	require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err))
}

func TestGetValuesHook(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata, keys) {
			var result = getValues(keys);
			if (result.kvPairs && result.kvPairs["key1"]) {
				return result.kvPairs["key1"].value;
			}
			return "not found";
		}
	`)
	out, err := client.ExecuteCode(context.Background(), nil,
		[]proto.UDFArgument{{Data: []interface{}{"key1"}}})
	require.NoError(t, err)
	require.Equal(t, "value1", out)
}

func TestGetValuesHookRejectsNonStringList(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata, arg) {
			var result = getValues(arg);
			return result;
		}
	`)
	out, err := client.ExecuteCode(context.Background(), nil,
		[]proto.UDFArgument{{Data: "not a list"}})
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, float64(apierrors.CodeInvalidArgument), status["code"])
}

func TestRunQueryHook(t *testing.T) {
	client := newTestClient(t, `
		function HandleRequest(metadata, query) {
			return runQuery(query);
		}
	`)
	out, err := client.ExecuteCode(context.Background(), nil,
		[]proto.UDFArgument{{Data: "set1 & set2"}})
	require.NoError(t, err)
	require.Equal(t, `["b"]`, out)
}

func TestHooksWithoutBackend(t *testing.T) {
	hooks := NewHooks()
	client := NewClient(Config{Workers: 1}, hooks)
	require.NoError(t, client.SetCodeObject(CodeConfig{
		JS:                `function HandleRequest() { return getValues(["k"]); }`,
		LogicalCommitTime: 1,
	}))
	out, err := client.ExecuteCode(context.Background(), nil, nil)
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, float64(apierrors.CodeInternal), status["code"])
}
