// Package udf executes user-defined functions against the serving
// data. JavaScript code runs in a pool of embedded runtimes; a code
// object carrying only WASM runs as a WASI command module.
package udf

import "time"

const (
	// DefaultHandlerName is invoked when a code object does not name
	// its entry point.
	DefaultHandlerName = "HandleRequest"

	// DefaultCodeLoadTimeout bounds compiling and installing a new
	// code object.
	DefaultCodeLoadTimeout = 1 * time.Second

	// DefaultExecutionTimeout bounds one UDF invocation unless the
	// request context is tighter.
	DefaultExecutionTimeout = 60 * time.Second
)

type Config struct {
	// Workers is the number of JS runtimes; defaults to GOMAXPROCS.
	Workers int `json:"workers"`

	// CodeLoadTimeoutMs bounds SetCodeObject; defaults to 1000.
	CodeLoadTimeoutMs int64 `json:"code_load_timeout_ms"`

	// UDFTimeoutMs bounds one invocation; defaults to 60000.
	UDFTimeoutMs int64 `json:"udf_timeout_ms"`
}

func (cfg *Config) loadTimeout() time.Duration {
	if cfg.CodeLoadTimeoutMs <= 0 {
		return DefaultCodeLoadTimeout
	}
	return time.Duration(cfg.CodeLoadTimeoutMs) * time.Millisecond
}

func (cfg *Config) executionTimeout() time.Duration {
	if cfg.UDFTimeoutMs <= 0 {
		return DefaultExecutionTimeout
	}
	return time.Duration(cfg.UDFTimeoutMs) * time.Millisecond
}

// CodeConfig is one versioned UDF code object. JS takes precedence; a
// config with only WASM runs on the WASM engine.
type CodeConfig struct {
	JS                string
	WASM              []byte
	UDFHandlerName    string
	LogicalCommitTime int64
	Version           int64
}

func (c *CodeConfig) handlerName() string {
	if c.UDFHandlerName == "" {
		return DefaultHandlerName
	}
	return c.UDFHandlerName
}
