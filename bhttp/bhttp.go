// Package bhttp encodes and decodes binary HTTP messages (RFC 9292) in
// the known-length form. Only the subset the query service exchanges is
// implemented: single request and single final response, no
// informational responses on encode, trailers accepted and dropped.
package bhttp

import (
	apierrors "github.com/oblivkv/kvserver/errors"
)

// Framing indicators for known-length messages.
const (
	framingKnownLengthRequest  = 0
	framingKnownLengthResponse = 1
)

// Field is one header field.
type Field struct {
	Name  string
	Value string
}

// Request is a decoded binary HTTP request.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    []Field
	Body      []byte
}

// Response is a binary HTTP response to encode or decode.
type Response struct {
	StatusCode int
	Header     []Field
	Body       []byte
}

// appendVarint appends v in the QUIC variable-length encoding.
func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(b, byte(v))
	case v < 1<<14:
		return append(b, byte(v>>8)|0x40, byte(v))
	case v < 1<<30:
		return append(b, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(b, byte(v>>56)|0xc0, byte(v>>48), byte(v>>40),
			byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	if len(b) == 0 {
		return 0, nil, apierrors.InvalidArgument("truncated varint")
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, nil, apierrors.InvalidArgument("truncated varint")
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, b[length:], nil
}

func appendLengthPrefixed(b, data []byte) []byte {
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

func consumeLengthPrefixed(b []byte) ([]byte, []byte, error) {
	n, rest, err := consumeVarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, apierrors.InvalidArgument("truncated length-prefixed field")
	}
	return rest[:n], rest[n:], nil
}

func appendFieldSection(b []byte, fields []Field) []byte {
	var section []byte
	for _, f := range fields {
		section = appendLengthPrefixed(section, []byte(f.Name))
		section = appendLengthPrefixed(section, []byte(f.Value))
	}
	return appendLengthPrefixed(b, section)
}

func consumeFieldSection(b []byte) ([]Field, []byte, error) {
	section, rest, err := consumeLengthPrefixed(b)
	if err != nil {
		return nil, nil, err
	}
	var fields []Field
	for len(section) > 0 {
		name, r, err := consumeLengthPrefixed(section)
		if err != nil {
			return nil, nil, err
		}
		value, r, err := consumeLengthPrefixed(r)
		if err != nil {
			return nil, nil, err
		}
		fields = append(fields, Field{Name: string(name), Value: string(value)})
		section = r
	}
	return fields, rest, nil
}

// EncodeRequest serializes req as a known-length binary HTTP request.
func EncodeRequest(req *Request) []byte {
	b := appendVarint(nil, framingKnownLengthRequest)
	b = appendLengthPrefixed(b, []byte(req.Method))
	b = appendLengthPrefixed(b, []byte(req.Scheme))
	b = appendLengthPrefixed(b, []byte(req.Authority))
	b = appendLengthPrefixed(b, []byte(req.Path))
	b = appendFieldSection(b, req.Header)
	b = appendLengthPrefixed(b, req.Body)
	b = appendFieldSection(b, nil) // trailer section
	return b
}

// DecodeRequest parses a known-length binary HTTP request. Trailing
// padding bytes are accepted; trailers are parsed and dropped.
func DecodeRequest(data []byte) (*Request, error) {
	framing, rest, err := consumeVarint(data)
	if err != nil {
		return nil, err
	}
	if framing != framingKnownLengthRequest {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"unsupported framing indicator %d", framing)
	}
	req := &Request{}
	var field []byte
	if field, rest, err = consumeLengthPrefixed(rest); err != nil {
		return nil, err
	}
	req.Method = string(field)
	if field, rest, err = consumeLengthPrefixed(rest); err != nil {
		return nil, err
	}
	req.Scheme = string(field)
	if field, rest, err = consumeLengthPrefixed(rest); err != nil {
		return nil, err
	}
	req.Authority = string(field)
	if field, rest, err = consumeLengthPrefixed(rest); err != nil {
		return nil, err
	}
	req.Path = string(field)
	if req.Header, rest, err = consumeFieldSection(rest); err != nil {
		return nil, err
	}
	// Content and trailers may be truncated away entirely.
	if len(rest) > 0 {
		if req.Body, rest, err = consumeLengthPrefixed(rest); err != nil {
			return nil, err
		}
	}
	if len(rest) > 0 {
		if _, rest, err = consumeFieldSection(rest); err != nil {
			return nil, err
		}
	}
	return req, checkPadding(rest)
}

// EncodeResponse serializes resp as a known-length binary HTTP
// response with no informational responses.
func EncodeResponse(resp *Response) []byte {
	b := appendVarint(nil, framingKnownLengthResponse)
	b = appendVarint(b, uint64(resp.StatusCode))
	b = appendFieldSection(b, resp.Header)
	b = appendLengthPrefixed(b, resp.Body)
	b = appendFieldSection(b, nil) // trailer section
	return b
}

// DecodeResponse parses a known-length binary HTTP response, skipping
// any informational (1xx) responses before the final one.
func DecodeResponse(data []byte) (*Response, error) {
	framing, rest, err := consumeVarint(data)
	if err != nil {
		return nil, err
	}
	if framing != framingKnownLengthResponse {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"unsupported framing indicator %d", framing)
	}
	var status uint64
	for {
		if status, rest, err = consumeVarint(rest); err != nil {
			return nil, err
		}
		if status < 100 || status > 599 {
			return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
				"invalid status code %d", status)
		}
		if status >= 200 {
			break
		}
		// Informational response carries its own field section.
		if _, rest, err = consumeFieldSection(rest); err != nil {
			return nil, err
		}
	}
	resp := &Response{StatusCode: int(status)}
	if resp.Header, rest, err = consumeFieldSection(rest); err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		if resp.Body, rest, err = consumeLengthPrefixed(rest); err != nil {
			return nil, err
		}
	}
	if len(rest) > 0 {
		if _, rest, err = consumeFieldSection(rest); err != nil {
			return nil, err
		}
	}
	return resp, checkPadding(rest)
}

func checkPadding(b []byte) error {
	for _, c := range b {
		if c != 0 {
			return apierrors.InvalidArgument("non-zero padding")
		}
	}
	return nil
}
