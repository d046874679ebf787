// Copyright 2024 The OblivKV Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Hand-maintained protobuf wire structs for the two gRPC services and the
// delta file payloads. All fields are scalar or bytes, so the encoding is
// kept by hand instead of carrying a generator step; the layout matches
// kv.proto field numbers and must not change without bumping them.

package proto

import (
	"fmt"
	"sort"

	"github.com/gogo/protobuf/proto"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func appendTag(b []byte, field int, wire int) []byte {
	return appendVarint(b, uint64(field)<<3|uint64(wire))
}

func appendBytesField(b []byte, field int, data []byte) []byte {
	b = appendTag(b, field, wireBytes)
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

func appendStringField(b []byte, field int, s string) []byte {
	b = appendTag(b, field, wireBytes)
	b = appendVarint(b, uint64(len(s)))
	return append(b, s...)
}

func consumeVarint(b []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < len(b) && i < 10; i++ {
		v |= uint64(b[i]&0x7f) << (7 * uint(i))
		if b[i] < 0x80 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("proto: malformed varint")
}

func consumeBytes(b []byte) ([]byte, int, error) {
	l, n, err := consumeVarint(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-n) < l {
		return nil, 0, fmt.Errorf("proto: truncated bytes field")
	}
	return b[n : n+int(l)], n + int(l), nil
}

func skipField(b []byte, wire uint64) (int, error) {
	switch wire {
	case wireVarint:
		_, n, err := consumeVarint(b)
		return n, err
	case wireBytes:
		_, n, err := consumeBytes(b)
		return n, err
	case 5: // fixed32
		if len(b) < 4 {
			return 0, fmt.Errorf("proto: truncated fixed32")
		}
		return 4, nil
	case 1: // fixed64
		if len(b) < 8 {
			return 0, fmt.Errorf("proto: truncated fixed64")
		}
		return 8, nil
	}
	return 0, fmt.Errorf("proto: unsupported wire type %d", wire)
}

// iterate walks the top level fields of a message body.
func iterate(b []byte, f func(field int, wire uint64, body []byte) (int, error)) error {
	for len(b) > 0 {
		tag, n, err := consumeVarint(b)
		if err != nil {
			return err
		}
		b = b[n:]
		field, wire := int(tag>>3), tag&0x7
		used, err := f(field, wire, b)
		if err != nil {
			return err
		}
		if used == 0 {
			if used, err = skipField(b, wire); err != nil {
				return err
			}
		}
		b = b[used:]
	}
	return nil
}

// RawBody wraps an opaque request body.
type RawBody struct {
	Data []byte `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *RawBody) Reset()         { *m = RawBody{} }
func (m *RawBody) String() string { return fmt.Sprintf("%+v", *m) }
func (*RawBody) ProtoMessage()    {}

func (m *RawBody) Marshal() ([]byte, error) {
	var b []byte
	if len(m.Data) > 0 {
		b = appendBytesField(b, 1, m.Data)
	}
	return b, nil
}

func (m *RawBody) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if field == 1 && wire == wireBytes {
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			m.Data = append([]byte(nil), v...)
			return n, nil
		}
		return 0, nil
	})
}

// GetValuesHttpRequest carries a plaintext JSON query body.
type GetValuesHttpRequest struct {
	RawBody *RawBody `protobuf:"bytes,1,opt,name=raw_body,json=rawBody,proto3" json:"raw_body,omitempty"`
}

func (m *GetValuesHttpRequest) Reset()         { *m = GetValuesHttpRequest{} }
func (m *GetValuesHttpRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetValuesHttpRequest) ProtoMessage()    {}

func (m *GetValuesHttpRequest) GetRawBody() *RawBody { return m.RawBody }

func (m *GetValuesHttpRequest) Marshal() ([]byte, error) { return marshalRawBodyMsg(m.RawBody) }
func (m *GetValuesHttpRequest) Unmarshal(data []byte) error {
	m.Reset()
	rb, err := unmarshalRawBodyMsg(data)
	m.RawBody = rb
	return err
}

// BinaryHttpGetValuesRequest carries a BHTTP-framed query body.
type BinaryHttpGetValuesRequest struct {
	RawBody *RawBody `protobuf:"bytes,1,opt,name=raw_body,json=rawBody,proto3" json:"raw_body,omitempty"`
}

func (m *BinaryHttpGetValuesRequest) Reset()         { *m = BinaryHttpGetValuesRequest{} }
func (m *BinaryHttpGetValuesRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*BinaryHttpGetValuesRequest) ProtoMessage()    {}

func (m *BinaryHttpGetValuesRequest) GetRawBody() *RawBody { return m.RawBody }

func (m *BinaryHttpGetValuesRequest) Marshal() ([]byte, error) { return marshalRawBodyMsg(m.RawBody) }
func (m *BinaryHttpGetValuesRequest) Unmarshal(data []byte) error {
	m.Reset()
	rb, err := unmarshalRawBodyMsg(data)
	m.RawBody = rb
	return err
}

// ObliviousGetValuesRequest carries an OHTTP encapsulated query body.
type ObliviousGetValuesRequest struct {
	RawBody *RawBody `protobuf:"bytes,1,opt,name=raw_body,json=rawBody,proto3" json:"raw_body,omitempty"`
}

func (m *ObliviousGetValuesRequest) Reset()         { *m = ObliviousGetValuesRequest{} }
func (m *ObliviousGetValuesRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*ObliviousGetValuesRequest) ProtoMessage()    {}

func (m *ObliviousGetValuesRequest) GetRawBody() *RawBody { return m.RawBody }

func (m *ObliviousGetValuesRequest) Marshal() ([]byte, error) { return marshalRawBodyMsg(m.RawBody) }
func (m *ObliviousGetValuesRequest) Unmarshal(data []byte) error {
	m.Reset()
	rb, err := unmarshalRawBodyMsg(data)
	m.RawBody = rb
	return err
}

func marshalRawBodyMsg(rb *RawBody) ([]byte, error) {
	if rb == nil {
		return nil, nil
	}
	inner, err := rb.Marshal()
	if err != nil {
		return nil, err
	}
	return appendBytesField(nil, 1, inner), nil
}

func unmarshalRawBodyMsg(data []byte) (*RawBody, error) {
	var rb *RawBody
	err := iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if field == 1 && wire == wireBytes {
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			rb = new(RawBody)
			return n, rb.Unmarshal(v)
		}
		return 0, nil
	})
	return rb, err
}

// HttpBody mirrors google.api.HttpBody.
type HttpBody struct {
	ContentType string `protobuf:"bytes,1,opt,name=content_type,json=contentType,proto3" json:"content_type,omitempty"`
	Data        []byte `protobuf:"bytes,2,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *HttpBody) Reset()         { *m = HttpBody{} }
func (m *HttpBody) String() string { return fmt.Sprintf("%+v", *m) }
func (*HttpBody) ProtoMessage()    {}

func (m *HttpBody) GetContentType() string { return m.ContentType }
func (m *HttpBody) GetData() []byte        { return m.Data }

func (m *HttpBody) Marshal() ([]byte, error) {
	var b []byte
	if m.ContentType != "" {
		b = appendStringField(b, 1, m.ContentType)
	}
	if len(m.Data) > 0 {
		b = appendBytesField(b, 2, m.Data)
	}
	return b, nil
}

func (m *HttpBody) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if wire != wireBytes {
			return 0, nil
		}
		v, n, err := consumeBytes(body)
		if err != nil {
			return 0, err
		}
		switch field {
		case 1:
			m.ContentType = string(v)
		case 2:
			m.Data = append([]byte(nil), v...)
		}
		return n, nil
	})
}

// SecureLookupRequest carries the HPKE-sealed internal lookup payload.
type SecureLookupRequest struct {
	OhttpRequest []byte `protobuf:"bytes,1,opt,name=ohttp_request,json=ohttpRequest,proto3" json:"ohttp_request,omitempty"`
}

func (m *SecureLookupRequest) Reset()         { *m = SecureLookupRequest{} }
func (m *SecureLookupRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*SecureLookupRequest) ProtoMessage()    {}

func (m *SecureLookupRequest) Marshal() ([]byte, error) {
	var b []byte
	if len(m.OhttpRequest) > 0 {
		b = appendBytesField(b, 1, m.OhttpRequest)
	}
	return b, nil
}

func (m *SecureLookupRequest) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if field == 1 && wire == wireBytes {
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			m.OhttpRequest = append([]byte(nil), v...)
			return n, nil
		}
		return 0, nil
	})
}

type SecureLookupResponse struct {
	OhttpResponse []byte `protobuf:"bytes,1,opt,name=ohttp_response,json=ohttpResponse,proto3" json:"ohttp_response,omitempty"`
}

func (m *SecureLookupResponse) Reset()         { *m = SecureLookupResponse{} }
func (m *SecureLookupResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*SecureLookupResponse) ProtoMessage()    {}

func (m *SecureLookupResponse) Marshal() ([]byte, error) {
	var b []byte
	if len(m.OhttpResponse) > 0 {
		b = appendBytesField(b, 1, m.OhttpResponse)
	}
	return b, nil
}

func (m *SecureLookupResponse) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if field == 1 && wire == wireBytes {
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			m.OhttpResponse = append([]byte(nil), v...)
			return n, nil
		}
		return 0, nil
	})
}

// WireStatus is the binary hook encoding of a status.
type WireStatus struct {
	Code    int32  `protobuf:"varint,1,opt,name=code,proto3" json:"code,omitempty"`
	Message string `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *WireStatus) Reset()         { *m = WireStatus{} }
func (m *WireStatus) String() string { return fmt.Sprintf("%+v", *m) }
func (*WireStatus) ProtoMessage()    {}

func (m *WireStatus) Marshal() ([]byte, error) {
	var b []byte
	if m.Code != 0 {
		b = appendTag(b, 1, wireVarint)
		b = appendVarint(b, uint64(m.Code))
	}
	if m.Message != "" {
		b = appendStringField(b, 2, m.Message)
	}
	return b, nil
}

func (m *WireStatus) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		switch {
		case field == 1 && wire == wireVarint:
			v, n, err := consumeVarint(body)
			if err != nil {
				return 0, err
			}
			m.Code = int32(v)
			return n, nil
		case field == 2 && wire == wireBytes:
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			m.Message = string(v)
			return n, nil
		}
		return 0, nil
	})
}

// BinaryValue is one entry of a BinaryGetValuesResponse.
type BinaryValue struct {
	Data   []byte      `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
	Status *WireStatus `protobuf:"bytes,2,opt,name=status,proto3" json:"status,omitempty"`
}

func (m *BinaryValue) Reset()         { *m = BinaryValue{} }
func (m *BinaryValue) String() string { return fmt.Sprintf("%+v", *m) }
func (*BinaryValue) ProtoMessage()    {}

func (m *BinaryValue) Marshal() ([]byte, error) {
	var b []byte
	if len(m.Data) > 0 {
		b = appendBytesField(b, 1, m.Data)
	}
	if m.Status != nil {
		inner, err := m.Status.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, 2, inner)
	}
	return b, nil
}

func (m *BinaryValue) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if wire != wireBytes {
			return 0, nil
		}
		v, n, err := consumeBytes(body)
		if err != nil {
			return 0, err
		}
		switch field {
		case 1:
			m.Data = append([]byte(nil), v...)
		case 2:
			m.Status = new(WireStatus)
			if err := m.Status.Unmarshal(v); err != nil {
				return 0, err
			}
		}
		return n, nil
	})
}

// BinaryGetValuesResponse is the payload returned by the getValuesBinary
// UDF hook.
type BinaryGetValuesResponse struct {
	KvPairs map[string]*BinaryValue `protobuf:"bytes,1,rep,name=kv_pairs,json=kvPairs,proto3" json:"kv_pairs,omitempty"`
	Status  *WireStatus             `protobuf:"bytes,2,opt,name=status,proto3" json:"status,omitempty"`
}

func (m *BinaryGetValuesResponse) Reset()         { *m = BinaryGetValuesResponse{} }
func (m *BinaryGetValuesResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*BinaryGetValuesResponse) ProtoMessage()    {}

func (m *BinaryGetValuesResponse) Marshal() ([]byte, error) {
	var b []byte
	keys := make([]string, 0, len(m.KvPairs))
	for k := range m.KvPairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		if v := m.KvPairs[k]; v != nil {
			inner, err := v.Marshal()
			if err != nil {
				return nil, err
			}
			entry = appendBytesField(entry, 2, inner)
		}
		b = appendBytesField(b, 1, entry)
	}
	if m.Status != nil {
		inner, err := m.Status.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, 2, inner)
	}
	return b, nil
}

func (m *BinaryGetValuesResponse) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if wire != wireBytes {
			return 0, nil
		}
		v, n, err := consumeBytes(body)
		if err != nil {
			return 0, err
		}
		switch field {
		case 1:
			var key string
			val := new(BinaryValue)
			err := iterate(v, func(f int, w uint64, eb []byte) (int, error) {
				if w != wireBytes {
					return 0, nil
				}
				ev, en, err := consumeBytes(eb)
				if err != nil {
					return 0, err
				}
				switch f {
				case 1:
					key = string(ev)
				case 2:
					if err := val.Unmarshal(ev); err != nil {
						return 0, err
					}
				}
				return en, nil
			})
			if err != nil {
				return 0, err
			}
			if m.KvPairs == nil {
				m.KvPairs = make(map[string]*BinaryValue)
			}
			m.KvPairs[key] = val
		case 2:
			m.Status = new(WireStatus)
			if err := m.Status.Unmarshal(v); err != nil {
				return 0, err
			}
		}
		return n, nil
	})
}

// Record kinds carried by delta files.
const (
	DeltaRecordKindKVMutation   = 0
	DeltaRecordKindUDFConfig    = 1
	DeltaRecordKindShardMapping = 2
)

// Mutation types.
const (
	MutationTypeUpdate = 0
	MutationTypeDelete = 1
)

// DeltaFileMetadata is retrievable before record streaming starts.
type DeltaFileMetadata struct {
	KeyNamespace string `protobuf:"bytes,1,opt,name=key_namespace,json=keyNamespace,proto3" json:"key_namespace,omitempty"`
	ShardNum     int32  `protobuf:"varint,2,opt,name=shard_num,json=shardNum,proto3" json:"shard_num,omitempty"`
	NumShards    int32  `protobuf:"varint,3,opt,name=num_shards,json=numShards,proto3" json:"num_shards,omitempty"`
}

func (m *DeltaFileMetadata) Reset()         { *m = DeltaFileMetadata{} }
func (m *DeltaFileMetadata) String() string { return fmt.Sprintf("%+v", *m) }
func (*DeltaFileMetadata) ProtoMessage()    {}

func (m *DeltaFileMetadata) Marshal() ([]byte, error) {
	var b []byte
	if m.KeyNamespace != "" {
		b = appendStringField(b, 1, m.KeyNamespace)
	}
	if m.ShardNum != 0 {
		b = appendTag(b, 2, wireVarint)
		b = appendVarint(b, uint64(m.ShardNum))
	}
	if m.NumShards != 0 {
		b = appendTag(b, 3, wireVarint)
		b = appendVarint(b, uint64(m.NumShards))
	}
	return b, nil
}

func (m *DeltaFileMetadata) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		switch {
		case field == 1 && wire == wireBytes:
			v, n, err := consumeBytes(body)
			if err != nil {
				return 0, err
			}
			m.KeyNamespace = string(v)
			return n, nil
		case field == 2 && wire == wireVarint:
			v, n, err := consumeVarint(body)
			if err != nil {
				return 0, err
			}
			m.ShardNum = int32(v)
			return n, nil
		case field == 3 && wire == wireVarint:
			v, n, err := consumeVarint(body)
			if err != nil {
				return 0, err
			}
			m.NumShards = int32(v)
			return n, nil
		}
		return 0, nil
	})
}

// DeltaFileRecord is one framed record of a delta file. Exactly one record
// kind is meaningful per record; unrelated fields are left zero.
type DeltaFileRecord struct {
	Kind              int32    `protobuf:"varint,1,opt,name=kind,proto3" json:"kind,omitempty"`
	MutationType      int32    `protobuf:"varint,2,opt,name=mutation_type,json=mutationType,proto3" json:"mutation_type,omitempty"`
	Key               string   `protobuf:"bytes,3,opt,name=key,proto3" json:"key,omitempty"`
	Value             string   `protobuf:"bytes,4,opt,name=value,proto3" json:"value,omitempty"`
	SetValues         []string `protobuf:"bytes,5,rep,name=set_values,json=setValues,proto3" json:"set_values,omitempty"`
	LogicalCommitTime int64    `protobuf:"varint,6,opt,name=logical_commit_time,json=logicalCommitTime,proto3" json:"logical_commit_time,omitempty"`
	Js                string   `protobuf:"bytes,7,opt,name=js,proto3" json:"js,omitempty"`
	Wasm              []byte   `protobuf:"bytes,8,opt,name=wasm,proto3" json:"wasm,omitempty"`
	HandlerName       string   `protobuf:"bytes,9,opt,name=handler_name,json=handlerName,proto3" json:"handler_name,omitempty"`
	Version           uint64   `protobuf:"varint,10,opt,name=version,proto3" json:"version,omitempty"`
	ShardNum          int32    `protobuf:"varint,11,opt,name=shard_num,json=shardNum,proto3" json:"shard_num,omitempty"`
}

func (m *DeltaFileRecord) Reset()         { *m = DeltaFileRecord{} }
func (m *DeltaFileRecord) String() string { return fmt.Sprintf("%+v", *m) }
func (*DeltaFileRecord) ProtoMessage()    {}

func (m *DeltaFileRecord) Marshal() ([]byte, error) {
	var b []byte
	if m.Kind != 0 {
		b = appendTag(b, 1, wireVarint)
		b = appendVarint(b, uint64(m.Kind))
	}
	if m.MutationType != 0 {
		b = appendTag(b, 2, wireVarint)
		b = appendVarint(b, uint64(m.MutationType))
	}
	if m.Key != "" {
		b = appendStringField(b, 3, m.Key)
	}
	if m.Value != "" {
		b = appendStringField(b, 4, m.Value)
	}
	for _, v := range m.SetValues {
		b = appendStringField(b, 5, v)
	}
	if m.LogicalCommitTime != 0 {
		b = appendTag(b, 6, wireVarint)
		b = appendVarint(b, uint64(m.LogicalCommitTime))
	}
	if m.Js != "" {
		b = appendStringField(b, 7, m.Js)
	}
	if len(m.Wasm) > 0 {
		b = appendBytesField(b, 8, m.Wasm)
	}
	if m.HandlerName != "" {
		b = appendStringField(b, 9, m.HandlerName)
	}
	if m.Version != 0 {
		b = appendTag(b, 10, wireVarint)
		b = appendVarint(b, m.Version)
	}
	if m.ShardNum != 0 {
		b = appendTag(b, 11, wireVarint)
		b = appendVarint(b, uint64(m.ShardNum))
	}
	return b, nil
}

func (m *DeltaFileRecord) Unmarshal(data []byte) error {
	m.Reset()
	return iterate(data, func(field int, wire uint64, body []byte) (int, error) {
		if wire == wireVarint {
			v, n, err := consumeVarint(body)
			if err != nil {
				return 0, err
			}
			switch field {
			case 1:
				m.Kind = int32(v)
			case 2:
				m.MutationType = int32(v)
			case 6:
				m.LogicalCommitTime = int64(v)
			case 10:
				m.Version = v
			case 11:
				m.ShardNum = int32(v)
			default:
				return 0, nil
			}
			return n, nil
		}
		if wire != wireBytes {
			return 0, nil
		}
		v, n, err := consumeBytes(body)
		if err != nil {
			return 0, err
		}
		switch field {
		case 3:
			m.Key = string(v)
		case 4:
			m.Value = string(v)
		case 5:
			m.SetValues = append(m.SetValues, string(v))
		case 7:
			m.Js = string(v)
		case 8:
			m.Wasm = append([]byte(nil), v...)
		case 9:
			m.HandlerName = string(v)
		}
		return n, nil
	})
}

// Every wire message must satisfy proto.Message so the grpc codec can
// route it through gogo's Marshal/Unmarshal.
var _ = []proto.Message{
	(*RawBody)(nil), (*GetValuesHttpRequest)(nil), (*BinaryHttpGetValuesRequest)(nil),
	(*ObliviousGetValuesRequest)(nil), (*HttpBody)(nil), (*SecureLookupRequest)(nil),
	(*SecureLookupResponse)(nil), (*WireStatus)(nil), (*BinaryValue)(nil),
	(*BinaryGetValuesResponse)(nil), (*DeltaFileMetadata)(nil), (*DeltaFileRecord)(nil),
}
