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

package proto

import (
	"context"
	"fmt"

	gogoproto "github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// wireCodec replaces the default grpc proto codec so the hand-maintained
// messages in this package go over the wire without the protoreflect
// runtime. gogo's Marshal and Unmarshal dispatch to each message's
// hand-written Marshal/Unmarshal methods.
type wireCodec struct{}

func (wireCodec) Name() string { return "proto" }

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(gogoproto.Message)
	if !ok {
		return nil, fmt.Errorf("proto: message %T is not a proto.Message", v)
	}
	return gogoproto.Marshal(m)
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(gogoproto.Message)
	if !ok {
		return fmt.Errorf("proto: message %T is not a proto.Message", v)
	}
	return gogoproto.Unmarshal(data, m)
}

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// KeyValueServiceServer is the public query API.
type KeyValueServiceServer interface {
	GetValuesHttp(context.Context, *GetValuesHttpRequest) (*HttpBody, error)
	BinaryHttpGetValues(context.Context, *BinaryHttpGetValuesRequest) (*HttpBody, error)
	ObliviousGetValues(context.Context, *ObliviousGetValuesRequest) (*HttpBody, error)
}

func RegisterKeyValueServiceServer(s *grpc.Server, srv KeyValueServiceServer) {
	s.RegisterService(&keyValueServiceDesc, srv)
}

func kvGetValuesHttpHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetValuesHttpRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyValueServiceServer).GetValuesHttp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kvserver.v2.KeyValueService/GetValuesHttp"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyValueServiceServer).GetValuesHttp(ctx, req.(*GetValuesHttpRequest))
	})
}

func kvBinaryHttpGetValuesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BinaryHttpGetValuesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyValueServiceServer).BinaryHttpGetValues(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kvserver.v2.KeyValueService/BinaryHttpGetValues"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyValueServiceServer).BinaryHttpGetValues(ctx, req.(*BinaryHttpGetValuesRequest))
	})
}

func kvObliviousGetValuesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ObliviousGetValuesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KeyValueServiceServer).ObliviousGetValues(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kvserver.v2.KeyValueService/ObliviousGetValues"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KeyValueServiceServer).ObliviousGetValues(ctx, req.(*ObliviousGetValuesRequest))
	})
}

var keyValueServiceDesc = grpc.ServiceDesc{
	ServiceName: "kvserver.v2.KeyValueService",
	HandlerType: (*KeyValueServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetValuesHttp", Handler: kvGetValuesHttpHandler},
		{MethodName: "BinaryHttpGetValues", Handler: kvBinaryHttpGetValuesHandler},
		{MethodName: "ObliviousGetValues", Handler: kvObliviousGetValuesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kv.proto",
}

type KeyValueServiceClient interface {
	GetValuesHttp(ctx context.Context, in *GetValuesHttpRequest, opts ...grpc.CallOption) (*HttpBody, error)
	BinaryHttpGetValues(ctx context.Context, in *BinaryHttpGetValuesRequest, opts ...grpc.CallOption) (*HttpBody, error)
	ObliviousGetValues(ctx context.Context, in *ObliviousGetValuesRequest, opts ...grpc.CallOption) (*HttpBody, error)
}

type keyValueServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKeyValueServiceClient(cc grpc.ClientConnInterface) KeyValueServiceClient {
	return &keyValueServiceClient{cc}
}

func (c *keyValueServiceClient) GetValuesHttp(ctx context.Context, in *GetValuesHttpRequest, opts ...grpc.CallOption) (*HttpBody, error) {
	out := new(HttpBody)
	if err := c.cc.Invoke(ctx, "/kvserver.v2.KeyValueService/GetValuesHttp", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *keyValueServiceClient) BinaryHttpGetValues(ctx context.Context, in *BinaryHttpGetValuesRequest, opts ...grpc.CallOption) (*HttpBody, error) {
	out := new(HttpBody)
	if err := c.cc.Invoke(ctx, "/kvserver.v2.KeyValueService/BinaryHttpGetValues", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *keyValueServiceClient) ObliviousGetValues(ctx context.Context, in *ObliviousGetValuesRequest, opts ...grpc.CallOption) (*HttpBody, error) {
	out := new(HttpBody)
	if err := c.cc.Invoke(ctx, "/kvserver.v2.KeyValueService/ObliviousGetValues", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LookupServiceServer is the internal shard-to-shard lookup API.
type LookupServiceServer interface {
	SecureLookup(context.Context, *SecureLookupRequest) (*SecureLookupResponse, error)
}

func RegisterLookupServiceServer(s *grpc.Server, srv LookupServiceServer) {
	s.RegisterService(&lookupServiceDesc, srv)
}

func lookupSecureLookupHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SecureLookupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServiceServer).SecureLookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kvserver.internal.LookupService/SecureLookup"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServiceServer).SecureLookup(ctx, req.(*SecureLookupRequest))
	})
}

var lookupServiceDesc = grpc.ServiceDesc{
	ServiceName: "kvserver.internal.LookupService",
	HandlerType: (*LookupServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SecureLookup", Handler: lookupSecureLookupHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lookup.proto",
}

type LookupServiceClient interface {
	SecureLookup(ctx context.Context, in *SecureLookupRequest, opts ...grpc.CallOption) (*SecureLookupResponse, error)
}

type lookupServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLookupServiceClient(cc grpc.ClientConnInterface) LookupServiceClient {
	return &lookupServiceClient{cc}
}

func (c *lookupServiceClient) SecureLookup(ctx context.Context, in *SecureLookupRequest, opts ...grpc.CallOption) (*SecureLookupResponse, error) {
	out := new(SecureLookupResponse)
	if err := c.cc.Invoke(ctx, "/kvserver.internal.LookupService/SecureLookup", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
