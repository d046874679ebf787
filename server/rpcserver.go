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

package server

import (
	"context"
	"fmt"
	"net"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/metrics"
	"github.com/oblivkv/kvserver/proto"
)

// RPCServer exposes the public query API and the internal
// shard-to-shard lookup API, each on its own listener.
type RPCServer struct {
	*Server

	public   *grpc.Server
	internal *grpc.Server
}

func NewRPCServer(server *Server) *RPCServer {
	rs := &RPCServer{Server: server}
	rs.public = grpc.NewServer(grpc.ChainUnaryInterceptor(
		rs.unaryInterceptorWithTracer,
		metrics.GRPCMetrics.UnaryServerInterceptor(),
	))
	proto.RegisterKeyValueServiceServer(rs.public, rs)
	rs.internal = grpc.NewServer(grpc.ChainUnaryInterceptor(
		rs.unaryInterceptorWithTracer,
		metrics.GRPCMetrics.UnaryServerInterceptor(),
	))
	proto.RegisterLookupServiceServer(rs.internal, rs)
	return rs
}

// Serve starts both listeners and returns.
func (r *RPCServer) Serve() error {
	publicLis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return err
	}
	internalLis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.LookupPort))
	if err != nil {
		publicLis.Close()
		return err
	}
	go func() {
		if err := r.public.Serve(publicLis); err != nil {
			log.Fatal("public grpc server exits:", err)
		}
	}()
	go func() {
		if err := r.internal.Serve(internalLis); err != nil {
			log.Fatal("internal grpc server exits:", err)
		}
	}()
	log.Info("grpc servers are running at:", r.cfg.GRPCPort, r.cfg.LookupPort)
	return nil
}

func (r *RPCServer) Stop() {
	r.public.GracefulStop()
	r.internal.GracefulStop()
}

// Public query API

func (r *RPCServer) GetValuesHttp(ctx context.Context, req *proto.GetValuesHttpRequest) (*proto.HttpBody, error) {
	body, err := r.handler.GetValuesHTTP(ctx, rawBody(req.RawBody))
	if err != nil {
		return nil, rpcError(err)
	}
	return &proto.HttpBody{ContentType: "application/json", Data: body}, nil
}

func (r *RPCServer) BinaryHttpGetValues(ctx context.Context, req *proto.BinaryHttpGetValuesRequest) (*proto.HttpBody, error) {
	body, err := r.handler.BinaryHTTPGetValues(ctx, rawBody(req.RawBody))
	if err != nil {
		return nil, rpcError(err)
	}
	return &proto.HttpBody{ContentType: "message/bhttp", Data: body}, nil
}

func (r *RPCServer) ObliviousGetValues(ctx context.Context, req *proto.ObliviousGetValuesRequest) (*proto.HttpBody, error) {
	body, err := r.handler.ObliviousGetValues(ctx, rawBody(req.RawBody))
	if err != nil {
		return nil, rpcError(err)
	}
	return &proto.HttpBody{ContentType: proto.OHTTPResponseContentType, Data: body}, nil
}

// Internal lookup API

func (r *RPCServer) SecureLookup(ctx context.Context, req *proto.SecureLookupRequest) (*proto.SecureLookupResponse, error) {
	span := trace.SpanFromContextSafe(ctx)
	plaintext, reqCtx, err := r.gateway.DecapsulateRequest(req.OhttpRequest)
	if err != nil {
		span.Warnf("decapsulate lookup request: %v", err)
		return nil, rpcError(err)
	}
	lookupReq, err := proto.ParseInternalLookupRequest(plaintext)
	if err != nil {
		return nil, rpcError(apierrors.Newf(apierrors.CodeInvalidArgument, "parse lookup request: %v", err))
	}

	var resp *proto.InternalLookupResponse
	if lookupReq.LookupSets {
		resp, err = r.local.GetKeyValueSet(ctx, lookupReq.Keys)
	} else {
		resp, err = r.local.GetKeyValues(ctx, lookupReq.Keys)
	}
	if err != nil {
		return nil, rpcError(err)
	}
	payload, err := resp.Serialize()
	if err != nil {
		return nil, rpcError(apierrors.Internalf("serialize lookup response: %v", err))
	}
	sealed, err := reqCtx.EncapsulateResponse(lookup.PadPayload(payload))
	if err != nil {
		return nil, rpcError(err)
	}
	return &proto.SecureLookupResponse{OhttpResponse: sealed}, nil
}

// util functions

func rawBody(b *proto.RawBody) []byte {
	if b == nil {
		return nil
	}
	return b.Data
}

// rpcError maps the error taxonomy onto grpc statuses; the code values
// line up by construction.
func rpcError(err error) error {
	return status.Error(codes.Code(apierrors.CodeOf(err)), err.Error())
}

func (r *RPCServer) unaryInterceptorWithTracer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if reqID := md[proto.ReqIdKey]; len(reqID) > 0 {
			_, ctx = trace.StartSpanFromContextWithTraceID(ctx, info.FullMethod, reqID[0])
			return handler(ctx, req)
		}
	}
	_, ctx = trace.StartSpanFromContext(ctx, info.FullMethod)
	return handler(ctx, req)
}
