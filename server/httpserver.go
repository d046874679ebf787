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
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/metrics"
	"github.com/oblivkv/kvserver/proto"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 70 // above the UDF execution bound
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	rpc.PUT("/v2/getvalues", h.GetValuesV2)
	rpc.POST("/v2/bhttp_getvalues", h.BinaryHttpGetValues)
	rpc.POST("/v2/oblivious_getvalues", h.ObliviousGetValues)
	rpc.GET("/v1/getvalues", h.GetValuesV1, rpc.OptArgsQuery())
	rpc.POST("/admin/remove_deleted_keys", h.CleanupDeletedKeys, rpc.OptArgsQuery())
	rpc.GET("/stats", h.Stats, rpc.OptArgsQuery())
	rpc.GET("/metrics", h.Metrics)

	return rpc.DefaultRouter
}

func (h *HttpServer) GetValuesV2(c *rpc.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}
	out, err := h.handler.GetValuesHTTP(ctx, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondWith(http.StatusOK, "application/json", out)
}

func (h *HttpServer) BinaryHttpGetValues(c *rpc.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}
	out, err := h.handler.BinaryHTTPGetValues(ctx, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondWith(http.StatusOK, "message/bhttp", out)
}

func (h *HttpServer) ObliviousGetValues(c *rpc.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}
	out, err := h.handler.ObliviousGetValues(ctx, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondWith(http.StatusOK, proto.OHTTPResponseContentType, out)
}

func (h *HttpServer) GetValuesV1(c *rpc.Context) {
	ctx := c.Request.Context()
	query := c.Request.URL.Query()
	req := &proto.V1GetValuesRequest{
		Keys:                  splitKeys(query.Get("keys")),
		RenderUrls:            splitKeys(query.Get("renderUrls")),
		AdComponentRenderUrls: splitKeys(query.Get("adComponentRenderUrls")),
		KVInternal:            splitKeys(query.Get("kvInternal")),
		Subkey:                query.Get("subkey"),
	}
	resp, err := h.handler.GetValuesV1(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(resp)
}

func (h *HttpServer) CleanupDeletedKeys(c *rpc.Context) {
	lct, err := strconv.ParseInt(c.Request.URL.Query().Get("lct"), 10, 64)
	if err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}
	h.RemoveDeletedKeys(lct)
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondJSON(struct {
		Limiter interface{} `json:"limiter"`
	}{Limiter: h.lim.Status()})
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).
		ServeHTTP(c.Writer, c.Request)
}

func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func respondError(c *rpc.Context, err error) {
	var status int
	switch apierrors.CodeOf(err) {
	case apierrors.CodeOK:
		status = http.StatusOK
	case apierrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apierrors.CodePermissionDenied:
		status = http.StatusForbidden
	case apierrors.CodeNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	c.RespondStatusData(status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
