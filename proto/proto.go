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

const (
	ReqIdKey = "req-id"

	// UDFInterfaceVersion is injected into the metadata of every UDF
	// invocation.
	UDFInterfaceVersion = 1

	// OHTTPResponseContentType is set on oblivious responses.
	OHTTPResponseContentType = "message/ohttp-res"
)

type (
	ShardID      = int32
	LogicalTime  = int64
	RouteVersion = uint64
)
