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

import "encoding/json"

// GetValuesRequest is the decoded body of a v2 query. The same structure
// arrives over all three transports; only the envelope differs.
type GetValuesRequest struct {
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Partitions []RequestPartition `json:"partitions,omitempty"`
}

// RequestPartition is one unit of UDF execution within a request.
type RequestPartition struct {
	ID                 int32         `json:"id"`
	CompressionGroupID int32         `json:"compressionGroupId,omitempty"`
	Arguments          []UDFArgument `json:"arguments,omitempty"`
}

// UDFArgument carries a set of tags and opaque data. Data may be a string,
// a list of strings, a struct, or a nested list.
type UDFArgument struct {
	Tags []string    `json:"tags,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

type GetValuesResponse struct {
	SinglePartition *ResponsePartition  `json:"singlePartition,omitempty"`
	Partitions      []ResponsePartition `json:"partitions,omitempty"`
}

type ResponsePartition struct {
	ID           int32   `json:"id"`
	StringOutput string  `json:"stringOutput,omitempty"`
	Status       *Status `json:"status,omitempty"`
}

type Status struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// UDFExecutionMetadata is serialized as the first argument of every UDF
// invocation.
type UDFExecutionMetadata struct {
	UDFInterfaceVersion int32             `json:"udfInterfaceVersion"`
	RequestMetadata     map[string]string `json:"requestMetadata,omitempty"`
}

// InternalLookupRequest is the plaintext form of the payload carried by
// the encrypted internal lookup hop between shards.
type InternalLookupRequest struct {
	Keys       []string `json:"keys,omitempty"`
	LookupSets bool     `json:"lookupSets,omitempty"`
}

type InternalLookupResponse struct {
	KVPairs map[string]SingleLookupResult `json:"kvPairs,omitempty"`
}

// SingleLookupResult holds exactly one of a scalar value, a key set, or a
// per-key status.
type SingleLookupResult struct {
	Value        *string       `json:"value,omitempty"`
	KeysetValues *KeysetValues `json:"keysetValues,omitempty"`
	Status       *Status       `json:"status,omitempty"`
}

type KeysetValues struct {
	Values []string `json:"values,omitempty"`
}

func StringValue(v string) *string { return &v }

func (r *InternalLookupRequest) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

func ParseInternalLookupRequest(data []byte) (*InternalLookupRequest, error) {
	req := new(InternalLookupRequest)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *InternalLookupResponse) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

func ParseInternalLookupResponse(data []byte) (*InternalLookupResponse, error) {
	resp := new(InternalLookupResponse)
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// V1 request model, kept for the legacy adapter only.
type V1GetValuesRequest struct {
	Keys                  []string `json:"keys,omitempty"`
	RenderUrls            []string `json:"renderUrls,omitempty"`
	AdComponentRenderUrls []string `json:"adComponentRenderUrls,omitempty"`
	KVInternal            []string `json:"kvInternal,omitempty"`
	Subkey                string   `json:"subkey,omitempty"`
}

type V1GetValuesResponse struct {
	Keys                  map[string]interface{} `json:"keys,omitempty"`
	RenderUrls            map[string]interface{} `json:"renderUrls,omitempty"`
	AdComponentRenderUrls map[string]interface{} `json:"adComponentRenderUrls,omitempty"`
	KVInternal            map[string]interface{} `json:"kvInternal,omitempty"`
}
