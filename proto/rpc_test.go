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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireCodecRoundTrip(t *testing.T) {
	codec := wireCodec{}
	require.Equal(t, "proto", codec.Name())

	in := &SecureLookupRequest{OhttpRequest: []byte{0x01, 0x02, 0x03}}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	out := &SecureLookupRequest{OhttpRequest: []byte("stale")}
	require.NoError(t, codec.Unmarshal(data, out))
	require.Equal(t, in.OhttpRequest, out.OhttpRequest)

	body := &HttpBody{ContentType: "message/ohttp-res", Data: []byte("payload")}
	data, err = codec.Marshal(body)
	require.NoError(t, err)
	decoded := new(HttpBody)
	require.NoError(t, codec.Unmarshal(data, decoded))
	require.Equal(t, body, decoded)
}

func TestWireCodecRejectsNonMessage(t *testing.T) {
	codec := wireCodec{}
	_, err := codec.Marshal("not a message")
	require.Error(t, err)
	require.Error(t, codec.Unmarshal(nil, "not a message"))
}
