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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oblivkv/kvserver/dataloading"
	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
)

func writeDeltaFile(t *testing.T, path string, records []*proto.DeltaFileRecord) {
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := dataloading.NewDeltaWriter(f, &proto.DeltaFileMetadata{KeyNamespace: "keys"})
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(rec))
	}
}

func TestNewServerValidatesShardRange(t *testing.T) {
	keys := hpkekeys.NewTestManager()

	_, err := NewServer(Config{ShardNum: 2, NumShards: 2}, keys, nil)
	require.Error(t, err)

	// Sharded deployments need an instance source.
	_, err = NewServer(Config{ShardNum: 0, NumShards: 2}, keys, nil)
	require.Error(t, err)

	_, err = NewServer(Config{}, keys, nil)
	require.NoError(t, err)
}

func TestLoadDeltaDir(t *testing.T) {
	dir := t.TempDir()
	writeDeltaFile(t, filepath.Join(dir, "DELTA_01.delta"), []*proto.DeltaFileRecord{
		{Kind: proto.DeltaRecordKindKVMutation, Key: "key1", Value: "stale", LogicalCommitTime: 1},
		{Kind: proto.DeltaRecordKindKVMutation, Key: "key2", Value: "value2", LogicalCommitTime: 1},
	})
	writeDeltaFile(t, filepath.Join(dir, "DELTA_02.delta"), []*proto.DeltaFileRecord{
		{Kind: proto.DeltaRecordKindKVMutation, Key: "key1", Value: "value1", LogicalCommitTime: 2},
		{
			Kind: proto.DeltaRecordKindKVMutation, MutationType: proto.MutationTypeDelete,
			Key: "key2", LogicalCommitTime: 2,
		},
		{
			Kind: proto.DeltaRecordKindUDFConfig,
			Js:   `function HandleRequest() { return "ok"; }`,
			Version: 7, LogicalCommitTime: 2,
		},
	})
	// Files without the suffix are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("not a delta"), 0o644))

	s, err := NewServer(Config{DeltaDir: dir}, hpkekeys.NewTestManager(), nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))

	resp, err := s.local.GetKeyValues(context.Background(), []string{"key1", "key2"})
	require.NoError(t, err)
	require.Equal(t, "value1", *resp.KVPairs["key1"].Value)
	require.EqualValues(t, 5, resp.KVPairs["key2"].Status.Code)

	version, lct := s.udf.CodeVersion()
	require.EqualValues(t, 7, version)
	require.EqualValues(t, 2, lct)
}

func TestSecureLookup(t *testing.T) {
	keys := hpkekeys.NewTestManager()
	s, err := NewServer(Config{}, keys, nil)
	require.NoError(t, err)
	defer s.Close()
	s.cache.UpdateKeyValue("key1", "value1", 1)

	rs := NewRPCServer(s)
	pub, err := keys.PublicKey()
	require.NoError(t, err)
	client := ohttp.NewClient(pub)

	payload, err := (&proto.InternalLookupRequest{Keys: []string{"key1", "missing"}}).Serialize()
	require.NoError(t, err)
	sealed, reqCtx, err := client.EncapsulateRequest(payload)
	require.NoError(t, err)

	out, err := rs.SecureLookup(context.Background(), &proto.SecureLookupRequest{OhttpRequest: sealed})
	require.NoError(t, err)

	raw, err := reqCtx.DecapsulateResponse(out.OhttpResponse)
	require.NoError(t, err)
	resp, err := proto.ParseInternalLookupResponse(raw)
	require.NoError(t, err)
	require.Equal(t, "value1", *resp.KVPairs["key1"].Value)
	require.EqualValues(t, 5, resp.KVPairs["missing"].Status.Code)
	require.Equal(t, "Key not found", resp.KVPairs["missing"].Status.Message)
}

func TestSecureLookupGarbage(t *testing.T) {
	s, err := NewServer(Config{}, hpkekeys.NewTestManager(), nil)
	require.NoError(t, err)
	defer s.Close()

	rs := NewRPCServer(s)
	_, err = rs.SecureLookup(context.Background(), &proto.SecureLookupRequest{
		OhttpRequest: []byte{0x01, 0x02},
	})
	require.Error(t, err)
}
