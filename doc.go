/*
 *
 * Copyright 2024 The OblivKV Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# KVServer: a sharded, privacy-preserving key-value query server

KVServer answers partitioned query requests by running a user-defined
function (UDF) per partition against an in-memory key-value cache. The
cache can be sharded across peer nodes; lookups fan out to the shard that
owns each key. Clients reach the server over three transports that
terminate at the same handler:

  - plaintext JSON
  - Binary HTTP (RFC 9292)
  - Oblivious HTTP (RFC 9458), end-to-end encrypted with HPKE

## Data Model

* Key -> value or ordered string set, each versioned by a writer-supplied
  logical commit time. Last-writer-wins per key.

* Delta files - record-framed ingestion artifacts carrying key-value
  mutations, UDF code updates, and shard mapping records. Files are read
  concurrently in byte-range shards with exactly-once record delivery.

* UDF code object - JavaScript (plus optional WASM) installed process-wide,
  replaced only by a strictly newer logical commit time.

## Architecture

Every node owns one shard of the key space. A query is decapsulated, split
into partitions, and each partition is executed in the UDF sandbox. The UDF
reaches back into the data plane through synchronous host callbacks
(getValues, getValuesBinary, runQuery) which route keys to the local cache
or to peer shards over an HPKE-encrypted internal lookup service.

Endpoints are served via gRPC and a RESTful API.

## Building Blocks

* gRPC
* goja / wazero
* CIRCL (HPKE)
* Prometheus

*/

package kvserver
