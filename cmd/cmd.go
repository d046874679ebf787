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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/server"
	"github.com/oblivkv/kvserver/sharding"
	"github.com/oblivkv/kvserver/util"
)

// Config service config
type Config struct {
	server.Config

	// Keys are the HPKE key seeds; empty means the fixed development
	// key pair.
	Keys []hpkekeys.KeySeed `json:"keys"`

	// Peers is the static shard-to-address map for sharded
	// deployments without an instance inventory service.
	Peers []sharding.StaticInstance `json:"peers"`

	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "server.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal("load config:", err)
	}

	initConfig(cfg)
	registerLogLevel()
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	keys, err := loadKeys(cfg)
	if err != nil {
		log.Fatal("load hpke keys:", err)
	}
	var instances sharding.InstanceClient
	if len(cfg.Peers) > 0 {
		instances = sharding.NewStaticInstanceClient(cfg.Peers)
	}

	kvServer, err := server.NewServer(cfg.Config, keys, instances)
	if err != nil {
		log.Fatal("create server:", err)
	}
	if err := kvServer.Start(context.Background()); err != nil {
		log.Fatal("start server:", err)
	}

	// start http server
	httpServer := server.NewHttpServer(kvServer)
	httpServer.Serve(":" + strconv.Itoa(cfg.HTTPPort))

	// start grpc servers
	grpcServer := server.NewRPCServer(kvServer)
	if err := grpcServer.Serve(); err != nil {
		log.Fatal("start grpc servers:", err)
	}

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	// stop all server
	grpcServer.Stop()
	httpServer.Stop()
	kvServer.Close()
}

func loadKeys(cfg *Config) (hpkekeys.KeyFetcherManager, error) {
	if len(cfg.Keys) == 0 {
		log.Info("no key seeds configured, serving the development key pair")
		return hpkekeys.NewTestManager(), nil
	}
	return hpkekeys.NewManagerFromSeeds(cfg.Keys)
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}

func modifyOpenFiles() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)

	if rLimit.Cur >= 102400 && rLimit.Max >= 102400 {
		return
	}

	rLimit.Cur = 1024000
	rLimit.Max = 1024000

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("setting rlimit faield: %s", err)
	}
	err = syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)
}

func initConfig(cfg *Config) {
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
	if cfg.NumShards > 1 {
		if len(cfg.Peers) == 0 {
			log.Fatalf("sharded deployment needs a peer list")
		}
		addr, err := util.GetLocalIP()
		if err != nil {
			log.Fatalf("can't get local ip address: %s", err)
		}
		log.Infof("serving shard %d of %d at %s", cfg.ShardNum, cfg.NumShards, addr)
	}
}
