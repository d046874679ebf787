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

// Package limiter bounds the concurrency and bandwidth of delta file
// ingestion so that bulk loads do not starve the serving path.
package limiter

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type (
	Limiter interface {
		// Acquire reserves one ingestion slot; callers must Release it.
		Acquire() error
		Release()
		// Reader wraps r with the configured byte rate limit.
		Reader(ctx context.Context, r io.Reader) io.Reader
		SetConcurrency(value uint32)
		SetMBPS(mbps int)
		Status() Status
	}

	Config struct {
		Concurrency int `json:"concurrency"`
		MBPS        int `json:"mbps"`
	}

	Status struct {
		Config  Config
		Running int
		WaitMs  int
	}

	reader struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.Reader
	}

	limiter struct {
		config     Config
		countLimit *countLimit
		rateReader *rate.Limiter
	}
)

const mb = 1 << 20

func NewLimiter(cfg Config) Limiter {
	lim := &limiter{config: cfg}
	if cfg.Concurrency > 0 {
		lim.countLimit = newCountLimit(cfg.Concurrency)
	}
	if cfg.MBPS > 0 {
		lim.rateReader = rate.NewLimiter(rate.Limit(cfg.MBPS*mb), cfg.MBPS*mb)
	}
	return lim
}

func (r *reader) Read(p []byte) (n int, err error) {
	if err = r.rate.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.underlying.Read(p)
}

func (lim *limiter) Acquire() error {
	if lim.countLimit != nil {
		return lim.countLimit.acquire()
	}
	return nil
}

func (lim *limiter) Release() {
	if lim.countLimit != nil {
		lim.countLimit.release()
	}
}

func (lim *limiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if lim.rateReader != nil {
		return &reader{ctx: ctx, rate: lim.rateReader, underlying: r}
	}
	return r
}

func (lim *limiter) SetConcurrency(value uint32) {
	if lim.countLimit == nil {
		lim.countLimit = newCountLimit(int(value))
	} else {
		lim.countLimit.setLimit(value)
	}
	lim.config.Concurrency = int(value)
}

func (lim *limiter) SetMBPS(mbps int) {
	if lim.rateReader == nil {
		lim.rateReader = rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb)
	} else {
		lim.rateReader.SetLimit(rate.Limit(mbps * mb))
		lim.rateReader.SetBurst(mbps * mb)
	}
	lim.config.MBPS = mbps
}

func (lim *limiter) Status() Status {
	st := Status{Config: lim.config}
	if lim.countLimit != nil {
		st.Running = lim.countLimit.running()
	}
	if lim.rateReader != nil {
		st.WaitMs = rateWait(lim.rateReader)
	}
	return st
}

func rateWait(r *rate.Limiter) int {
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

func newCountLimit(n int) *countLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return errors.New("limit exceeded")
	}
	return nil
}

func (l *countLimit) release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) setLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
