package dataloading

import (
	"context"
	"io"
	"sort"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/util/limiter"
)

// RecordCallback receives every record of a delta file. The concurrent
// reader invokes it from multiple goroutines.
type RecordCallback func(rec *proto.DeltaFileRecord) error

// StreamRecordReader reads a delta file front to back on one
// goroutine.
type StreamRecordReader struct {
	r io.Reader
}

func NewStreamRecordReader(r io.Reader) *StreamRecordReader {
	return &StreamRecordReader{r: r}
}

// ReadStreamRecords parses the header and feeds every record to
// callback in file order. Callback failures are per-record soft
// errors: they are logged and the read continues.
func (s *StreamRecordReader) ReadStreamRecords(ctx context.Context, callback RecordCallback) (*proto.DeltaFileMetadata, error) {
	meta, dataStart, err := ReadHeader(s.r)
	if err != nil {
		return nil, err
	}
	span := trace.SpanFromContextSafe(ctx)
	scanner := newFrameScanner(s.r, dataStart)
	for {
		if err := ctx.Err(); err != nil {
			return meta, err
		}
		payload, frameStart, err := scanner.next()
		if err == io.EOF {
			return meta, nil
		}
		if err != nil {
			return meta, err
		}
		rec := new(proto.DeltaFileRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return meta, apierrors.Newf(apierrors.CodeInvalidArgument, "parse record: %v", err)
		}
		if err := callback(rec); err != nil {
			span.Errorf("record callback at byte=%d: %v", frameStart, err)
		}
	}
}

// ConcurrentStreamRecordReader splits a delta file into byte ranges and
// reads them in parallel. Each worker seeks to its range start, scans
// to the next sync marker, and processes every frame that begins inside
// its range; afterwards the frame offsets are checked for continuity so
// a scan bug or torn file cannot silently drop records.
type ConcurrentStreamRecordReader struct {
	ra      io.ReaderAt
	size    int64
	workers int
	lim     limiter.Limiter
}

type ConcurrentReaderOption func(*ConcurrentStreamRecordReader)

// WithWorkers overrides the worker count.
func WithWorkers(n int) ConcurrentReaderOption {
	return func(r *ConcurrentStreamRecordReader) { r.workers = n }
}

// WithLimiter applies a bandwidth limit to every worker's reads.
func WithLimiter(lim limiter.Limiter) ConcurrentReaderOption {
	return func(r *ConcurrentStreamRecordReader) { r.lim = lim }
}

func NewConcurrentStreamRecordReader(ra io.ReaderAt, size int64, opts ...ConcurrentReaderOption) *ConcurrentStreamRecordReader {
	r := &ConcurrentStreamRecordReader{ra: ra, size: size, workers: 2}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// byteRange is one worker's slice of the file, both bounds inclusive.
type byteRange struct {
	begin int64
	end   int64
}

// buildShards splits [dataStart, size) into ranges of
// min(S, max(ceil(S/workers), MinShardBytes)) bytes.
func buildShards(dataStart, size int64, workers int) ([]byteRange, error) {
	dataSize := size - dataStart
	if dataSize < 0 || workers <= 0 {
		return nil, apierrors.Internal("Failed to generate shards")
	}
	if dataSize == 0 {
		return nil, nil
	}
	shardSize := (dataSize + int64(workers) - 1) / int64(workers)
	if shardSize < MinShardBytes {
		shardSize = MinShardBytes
	}
	if shardSize > dataSize {
		shardSize = dataSize
	}
	var shards []byteRange
	for begin := dataStart; begin < size; begin += shardSize + 1 {
		end := begin + shardSize
		if end > size {
			end = size
		}
		shards = append(shards, byteRange{begin: begin, end: end})
	}
	if len(shards) == 0 || shards[len(shards)-1].end != size {
		return nil, apierrors.Internal("Failed to generate shards")
	}
	return shards, nil
}

type shardScanResult struct {
	firstFrame int64 // offset of the first processed frame, -1 if none
	nextFrame  int64 // offset right after the last processed frame
}

// ReadStreamRecords reads all records. callback must be safe for
// concurrent use.
func (c *ConcurrentStreamRecordReader) ReadStreamRecords(ctx context.Context, callback RecordCallback) (*proto.DeltaFileMetadata, error) {
	meta, dataStart, err := ReadHeader(io.NewSectionReader(c.ra, 0, c.size))
	if err != nil {
		return nil, err
	}
	shards, err := buildShards(dataStart, c.size, c.workers)
	if err != nil {
		return meta, err
	}

	results := make([]shardScanResult, len(shards))
	wg, ctx := errgroup.WithContext(ctx)
	for i := range shards {
		i := i
		wg.Go(func() error {
			res, err := c.readShard(ctx, shards[i], callback)
			results[i] = res
			return err
		})
	}
	if err := wg.Wait(); err != nil {
		return meta, err
	}
	return meta, checkContinuity(dataStart, results)
}

func (c *ConcurrentStreamRecordReader) readShard(ctx context.Context, shard byteRange, callback RecordCallback) (shardScanResult, error) {
	span := trace.SpanFromContextSafe(ctx)
	res := shardScanResult{firstFrame: -1, nextFrame: -1}
	var src io.Reader = io.NewSectionReader(c.ra, shard.begin, c.size-shard.begin)
	if c.lim != nil {
		src = c.lim.Reader(ctx, src)
	}
	scanner := newFrameScanner(src, shard.begin)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		payload, frameStart, err := scanner.next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if frameStart > shard.end {
			// First frame of the next shard's range.
			return res, nil
		}
		if res.nextFrame >= 0 && frameStart != res.nextFrame {
			return res, apierrors.Newf(apierrors.CodeInternal,
				"Skipped some records between byte=%d and byte=%d.", res.nextFrame, frameStart)
		}
		if res.firstFrame < 0 {
			res.firstFrame = frameStart
		}
		res.nextFrame = scanner.offset
		rec := new(proto.DeltaFileRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return res, apierrors.Newf(apierrors.CodeInvalidArgument, "parse record: %v", err)
		}
		if err := callback(rec); err != nil {
			// Soft error; later records must still be delivered.
			span.Errorf("record callback at byte=%d: %v", frameStart, err)
		}
	}
}

// checkContinuity verifies the shard scans covered the file without a
// gap between one shard's last frame and the next shard's first.
func checkContinuity(dataStart int64, results []shardScanResult) error {
	nonEmpty := results[:0:0]
	for _, res := range results {
		if res.firstFrame >= 0 {
			nonEmpty = append(nonEmpty, res)
		}
	}
	sort.Slice(nonEmpty, func(i, j int) bool {
		return nonEmpty[i].firstFrame < nonEmpty[j].firstFrame
	})
	expected := dataStart
	for _, res := range nonEmpty {
		if res.firstFrame != expected {
			return apierrors.Newf(apierrors.CodeInternal,
				"Skipped some records between byte=%d and byte=%d.", expected, res.firstFrame)
		}
		expected = res.nextFrame
	}
	return nil
}
