package fileset

import (
	"sync"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// writeJob is one queued chunk landing, mirroring the teacher's recvFile
// write-queue entry. A job carrying only barrier is not a write: run()
// closes it once every job enqueued before it has landed, giving Drain a
// way to wait for the queue to empty without stopping the goroutine.
type writeJob struct {
	chunk   Chunk
	data    []byte
	barrier chan struct{}
}

// ChunkWriter serialises every chunk write through a single goroutine
// reading off a bounded channel, the same shape as the teacher's recvFile
// async write queue, generalized from whole-file writes to chunk-addressed
// writes. It owns the session's BitVector and sets a bit only after the
// write to the FileSet has actually landed.
type ChunkWriter struct {
	set  FileSet
	bits *bitset.BitVector

	jobs    chan writeJob
	done    chan struct{}
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// NewChunkWriter starts the writer goroutine. queueDepth bounds how many
// received-but-unwritten chunks may be buffered before Submit blocks.
func NewChunkWriter(set FileSet, bits *bitset.BitVector, queueDepth int) *ChunkWriter {
	w := &ChunkWriter{
		set:  set,
		bits: bits,
		jobs: make(chan writeJob, queueDepth),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *ChunkWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.jobs:
			w.handle(job)
		case <-w.done:
			// Finish whatever is already queued before exiting, same as
			// the old range-over-jobs drain, but without ever closing
			// jobs out from under a concurrent Submit/Drain.
			for {
				select {
				case job := <-w.jobs:
					w.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (w *ChunkWriter) handle(job writeJob) {
	if job.barrier != nil {
		close(job.barrier)
		return
	}
	if err := w.set.Write(job.chunk, job.data); err != nil {
		w.recordErr(wavecasterr.New(wavecasterr.KindTransportLost, "ChunkWriter.run", err))
		return
	}
	w.bits.Set(job.chunk.SegmentID)
}

func (w *ChunkWriter) recordErr(err error) {
	w.errOnce.Do(func() { w.err = err })
}

// Submit enqueues a chunk for writing. It does not block on the write
// itself, only on queue capacity.
func (w *ChunkWriter) Submit(chunk Chunk, data []byte) {
	select {
	case w.jobs <- writeJob{chunk: chunk, data: data}:
	case <-w.done:
	}
}

// Drain blocks until every chunk submitted before this call has been
// written, without stopping the writer goroutine — used at a wave
// boundary (spec.md §4.4 "await writer drain") before reporting the full
// bit-vector back to the server.
func (w *ChunkWriter) Drain() {
	barrier := make(chan struct{})
	select {
	case w.jobs <- writeJob{barrier: barrier}:
		<-barrier
	case <-w.done:
	}
}

// Close drains the queue, stops the writer goroutine, and returns the
// first write error encountered, if any. jobs is never closed — only
// done is — so a Submit or Drain racing a concurrent Close sends on a
// channel that is merely unread, never one that panics.
func (w *ChunkWriter) Close() error {
	close(w.done)
	w.wg.Wait()
	return w.err
}
