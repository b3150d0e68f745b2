// Package framequeue provides a bounded queue with drop-oldest overflow.
//
// The queue sits between a producer that must never block (a capture loop) and a
// consumer that may be slower than the producer (inference). When the queue is
// full, Publish discards the single oldest queued item and enqueues the new one,
// so the consumer always sees the freshest data.
//
// # Core Philosophy
//
// "Drop the stale frame, never the fresh one."
//
// # Basic Usage
//
//	q := framequeue.New[types.Frame](2)
//
//	// producer
//	q.Publish(frame) // never blocks
//	q.Close()        // wakes the consumer
//
//	// consumer
//	for frame := range q.C() {
//	    process(frame)
//	}
//
// # Thread Safety
//
// Publish and Close may be called from any goroutine. The receive side is a plain
// channel and may be drained by any number of consumers, although the pipeline
// uses exactly one.
package framequeue
