// Package pipeline runs the per-frame detection path: dwell accounting,
// identity reconciliation, violation decision and evidence capture.
package pipeline

import (
	"image"
	"sync"
	"time"

	"parkwatch/internal/domain/parking"
)

// Frame is one unit of tracker output handed to the processor.
type Frame struct {
	Time       time.Time
	Image      image.Image
	Detections []parking.Detection
}

// FrameQueue buffers frames between the capture binding and the processor.
// When the producer outpaces the consumer the oldest buffered frame is
// dropped; the producer never blocks.
type FrameQueue struct {
	ch chan Frame

	mu      sync.Mutex
	dropped int64
}

func NewFrameQueue(size int) *FrameQueue {
	if size <= 0 {
		size = 1
	}
	return &FrameQueue{ch: make(chan Frame, size)}
}

// Push enqueues a frame, evicting the oldest buffered frame if the queue is
// full. It reports whether an eviction happened.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	for {
		select {
		case q.ch <- f:
			return evicted
		default:
		}
		select {
		case <-q.ch:
			q.dropped++
			evicted = true
		default:
		}
	}
}

// Frames exposes the consumer side of the queue.
func (q *FrameQueue) Frames() <-chan Frame {
	return q.ch
}

// Dropped returns how many frames were evicted so far.
func (q *FrameQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
