package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// FrameConsumer does heavy per-frame work unrelated to focus analysis
// (e.g. shipping previews to an overlay renderer).
type FrameConsumer interface {
	Consume(ctx context.Context, frame domain.CapturedFrame) error
}

// ProcessorStats reports frame processor counters.
type ProcessorStats struct {
	Processed uint64
	Dropped   uint64
	Failed    uint64
}

// FrameProcessor runs a FrameConsumer with at most one frame in flight.
// A frame submitted while the previous one is still being consumed is dropped,
// so large buffers never pile up behind a slow consumer.
type FrameProcessor struct {
	consumer FrameConsumer
	logger   *zap.Logger

	inFlight  atomic.Bool
	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	wg        sync.WaitGroup
}

// NewFrameProcessor creates a single-in-flight processor around consumer.
func NewFrameProcessor(consumer FrameConsumer, logger *zap.Logger) *FrameProcessor {
	return &FrameProcessor{
		consumer: consumer,
		logger:   logger.Named("frames"),
	}
}

// Submit starts consuming frame unless a previous frame is still in flight.
// Returns false when the frame was dropped.
func (p *FrameProcessor) Submit(ctx context.Context, frame domain.CapturedFrame) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		n := p.dropped.Add(1)
		p.logger.Debug("frame dropped, consumer busy",
			zap.Uint64("seq", frame.SequenceNumber),
			zap.Uint64("dropped_total", n))
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		if err := p.consumer.Consume(ctx, frame); err != nil {
			p.failed.Add(1)
			p.logger.Debug("frame consumer failed", zap.Uint64("seq", frame.SequenceNumber), zap.Error(err))
			return
		}
		p.processed.Add(1)
	}()
	return true
}

// Wait blocks until the in-flight frame, if any, has been consumed.
func (p *FrameProcessor) Wait() {
	p.wg.Wait()
}

// Stats returns the processor counters.
func (p *FrameProcessor) Stats() ProcessorStats {
	return ProcessorStats{
		Processed: p.processed.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}
