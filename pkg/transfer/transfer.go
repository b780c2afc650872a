// Package transfer implements the per-uid transfer lifecycle: claiming a
// uid for a new file, pairing a sender with a receiver, and streaming bytes
// between them through the Store's chunk queue.
package transfer

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/internal/telemetry"
	"github.com/marmos91/transit/pkg/bufpool"
	"github.com/marmos91/transit/pkg/filemeta"
	"github.com/marmos91/transit/pkg/metrics"
	"github.com/marmos91/transit/pkg/store"
	"github.com/marmos91/transit/pkg/transiterr"
)

// eventClientConnected is the sticky event a receiver fires once it has
// claimed the receiver slot, unblocking the sender's WaitForClientConnected.
const eventClientConnected = "client_connected"

// OnError is called when a transfer fails partway through a stream, giving
// the protocol adapter a chance to notify the still-connected peer before
// the connection is torn down. It is never called for the receiver-gone
// case detected mid-upload: that case stops the loop quietly because the
// receiver that would have cared is already gone.
type OnError func(ctx context.Context, err error)

// Config configures transfer-level timeouts, mirroring
// pkg/config.TransferConfig.
type Config struct {
	ChunkSize       int
	QueueOpTimeout  time.Duration
	EventTTL        time.Duration
	FinalizeTimeout time.Duration
}

// Coordinator runs transfer lifecycles against a Store.
type Coordinator struct {
	store *store.Store
	cfg   Config
}

// New constructs a Coordinator.
func New(s *store.Store, cfg Config) *Coordinator {
	return &Coordinator{store: s, cfg: cfg}
}

// Create claims uid for a new transfer, persisting the sender's declared
// file metadata. It returns a *transiterr.TransitError with CodeConflict if
// uid is already in use.
func (c *Coordinator) Create(ctx context.Context, uid string, meta *filemeta.FileMetadata) error {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferCreate, uid, telemetry.Filename(meta.Name), telemetry.Size(uint64(meta.Size)))
	defer span.End()

	if err := c.store.SetMetadata(ctx, uid, meta.Name, meta.Size, meta.Type); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	metrics.RecordTransferStarted()
	logger.InfoCtx(ctx, "transfer created", logger.HandleHex(uid), logger.Filename(meta.Name), logger.Size(uint64(meta.Size)))
	return nil
}

// Get returns the metadata previously claimed for uid, or a CodeNotFound
// error if no transfer is pending.
func (c *Coordinator) Get(ctx context.Context, uid string) (*filemeta.FileMetadata, error) {
	name, size, contentType, err := c.store.GetMetadata(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &filemeta.FileMetadata{Name: name, Size: size, Type: contentType}, nil
}

// ConnectReceiver claims the single receiver slot for uid. It returns
// CodeConflict if a receiver already claimed it, or CodeNotFound if uid has
// no pending transfer. Claiming the slot does not by itself unblock the
// sender — callers must also call SetClientConnected once they're ready to
// start draining the queue.
func (c *Coordinator) ConnectReceiver(ctx context.Context, uid string) error {
	if _, err := c.store.GetMetadata(ctx, uid); err != nil {
		return err
	}
	return c.store.SetReceiverConnected(ctx, uid)
}

// IsReceiverConnected reports whether a receiver has already claimed uid,
// letting a browser-facing interstitial page show accurate status.
func (c *Coordinator) IsReceiverConnected(ctx context.Context, uid string) (bool, error) {
	return c.store.IsReceiverConnected(ctx, uid)
}

// SetClientConnected fires the sticky client_connected event, unblocking any
// sender parked in WaitForClientConnected.
func (c *Coordinator) SetClientConnected(ctx context.Context, uid string) error {
	return c.store.SetEvent(ctx, uid, eventClientConnected)
}

// WaitForClientConnected blocks until a receiver has signaled readiness for
// uid, or returns a CodeTimeout error if none does within timeout. Callers
// use this to hold an HTTP/WS sender connection open until there is someone
// to stream to.
func (c *Coordinator) WaitForClientConnected(ctx context.Context, uid string, timeout time.Duration) error {
	return c.store.WaitForEvent(ctx, uid, eventClientConnected, timeout)
}

// CollectUpload reads r to EOF in ChunkSize pieces, pushing each onto uid's
// queue, and finishes with the DONE sentinel on a clean EOF whose total
// matches declaredSize, or the DEAD sentinel if the total differs, r fails
// or the caller's context is canceled.
// onError, if non-nil, is invoked before propagating a failure so the HTTP
// or WS handler can notify the sender. If the receiver has already given up
// (SetInterrupted observed mid-loop), CollectUpload stops quietly: pushing
// DEAD would only matter to a receiver that no longer cares.
func (c *Coordinator) CollectUpload(ctx context.Context, uid string, r io.Reader, declaredSize int64, onError OnError) error {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferUpload, uid)
	defer span.End()

	buf := bufpool.Get(c.cfg.ChunkSize)
	defer bufpool.Put(buf)
	var total int64

	for {
		interrupted, checkErr := c.store.IsInterrupted(ctx, uid)
		if checkErr != nil {
			wrapped := transiterr.NewInternalError(uid, "check interrupted flag: %v", checkErr)
			c.fail(ctx, uid, wrapped, onError)
			return wrapped
		}
		if interrupted {
			logger.InfoCtx(ctx, "upload stopped: receiver interrupted", logger.HandleHex(uid), logger.Size(uint64(total)))
			return nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			// PutChunk hands chunk to the store synchronously (LPush
			// serializes it onto the wire before returning), so it's safe
			// to return to the pool as soon as the call completes.
			chunk := bufpool.Get(n)
			copy(chunk, buf[:n])
			putErr := c.store.PutChunk(ctx, uid, chunk)
			bufpool.Put(chunk)
			if putErr != nil {
				if transiterr.IsTimeoutError(putErr) && onError != nil {
					onError(ctx, transiterr.NewTimeoutError(uid, "Timeout during upload"))
				}
				c.fail(ctx, uid, putErr, onError)
				return putErr
			}
			total += int64(n)
			metrics.RecordBytesTransferred("upload", int64(n))
		}

		if err == io.EOF {
			if total != declaredSize {
				truncErr := transiterr.NewTruncatedError(uid, "received %d of %d declared bytes", total, declaredSize)
				if putErr := c.store.PutDead(ctx, uid); putErr != nil {
					logger.ErrorCtx(ctx, "failed to push DEAD sentinel after truncated upload", logger.HandleHex(uid), logger.Err(putErr))
				}
				telemetry.RecordError(ctx, truncErr)
				logger.WarnCtx(ctx, "upload truncated", logger.HandleHex(uid), logger.Err(truncErr))
				if onError != nil {
					onError(ctx, truncErr)
				}
				return truncErr
			}
			if doneErr := c.store.PutDone(ctx, uid); doneErr != nil {
				c.fail(ctx, uid, doneErr, onError)
				return doneErr
			}
			logger.InfoCtx(ctx, "upload complete", logger.HandleHex(uid), logger.Size(uint64(total)))
			// Pause briefly before returning so the consumer has a chance
			// to drain the DONE sentinel before this connection tears down.
			time.Sleep(time.Second)
			return nil
		}
		if err != nil {
			wrapped := transiterr.NewPeerGoneError(uid, "sender disconnected: %v", err)
			if putErr := c.store.PutDead(ctx, uid); putErr != nil {
				logger.ErrorCtx(ctx, "failed to push DEAD sentinel after read failure", logger.HandleHex(uid), logger.Err(putErr))
			}
			c.fail(ctx, uid, wrapped, onError)
			return wrapped
		}
	}
}

// SupplyDownload streams uid's queued chunks to w until it observes the
// DONE sentinel. It returns a CodePeerGone error if it observes DEAD, and a
// CodeTruncated error if DONE arrives before the declared size was reached.
// It marks the transfer completed on success.
func (c *Coordinator) SupplyDownload(ctx context.Context, uid string, declaredSize int64, w io.Writer, onError OnError) (int64, error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferDownload, uid)
	defer span.End()

	var total int64
	for {
		chunk, err := c.store.TakeChunk(ctx, uid, c.cfg.QueueOpTimeout)
		if err != nil {
			if transiterr.IsTimeoutError(err) && onError != nil {
				onError(ctx, transiterr.NewTimeoutError(uid, "Timeout during download"))
			}
			c.fail(ctx, uid, err, onError)
			return total, err
		}

		if chunk.Dead {
			peerErr := transiterr.NewPeerGoneError(uid, "sender disconnected")
			c.fail(ctx, uid, peerErr, onError)
			return total, peerErr
		}
		if chunk.Done {
			if total < declaredSize {
				truncErr := transiterr.NewTruncatedError(uid, "received %d of %d declared bytes", total, declaredSize)
				c.fail(ctx, uid, truncErr, onError)
				return total, truncErr
			}
			if err := c.store.SetCompleted(ctx, uid); err != nil {
				return total, err
			}
			metrics.RecordTransferEnded()
			logger.InfoCtx(ctx, "download complete", logger.HandleHex(uid), logger.Size(uint64(total)))
			return total, nil
		}

		n, writeErr := w.Write(chunk.Data)
		total += int64(n)
		metrics.RecordBytesTransferred("download", int64(n))
		if writeErr != nil {
			wrapped := transiterr.NewPeerGoneError(uid, "write to receiver failed: %v", writeErr)
			if interruptErr := c.store.SetInterrupted(ctx, uid); interruptErr != nil {
				logger.ErrorCtx(ctx, "failed to mark transfer interrupted", logger.HandleHex(uid), logger.Err(interruptErr))
			}
			logger.WarnCtx(ctx, "download interrupted by receiver", logger.HandleHex(uid))
			return total, wrapped
		}
	}
}

// FinalizeDownload runs after a download handler returns, whether it
// succeeded or failed: if the consumer stopped short of a terminal sentinel
// and the interrupt flag isn't set yet, it sets it so a still-streaming
// producer notices on its next loop iteration, then waits briefly for
// signals to settle before running Cleanup. It is the Go analogue of the
// original's BackgroundTask(transfer.finalize_download).
func (c *Coordinator) FinalizeDownload(ctx context.Context, uid string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FinalizeTimeout)
	defer cancel()

	interrupted, err := c.store.IsInterrupted(ctx, uid)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to check interrupted flag during finalize", logger.HandleHex(uid), logger.Err(err))
	}
	completed, err := c.store.IsCompleted(ctx, uid)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to check completed flag during finalize", logger.HandleHex(uid), logger.Err(err))
	}
	if !interrupted && !completed {
		if err := c.store.SetInterrupted(ctx, uid); err != nil {
			logger.ErrorCtx(ctx, "failed to mark transfer interrupted during finalize", logger.HandleHex(uid), logger.Err(err))
		}
		time.Sleep(2 * time.Second)
	}

	if err := c.store.Cleanup(ctx, uid); err != nil {
		metrics.RecordCleanup("failed")
		logger.ErrorCtx(ctx, "cleanup failed", logger.HandleHex(uid), logger.Err(err))
		return err
	}
	metrics.RecordCleanup("performed")
	return nil
}

func (c *Coordinator) fail(ctx context.Context, uid string, err error, onError OnError) {
	telemetry.RecordError(ctx, err)
	metrics.RecordTransferError(transiterr.CodeOf(err).String())
	logger.WarnCtx(ctx, "transfer failed", logger.HandleHex(uid), logger.Err(err))
	if interruptErr := c.store.SetInterrupted(ctx, uid); interruptErr != nil {
		logger.ErrorCtx(ctx, "failed to mark transfer interrupted", logger.HandleHex(uid), logger.Err(interruptErr))
	}
	if onError != nil {
		onError(ctx, err)
	}
}
