// Package sync drives the offline exchange: unpack a binary package,
// run its "to" and "from" blocks through the batch processor in that
// order, and pack the results with any staged attachments.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fieldsync-server/internal/metrics"
	"fieldsync-server/internal/model"
	"fieldsync-server/internal/rpc"
	"fieldsync-server/internal/syncpkg"
)

// Stages reported while an exchange is in flight. Purely observational;
// they never affect control flow.
type Stage string

const (
	StageTo      Stage = "PROCESSING_TO"
	StageFrom    Stage = "PROCESSING_FROM"
	StagePackage Stage = "PROCESSING_CREATE_PACKAGE"
)

// Notifier receives stage transitions tagged with the transaction id and
// the time spent so far.
type Notifier func(stage Stage, tid string, elapsed time.Duration)

type Processor struct {
	Dispatcher *rpc.Dispatcher
	Store      *Store
	Logger     *slog.Logger
	// Compress gzips outbound packages.
	Compress bool
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Exchange processes one raw package and returns the outbound bytes.
// The "to" block runs to completion before the "from" block starts, so a
// client upload can never race ahead of server-side corrections carried
// in the same package. A decode failure fails the whole exchange.
func (p *Processor) Exchange(ctx context.Context, sess *rpc.Session, raw []byte, notify Notifier) ([]byte, error) {
	started := time.Now()
	pkg, err := syncpkg.Decode(raw)
	if err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, fmt.Errorf("read package: %w", err)
	}
	tid := pkg.Meta.ID
	log := p.logger().With("tid", tid, "user", sess.Principal.Login)
	log.Debug("package accepted", "attachments", len(pkg.Attachments))

	emit := func(stage Stage) {
		if notify != nil {
			notify(stage, tid, time.Since(started))
		}
	}

	var toResults, fromResults []model.Result

	var toItems []model.Item
	hasTo, err := pkg.Block("to", &toItems)
	if err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, err
	}
	if hasTo {
		emit(StageTo)
		toResults, _ = p.Dispatcher.ProcessBatch(ctx, sess, toItems)
		log.Debug("to block processed", "items", len(toItems), "elapsed", time.Since(started))
	}

	var fromItems []model.Item
	hasFrom, err := pkg.Block("from", &fromItems)
	if err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, err
	}
	if hasFrom {
		emit(StageFrom)
		fromResults, _ = p.Dispatcher.ProcessBatch(ctx, sess, fromItems)
		log.Debug("from block processed", "items", len(fromItems), "elapsed", time.Since(started))
	}

	emit(StagePackage)
	out := syncpkg.New(pkg.Meta)
	if toResults == nil {
		toResults = []model.Result{}
	}
	if fromResults == nil {
		fromResults = []model.Result{}
	}
	if err := out.SetBlock("to", toResults); err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, err
	}
	if err := out.SetBlock("from", fromResults); err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, err
	}
	for _, staged := range sess.StagedFiles {
		out.AddAttachment(staged.Name, staged.Link, staged.Data)
	}
	sess.StagedFiles = nil

	bytes, err := syncpkg.Encode(out, p.Compress)
	if err != nil {
		metrics.ObserveSyncPackage(false)
		return nil, err
	}
	log.Debug("package processed", "elapsed", time.Since(started))
	metrics.ObserveSyncPackage(true)
	return bytes, nil
}

// ProcessStored runs the exchange for a previously uploaded package:
// read <tid>.bkp, process, persist <tid>.pkg. The outbound bytes hit
// disk before the caller signals completion, so a crash in between is
// recoverable by re-reading the stored package on reconnect.
func (p *Processor) ProcessStored(ctx context.Context, sess *rpc.Session, tid string, notify Notifier) error {
	raw, err := p.Store.ReadInbound(tid)
	if err != nil {
		return fmt.Errorf("read stored package %s: %w", tid, err)
	}
	out, err := p.Exchange(ctx, sess, raw, notify)
	if err != nil {
		return err
	}
	if err := p.Store.WriteOutbound(tid, out); err != nil {
		return fmt.Errorf("persist package %s: %w", tid, err)
	}
	return nil
}
