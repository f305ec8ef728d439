package rpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"fieldsync-server/internal/access"
	"fieldsync-server/internal/audit"
	"fieldsync-server/internal/metrics"
	"fieldsync-server/internal/model"
)

// AccessEntity is the permission table itself; any mutation of it resets
// the cache so no principal keeps a stale grant.
const AccessEntity = "pd_accesses"

type Dispatcher struct {
	Registry   *Registry
	Cache      *access.Cache
	Authorizer *access.Authorizer
	Audit      *audit.Buffer
	Host       string
	AppName    string
	Logger     *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Call dispatches one already-authorized item. Provider errors never
// escape: they become failed result envelopes.
func (d *Dispatcher) Call(ctx context.Context, sess *Session, item *model.Item) model.Result {
	result := model.Result{
		TID:    item.TID,
		Action: item.Action,
		Method: item.Method,
		Type:   "rpc",
		Host:   d.Host,
	}
	if item.Alias != "" {
		result.Action = item.Alias
	}

	provider, ok := d.Registry.Resolve(item.Action)
	if !ok {
		result.Code = 400
		result.Meta = model.Meta{Success: false, Msg: "unknown entity " + item.Action}
		result.Result = model.Body{Records: []any{}, Total: 0}
		metrics.ObserveItem(item.Method, false)
		return result
	}

	reply, err := provider.Invoke(ctx, sess, item.Method, item.Payload())
	if err != nil {
		d.logger().Error("rpc call failed", "entity", item.Action, "method", item.Method, "err", err)
		result.Code = 400
		result.Meta = model.Meta{Success: false, Msg: err.Error()}
		result.Result = model.Body{Records: []any{}, Total: 0}
		metrics.ObserveItem(item.Method, false)
		return result
	}

	result.Meta = model.Meta{Success: true}
	if model.Mutating(item.Method) {
		// echo the request payload so offline clients can reconcile
		result.Result = model.Body{Records: item.Payload(), Total: reply.Total}
		d.recordAudit(sess, item)
		if item.Action == AccessEntity {
			d.Cache.Reset()
			d.logger().Debug("permission cache reset", "reason", "access entity mutated")
		}
	} else {
		if sess.Snapshot != nil {
			sess.Snapshot.MaskRecords(item.Action, reply.Records)
		}
		result.Result = model.Body{Records: reply.Records, Total: reply.Total}
	}
	metrics.ObserveItem(item.Method, true)
	return result
}

func (d *Dispatcher) recordAudit(sess *Session, item *model.Item) {
	if d.Audit == nil {
		return
	}
	payload, _ := json.Marshal(item.Payload())
	d.Audit.Record(model.AuditRecord{
		UserID:  sess.Principal.ID,
		Data:    string(payload),
		Type:    item.Action + "." + item.Method,
		AppName: d.AppName,
	})
}
