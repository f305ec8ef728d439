package rpc

import (
	"context"
	"encoding/json"
	"time"

	"fieldsync-server/internal/metrics"
	"fieldsync-server/internal/model"
)

// ProcessBatch runs an ordered list of items strictly one at a time:
// result i is appended before item i+1 is authorized, so output order
// equals input order and a cache population by one item is visible to the
// next. One item's failure never aborts the rest.
//
// An unauthenticated principal short-circuits the whole batch to a single
// 401 result; the second return value tells the transport to send that as
// a bare object rather than an array.
func (d *Dispatcher) ProcessBatch(ctx context.Context, sess *Session, items []model.Item) ([]model.Result, bool) {
	started := time.Now()
	defer func() { metrics.ObserveBatch(time.Since(started)) }()

	if sess.Principal == nil || !sess.Principal.IsAuthorized {
		var tid int64
		if len(items) > 0 {
			tid = items[0].TID
		}
		return []model.Result{{
			TID:    tid,
			Type:   "rpc",
			Code:   401,
			Meta:   model.Meta{Success: false, Msg: "No authorize"},
			Result: model.Body{Records: []any{}, Total: 0},
			Host:   d.Host,
		}}, true
	}

	results := make([]model.Result, 0, len(items))
	for i := range items {
		item := &items[i]
		itemStarted := time.Now()

		if item.Malformed || len(item.Data) == 0 {
			results = append(results, d.badRequest(item, "request body is not an array of records"))
			continue
		}
		if alias, ok := item.Payload()["alias"].(string); ok && alias != "" {
			item.Alias = alias
		}

		snap, err := d.Cache.Get(ctx, sess.Principal.ID)
		if err != nil {
			// fail closed: a failed permission fetch denies the item
			d.logger().Error("permission fetch failed", "user", sess.Principal.ID, "err", err)
			results = append(results, d.badRequest(item, err.Error()))
			continue
		}
		sess.Snapshot = snap

		if !d.Authorizer.Authorize(item, sess.Principal.ID, snap) {
			results = append(results, d.badRequest(item, "user has no permission to perform the operation"))
			continue
		}

		result := d.Call(ctx, sess, item)
		result.RPCTime = time.Since(itemStarted).Milliseconds()
		result.AuthorizeTime = sess.AuthorizeTime
		results = append(results, result)
	}
	return results, false
}

func (d *Dispatcher) badRequest(item *model.Item, msg string) model.Result {
	body, _ := json.Marshal(item)
	result := model.Result{
		TID:    item.TID,
		Action: item.Action,
		Method: item.Method,
		Type:   "rpc",
		Code:   400,
		Meta:   model.Meta{Success: false, Msg: "Bad request: " + msg + ". Body: " + string(body)},
		Result: model.Body{Records: []any{}, Total: 0},
		Host:   d.Host,
	}
	if item.Alias != "" {
		result.Action = item.Alias
	}
	d.logger().Warn("rpc item rejected", "entity", item.Action, "method", item.Method, "msg", msg)
	metrics.ObserveItem(item.Method, false)
	return result
}
