package rpc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fieldsync-server/internal/access"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/model"
)

type fixedFetcher struct {
	rows []model.AccessRow
	err  error
}

func (f *fixedFetcher) AccessRows(ctx context.Context, userID int64) ([]model.AccessRow, error) {
	return f.rows, f.err
}

type stubProvider struct {
	reply   *dataset.Reply
	err     error
	invoked []string
	local   bool
}

func (p *stubProvider) Invoke(ctx context.Context, sess *Session, method string, data map[string]any) (*dataset.Reply, error) {
	p.invoked = append(p.invoked, method)
	if p.err != nil {
		return nil, p.err
	}
	if p.reply != nil {
		return p.reply, nil
	}
	return &dataset.Reply{Records: []map[string]any{}, Total: 0}, nil
}

func (p *stubProvider) Methods() []string {
	return []string{model.MethodQuery, model.MethodAdd, model.MethodUpdate, model.MethodDelete}
}

func (p *stubProvider) Local() bool { return p.local }

func fullGrant(entity string) model.AccessRow {
	return model.AccessRow{
		TableName:     entity,
		IsCreatable:   true,
		IsEditable:    true,
		IsDeletable:   true,
		IsFullControl: true,
	}
}

func newTestDispatcher(t *testing.T, fetcher access.Fetcher, entities map[string]Provider) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for name, p := range entities {
		if err := reg.Register(name, p); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	return &Dispatcher{
		Registry:   reg,
		Cache:      access.NewCache(fetcher, 0),
		Authorizer: &access.Authorizer{Namespace: "FS"},
		Host:       "localhost:3000",
		AppName:    "test",
	}
}

func authedSession() *Session {
	return &Session{Principal: &model.Principal{ID: 10, Login: "tester", IsAuthorized: true}}
}

func batchItem(action, method string, data map[string]any) model.Item {
	if data == nil {
		data = map[string]any{}
	}
	return model.Item{Action: action, Method: method, TID: 1, Data: []map[string]any{data}}
}

func TestProcessBatchUnauthorized(t *testing.T) {
	d := newTestDispatcher(t, &fixedFetcher{}, nil)

	results, unauthorized := d.ProcessBatch(context.Background(), &Session{Principal: model.Anonymous()}, []model.Item{
		batchItem("orders", model.MethodQuery, nil),
		batchItem("orders", model.MethodQuery, nil),
	})
	if !unauthorized {
		t.Fatalf("expected unauthorized flag")
	}
	if len(results) != 1 {
		t.Fatalf("unauthenticated batch must answer a single envelope, got %d", len(results))
	}
	if results[0].Code != 401 {
		t.Fatalf("expected 401, got %d", results[0].Code)
	}
	if results[0].Meta.Msg != "No authorize" {
		t.Fatalf("unexpected message %q", results[0].Meta.Msg)
	}
}

func TestProcessBatchOrderAndIsolation(t *testing.T) {
	good := &stubProvider{reply: &dataset.Reply{Records: []map[string]any{{"id": 1}}, Total: 1}}
	bad := &stubProvider{err: errors.New("constraint violated")}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant("orders"), fullGrant("defects")}},
		map[string]Provider{"orders": good, "defects": bad})

	results, unauthorized := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodQuery, nil),
		batchItem("defects", model.MethodAdd, map[string]any{"c_name": "x"}),
		batchItem("orders", model.MethodQuery, nil),
	})
	if unauthorized {
		t.Fatalf("authenticated batch flagged unauthorized")
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Meta.Success || !results[2].Meta.Success {
		t.Fatalf("items around the failure must still succeed: %+v", results)
	}
	if results[1].Meta.Success || results[1].Code != 400 {
		t.Fatalf("failing item must answer 400: %+v", results[1])
	}
	if results[1].Action != "defects" {
		t.Fatalf("result order broken: %+v", results[1])
	}
}

func TestProcessBatchMalformedItem(t *testing.T) {
	provider := &stubProvider{}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant("orders")}},
		map[string]Provider{"orders": provider})

	item := model.Item{Action: "orders", Method: model.MethodQuery, TID: 9, Malformed: true}
	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{item})
	if len(results) != 1 || results[0].Code != 400 {
		t.Fatalf("malformed item must answer 400: %+v", results)
	}
	if !strings.Contains(results[0].Meta.Msg, "Bad request") {
		t.Fatalf("unexpected message %q", results[0].Meta.Msg)
	}
	if len(provider.invoked) != 0 {
		t.Fatalf("malformed item must never reach the provider")
	}
}

func TestProcessBatchDeniesWithoutGrant(t *testing.T) {
	provider := &stubProvider{}
	d := newTestDispatcher(t, &fixedFetcher{rows: nil}, map[string]Provider{"orders": provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodQuery, nil),
	})
	if results[0].Code != 400 {
		t.Fatalf("expected 400, got %d", results[0].Code)
	}
	if !strings.Contains(results[0].Meta.Msg, "no permission") {
		t.Fatalf("unexpected message %q", results[0].Meta.Msg)
	}
	if len(provider.invoked) != 0 {
		t.Fatalf("denied item must never reach the provider")
	}
}

func TestProcessBatchFailsClosedOnFetchError(t *testing.T) {
	provider := &stubProvider{}
	d := newTestDispatcher(t, &fixedFetcher{err: errors.New("db down")}, map[string]Provider{"orders": provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodQuery, nil),
	})
	if results[0].Code != 400 {
		t.Fatalf("a failed permission fetch must deny, got %d", results[0].Code)
	}
	if len(provider.invoked) != 0 {
		t.Fatalf("item must never reach the provider when the fetch fails")
	}
}

func TestProcessBatchAlias(t *testing.T) {
	provider := &stubProvider{reply: &dataset.Reply{Records: []map[string]any{}, Total: 0}}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant("orders")}},
		map[string]Provider{"orders": provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodQuery, map[string]any{"alias": "my_orders"}),
	})
	if results[0].Action != "my_orders" {
		t.Fatalf("alias should override the result action, got %q", results[0].Action)
	}
}

func TestProcessBatchSoftDeleteFlow(t *testing.T) {
	provider := &stubProvider{reply: &dataset.Reply{Records: []map[string]any{}, Total: 1}}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{{TableName: "orders", IsDeletable: true}}},
		map[string]Provider{"orders": provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodDelete, map[string]any{"id": 5}),
	})
	if !results[0].Meta.Success {
		t.Fatalf("softened delete should succeed: %+v", results[0])
	}
	if len(provider.invoked) != 1 || provider.invoked[0] != model.MethodUpdate {
		t.Fatalf("provider should see the rewritten Update, got %v", provider.invoked)
	}
	records, ok := results[0].Result.Records.(map[string]any)
	if !ok {
		t.Fatalf("mutating result should echo the payload, got %T", results[0].Result.Records)
	}
	if v, _ := records[access.SoftDeleteColumn].(bool); !v {
		t.Fatalf("echoed payload should carry the soft delete flag: %v", records)
	}
}
