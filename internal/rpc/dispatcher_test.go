package rpc

import (
	"context"
	"testing"

	"fieldsync-server/internal/audit"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/model"
)

type captureSink struct {
	entities []string
	batches  []any
	flushed  chan struct{}
}

func (s *captureSink) Add(ctx context.Context, entity string, data any) (*dataset.Reply, error) {
	s.entities = append(s.entities, entity)
	s.batches = append(s.batches, data)
	if s.flushed != nil {
		close(s.flushed)
	}
	return &dataset.Reply{}, nil
}

func TestDispatchUnknownEntity(t *testing.T) {
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant("orders")}}, nil)

	item := batchItem("orders", model.MethodQuery, nil)
	result := d.Call(context.Background(), authedSession(), &item)
	if result.Code != 400 {
		t.Fatalf("unknown entity must answer 400, got %d", result.Code)
	}
}

func TestDispatchRecordsAudit(t *testing.T) {
	provider := &stubProvider{reply: &dataset.Reply{Records: []map[string]any{}, Total: 1}}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant("orders")}},
		map[string]Provider{"orders": provider})
	d.Audit = audit.New(&captureSink{}, 100, nil)

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodAdd, map[string]any{"c_name": "pump"}),
		batchItem("orders", model.MethodQuery, nil),
	})
	if !results[0].Meta.Success {
		t.Fatalf("add should succeed: %+v", results[0])
	}
	if d.Audit.Len() != 1 {
		t.Fatalf("expected exactly the mutating item in the audit queue, got %d", d.Audit.Len())
	}
}

func TestDispatchResetsCacheOnAccessMutation(t *testing.T) {
	provider := &stubProvider{reply: &dataset.Reply{Records: []map[string]any{}, Total: 1}}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{fullGrant(AccessEntity)}},
		map[string]Provider{AccessEntity: provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem(AccessEntity, model.MethodUpdate, map[string]any{"id": 1, "is_editable": true}),
	})
	if !results[0].Meta.Success {
		t.Fatalf("update should succeed: %+v", results[0])
	}
	if d.Cache.Len() != 0 {
		t.Fatalf("mutating the access entity must reset the cache, %d snapshots remain", d.Cache.Len())
	}
}

func TestDispatchMasksDeniedColumns(t *testing.T) {
	provider := &stubProvider{reply: &dataset.Reply{
		Records: []map[string]any{{"id": 1, "c_secret": "x"}},
		Total:   1,
	}}
	rows := []model.AccessRow{
		{TableName: "orders", IsEditable: true, ColumnName: "c_secret", Access: 1},
	}
	d := newTestDispatcher(t, &fixedFetcher{rows: rows}, map[string]Provider{"orders": provider})

	results, _ := d.ProcessBatch(context.Background(), authedSession(), []model.Item{
		batchItem("orders", model.MethodQuery, nil),
	})
	records := results[0].Result.Records.([]map[string]any)
	if _, ok := records[0]["c_secret"]; ok {
		t.Fatalf("denied column leaked through the mask: %v", records[0])
	}
}

func TestDescribeScopesEntities(t *testing.T) {
	local := &stubProvider{local: true}
	granted := &stubProvider{}
	hidden := &stubProvider{}
	d := newTestDispatcher(t, &fixedFetcher{rows: []model.AccessRow{{TableName: "orders", IsEditable: true}}},
		map[string]Provider{"shell": local, "orders": granted, "secrets": hidden})

	desc, err := d.Describe(context.Background(), authedSession(), "FS", "1.0.0", "1.0.0.0")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.URL != "/rpc" || desc.Type != "remoting" || desc.Namespace != "FS" {
		t.Fatalf("descriptor header wrong: %+v", desc)
	}
	if _, ok := desc.Actions["shell"]; !ok {
		t.Fatalf("local provider must always be visible")
	}
	if _, ok := desc.Actions["orders"]; !ok {
		t.Fatalf("granted entity must be visible")
	}
	if _, ok := desc.Actions["secrets"]; ok {
		t.Fatalf("ungranted entity must stay hidden")
	}
	for _, spec := range desc.Actions["orders"] {
		if spec.Len != 1 {
			t.Fatalf("every action advertises a single argument, got %+v", spec)
		}
	}
}
