package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync-server/internal/access"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/model"
	"fieldsync-server/internal/rpc"
	"fieldsync-server/internal/syncpkg"
)

type grantAllFetcher struct{}

func (grantAllFetcher) AccessRows(ctx context.Context, userID int64) ([]model.AccessRow, error) {
	return []model.AccessRow{{
		TableName:     "orders",
		IsCreatable:   true,
		IsEditable:    true,
		IsDeletable:   true,
		IsFullControl: true,
	}}, nil
}

type blockRecorder struct {
	seen  []string
	stage func(sess *rpc.Session)
}

func (p *blockRecorder) Invoke(ctx context.Context, sess *rpc.Session, method string, data map[string]any) (*dataset.Reply, error) {
	p.seen = append(p.seen, fmt.Sprint(data["block"]))
	if p.stage != nil {
		p.stage(sess)
	}
	return &dataset.Reply{Records: []map[string]any{}, Total: 0}, nil
}

func (p *blockRecorder) Methods() []string { return []string{model.MethodAdd, model.MethodQuery} }
func (p *blockRecorder) Local() bool       { return false }

func newTestProcessor(t *testing.T, provider rpc.Provider) *Processor {
	t.Helper()
	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("orders", provider))
	dispatcher := &rpc.Dispatcher{
		Registry:   reg,
		Cache:      access.NewCache(grantAllFetcher{}, 0),
		Authorizer: &access.Authorizer{Namespace: "FS"},
		Host:       "localhost:3000",
	}
	return &Processor{Dispatcher: dispatcher, Store: newTestStore(t)}
}

func syncSession() *rpc.Session {
	return &rpc.Session{Principal: &model.Principal{ID: 10, Login: "tester", IsAuthorized: true}}
}

func encodePackage(t *testing.T, tid string) []byte {
	t.Helper()
	pkg := syncpkg.New(syncpkg.Meta{ID: tid, Version: "v1", Transactional: true})
	require.NoError(t, pkg.SetBlock("to", []map[string]any{
		{"action": "orders", "method": "Add", "tid": 1, "data": []map[string]any{{"block": "to"}}},
	}))
	require.NoError(t, pkg.SetBlock("from", []map[string]any{
		{"action": "orders", "method": "Query", "tid": 2, "data": []map[string]any{{"block": "from"}}},
	}))
	raw, err := syncpkg.Encode(pkg, false)
	require.NoError(t, err)
	return raw
}

func TestExchangeRunsToBeforeFrom(t *testing.T) {
	provider := &blockRecorder{}
	p := newTestProcessor(t, provider)

	var stages []Stage
	notify := func(stage Stage, tid string, _ time.Duration) {
		stages = append(stages, stage)
		assert.Equal(t, "tid-1", tid)
	}

	out, err := p.Exchange(context.Background(), syncSession(), encodePackage(t, "tid-1"), notify)
	require.NoError(t, err)

	assert.Equal(t, []string{"to", "from"}, provider.seen)
	assert.Equal(t, []Stage{StageTo, StageFrom, StagePackage}, stages)

	decoded, err := syncpkg.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "tid-1", decoded.Meta.ID)
	assert.True(t, decoded.Meta.Transactional)

	var toResults []model.Result
	found, err := decoded.Block("to", &toResults)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, toResults, 1)
	assert.True(t, toResults[0].Meta.Success)
}

func TestExchangeEmptyBlocksStillAnswer(t *testing.T) {
	p := newTestProcessor(t, &blockRecorder{})

	pkg := syncpkg.New(syncpkg.Meta{ID: "tid-2", Version: "v1"})
	raw, err := syncpkg.Encode(pkg, false)
	require.NoError(t, err)

	out, err := p.Exchange(context.Background(), syncSession(), raw, nil)
	require.NoError(t, err)

	decoded, err := syncpkg.Decode(out)
	require.NoError(t, err)
	var results []model.Result
	found, err := decoded.Block("to", &results)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, results)
}

func TestExchangePacksStagedAttachments(t *testing.T) {
	provider := &blockRecorder{stage: func(sess *rpc.Session) {
		sess.StagedFiles = append(sess.StagedFiles, rpc.StagedFile{
			Name: "report.pdf", Link: "link-9", Data: []byte{1, 2, 3},
		})
	}}
	p := newTestProcessor(t, provider)

	sess := syncSession()
	out, err := p.Exchange(context.Background(), sess, encodePackage(t, "tid-3"), nil)
	require.NoError(t, err)

	decoded, err := syncpkg.Decode(out)
	require.NoError(t, err)
	require.Len(t, decoded.Attachments, 2)
	assert.Equal(t, "report.pdf", decoded.Attachments[0].Name)
	assert.Empty(t, sess.StagedFiles, "staged files must be consumed by the exchange")
}

func TestExchangeRejectsGarbage(t *testing.T) {
	p := newTestProcessor(t, &blockRecorder{})

	_, err := p.Exchange(context.Background(), syncSession(), []byte("not a package"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncpkg.ErrBadMagic)
}

func TestProcessStoredPersistsOutbound(t *testing.T) {
	provider := &blockRecorder{}
	p := newTestProcessor(t, provider)

	require.NoError(t, p.Store.AppendInbound("tid-4", encodePackage(t, "tid-4")))
	require.NoError(t, p.ProcessStored(context.Background(), syncSession(), "tid-4", nil))

	chunk, err := p.Store.ReadChunk("tid-4", 0, 1<<20)
	require.NoError(t, err)
	require.True(t, chunk.Final)

	decoded, err := syncpkg.Decode(chunk.Data)
	require.NoError(t, err)
	assert.Equal(t, "tid-4", decoded.Meta.ID)
}

func TestProcessStoredMissingPackage(t *testing.T) {
	p := newTestProcessor(t, &blockRecorder{})

	err := p.ProcessStored(context.Background(), syncSession(), "nope", nil)
	require.Error(t, err)
}
