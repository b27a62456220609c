package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/baseline"
	"github.com/distrogate/autopkgtest-gate/internal/broker"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

type recordingSink struct {
	requests []broker.Request
}

func (r *recordingSink) Publish(_ context.Context, req broker.Request) error {
	r.requests = append(r.requests, req)
	return nil
}

func TestRequesterQueuesWhenNoResultAndNoObjectStore(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)

	require.Len(t, sink.requests, 1)
	assert.Equal(t, "foo", sink.requests[0].Source)
	assert.True(t, pending.Contains("foo/2.0", "foo", "amd64"))
}

func TestRequesterPublishesFullTriggersList(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink}

	err := req.Request(context.Background(), []string{"foo/2.0", "bar/1.0"}, "baz", "amd64", false)
	require.NoError(t, err)

	require.Len(t, sink.requests, 1)
	assert.Equal(t, []string{"foo/2.0", "bar/1.0"}, sink.requests[0].Triggers)
	assert.True(t, pending.Contains("foo/2.0", "baz", "amd64"))
}

func TestRequesterSkipsWhenAlreadyPending(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	pending.Add("foo/2.0", "foo", "amd64")
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)
	assert.Empty(t, sink.requests)
}

func TestRequesterReturnsOnPassResult(t *testing.T) {
	store := resultstore.New(false)
	store.Update("foo/2.0", "foo", "amd64", archive.Result{Status: archive.Pass, Version: "2.0"}, false)

	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)
	assert.Empty(t, sink.requests)
}

func TestRequesterFileBackendFailReturnsWithoutRetry(t *testing.T) {
	store := resultstore.New(false)
	store.Update("foo/2.0", "foo", "amd64", archive.Result{Status: archive.Fail, Version: "2.0", Timestamp: 1000}, false)

	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)
	assert.Empty(t, sink.requests)
}

func TestRequesterRetriesFailPastRetryWindow(t *testing.T) {
	store := resultstore.New(false)
	store.Update("foo/2.0", "foo", "amd64", archive.Result{Status: archive.Fail, Version: "2.0", Timestamp: 0}, false)
	store.Update("migration-reference/0", "foo", "amd64", archive.Result{Status: archive.Pass, Version: "2.0", Timestamp: 0}, true)

	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Reference)
	sink := &recordingSink{}

	req := &broker.Requester{
		Store: store, Pending: pending, Baseline: oracle, Sink: sink,
		RetryOlderThanDays: 1,
		Now:                func() time.Time { return time.Unix(200000, 0) },
	}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)
	require.Len(t, sink.requests, 1)
}

func TestRequesterDryRunSkipsPublish(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	oracle := baseline.New(store, baseline.Historical)
	sink := &recordingSink{}

	req := &broker.Requester{Store: store, Pending: pending, Baseline: oracle, Sink: sink, DryRun: true}

	err := req.Request(context.Background(), []string{"foo/2.0"}, "foo", "amd64", false)
	require.NoError(t, err)
	assert.Empty(t, sink.requests)
	assert.True(t, pending.Contains("foo/2.0", "foo", "amd64"))
}
