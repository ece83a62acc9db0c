package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/reclaim/internal/logging"
)

// fakeKafka serves queued fetches, then reports the client closed.
type fakeKafka struct {
	mu         sync.Mutex
	batches    []kgo.Fetches
	produced   []*kgo.Record
	committed  []*kgo.Record
	produceErr error
	closed     bool
}

func (f *fakeKafka) PollFetches(context.Context) kgo.Fetches {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 || f.closed {
		return kgo.NewErrFetch(kgo.ErrClientClosed)
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next
}

func (f *fakeKafka) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results kgo.ProduceResults
	for _, r := range rs {
		if f.produceErr == nil {
			f.produced = append(f.produced, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.produceErr})
	}
	return results
}

func (f *fakeKafka) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeKafka) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func fetchOf(topic string, records ...*kgo.Record) kgo.Fetches {
	for i, r := range records {
		r.Topic = topic
		r.Offset = int64(i)
	}
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic:      topic,
			Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
		}},
	}}
}

func requestRecord(t *testing.T, req Request) *kgo.Record {
	t.Helper()
	value, err := json.Marshal(req)
	require.NoError(t, err)
	return &kgo.Record{Key: []byte(req.ID), Value: value}
}

type fakeJobRunner struct {
	mu   sync.Mutex
	reqs []Request
	run  func(req Request) (Record, error)
}

func (r *fakeJobRunner) Run(_ context.Context, req Request) (Record, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.run(req)
}

type fakeAdmin struct {
	resp kadm.CreateTopicResponses
	err  error
	got  []string
}

func (a *fakeAdmin) CreateTopics(_ context.Context, _ int32, _ int16, _ map[string]*string, topics ...string) (kadm.CreateTopicResponses, error) {
	a.got = append(a.got, topics...)
	return a.resp, a.err
}

func decodeResult(t *testing.T, r *kgo.Record) Result {
	t.Helper()
	var res Result
	require.NoError(t, json.Unmarshal(r.Value, &res))
	return res
}

func TestKafkaDispatcher_RunsRequestsAndPublishesResults(t *testing.T) {
	cfg := DefaultKafkaConfig()
	client := &fakeKafka{}
	client.batches = []kgo.Fetches{fetchOf(cfg.RequestTopic,
		requestRecord(t, Request{ID: "ok", Type: TypeDeleteArtifacts, Config: map[string]any{"remove_all": true}}),
		requestRecord(t, Request{ID: "bad", Type: TypeDeleteArtifacts}),
	)}
	runner := &fakeJobRunner{run: func(req Request) (Record, error) {
		if req.ID == "bad" {
			return Record{ID: req.ID, State: StateError, Result: "stemcell(s) deleted: none; release(s) deleted: none"}, errors.New("boom")
		}
		return Record{ID: req.ID, State: StateDone, Result: "stemcell(s) deleted: none; release(s) deleted: a/1"}, nil
	}}

	d := newKafkaDispatcher(cfg, client, &fakeAdmin{}, runner, logging.Discard())
	require.NoError(t, d.Run(context.Background()))

	require.Len(t, runner.reqs, 2)
	assert.Equal(t, true, runner.reqs[0].Config["remove_all"])

	require.Len(t, client.produced, 2)
	first := decodeResult(t, client.produced[0])
	assert.Equal(t, Result{ID: "ok", Type: TypeDeleteArtifacts, State: StateDone, Result: "stemcell(s) deleted: none; release(s) deleted: a/1"}, first)
	assert.Equal(t, cfg.ResultTopic, client.produced[0].Topic)
	assert.Equal(t, "ok", string(client.produced[0].Key))

	second := decodeResult(t, client.produced[1])
	assert.Equal(t, StateError, second.State)
	assert.Equal(t, "boom", second.Error)
	assert.NotEmpty(t, second.Result, "partial report is published with the error")

	require.Len(t, client.committed, 2)
}

func TestKafkaDispatcher_MalformedRequestIsAnsweredAndCommitted(t *testing.T) {
	cfg := DefaultKafkaConfig()
	client := &fakeKafka{}
	client.batches = []kgo.Fetches{fetchOf(cfg.RequestTopic, &kgo.Record{Key: []byte("junk"), Value: []byte("{not json")})}
	runner := &fakeJobRunner{run: func(Request) (Record, error) {
		t.Fatal("runner must not be called for a malformed request")
		return Record{}, nil
	}}

	d := newKafkaDispatcher(cfg, client, &fakeAdmin{}, runner, logging.Discard())
	require.NoError(t, d.Run(context.Background()))

	require.Len(t, client.produced, 1)
	res := decodeResult(t, client.produced[0])
	assert.Equal(t, "junk", res.ID)
	assert.Equal(t, StateError, res.State)
	assert.Contains(t, res.Error, "decode request")
	assert.Len(t, client.committed, 1)
}

func TestKafkaDispatcher_PublishFailureStopsWithoutCommit(t *testing.T) {
	cfg := DefaultKafkaConfig()
	client := &fakeKafka{produceErr: errors.New("broker down")}
	client.batches = []kgo.Fetches{fetchOf(cfg.RequestTopic,
		requestRecord(t, Request{ID: "a", Type: TypeDeleteArtifacts}),
		requestRecord(t, Request{ID: "b", Type: TypeDeleteArtifacts}),
	)}
	runner := &fakeJobRunner{run: func(req Request) (Record, error) {
		return Record{ID: req.ID, State: StateDone}, nil
	}}

	d := newKafkaDispatcher(cfg, client, &fakeAdmin{}, runner, logging.Discard())
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.Len(t, runner.reqs, 1, "processing stops at the first unpublishable result")
	assert.Empty(t, client.committed)
}

func TestKafkaDispatcher_StopsOnCancelledContext(t *testing.T) {
	cfg := DefaultKafkaConfig()
	client := &fakeKafka{}
	client.batches = []kgo.Fetches{fetchOf(cfg.RequestTopic, requestRecord(t, Request{ID: "a", Type: TypeDeleteArtifacts}))}
	runner := &fakeJobRunner{run: func(req Request) (Record, error) { return Record{ID: req.ID}, nil }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := newKafkaDispatcher(cfg, client, &fakeAdmin{}, runner, logging.Discard())
	require.NoError(t, d.Run(ctx))
	assert.Empty(t, runner.reqs)
}

func TestKafkaDispatcher_EnsureTopics(t *testing.T) {
	cfg := DefaultKafkaConfig()

	t.Run("existing topics are fine", func(t *testing.T) {
		admin := &fakeAdmin{resp: kadm.CreateTopicResponses{
			cfg.RequestTopic: {Topic: cfg.RequestTopic, Err: kerr.TopicAlreadyExists},
			cfg.ResultTopic:  {Topic: cfg.ResultTopic},
		}}
		d := newKafkaDispatcher(cfg, &fakeKafka{}, admin, nil, logging.Discard())
		require.NoError(t, d.EnsureTopics(context.Background()))
		assert.ElementsMatch(t, []string{cfg.RequestTopic, cfg.ResultTopic}, admin.got)
	})

	t.Run("other errors are reported", func(t *testing.T) {
		admin := &fakeAdmin{resp: kadm.CreateTopicResponses{
			cfg.RequestTopic: {Topic: cfg.RequestTopic, Err: kerr.TopicAuthorizationFailed},
			cfg.ResultTopic:  {Topic: cfg.ResultTopic},
		}}
		d := newKafkaDispatcher(cfg, &fakeKafka{}, admin, nil, logging.Discard())
		err := d.EnsureTopics(context.Background())
		assert.ErrorIs(t, err, kerr.TopicAuthorizationFailed)
	})

	t.Run("request failure", func(t *testing.T) {
		admin := &fakeAdmin{err: errors.New("no brokers")}
		d := newKafkaDispatcher(cfg, &fakeKafka{}, admin, nil, logging.Discard())
		assert.Error(t, d.EnsureTopics(context.Background()))
	})
}

func TestNewKafkaDispatcher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaDispatcher(DefaultKafkaConfig(), &fakeJobRunner{}, logging.Discard())
	assert.Error(t, err)
}
