package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/reclaim/internal/logging"
)

// KafkaConfig configures a KafkaDispatcher.
type KafkaConfig struct {
	Brokers       []string
	RequestTopic  string
	ResultTopic   string
	ConsumerGroup string

	// Partitions and ReplicationFactor are used when creating missing topics.
	Partitions        int32
	ReplicationFactor int16

	// PublishTimeout bounds publishing a result and committing its request.
	PublishTimeout time.Duration
}

// DefaultKafkaConfig returns the default dispatcher configuration.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		RequestTopic:      "reclaim.jobs.requests",
		ResultTopic:       "reclaim.jobs.results",
		ConsumerGroup:     "reclaimd",
		Partitions:        1,
		ReplicationFactor: 1,
		PublishTimeout:    10 * time.Second,
	}
}

// Result is the message published to the result topic for each request.
type Result struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	State  State  `json:"state"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// JobRunner executes a job request.
type JobRunner interface {
	Run(ctx context.Context, req Request) (Record, error)
}

// kafkaClient is the subset of *kgo.Client the dispatcher uses.
type kafkaClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// topicAdmin is the subset of *kadm.Client used to create topics.
type topicAdmin interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// KafkaDispatcher consumes job requests from a topic, runs them one at a
// time and publishes a Result per request. A request's offset is committed
// only after its result is published, so a crash mid-run redelivers it.
type KafkaDispatcher struct {
	cfg    KafkaConfig
	client kafkaClient
	admin  topicAdmin
	runner JobRunner
	logger *logging.Logger
}

// NewKafkaDispatcher connects to the brokers in cfg.
func NewKafkaDispatcher(cfg KafkaConfig, runner JobRunner, logger *logging.Logger) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("jobs: kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.RequestTopic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.DefaultProduceTopic(cfg.ResultTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: create kafka client: %w", err)
	}
	return newKafkaDispatcher(cfg, client, kadm.NewClient(client), runner, logger), nil
}

func newKafkaDispatcher(cfg KafkaConfig, client kafkaClient, admin topicAdmin, runner JobRunner, logger *logging.Logger) *KafkaDispatcher {
	def := DefaultKafkaConfig()
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = def.RequestTopic
	}
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = def.ResultTopic
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = def.Partitions
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = def.ReplicationFactor
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &KafkaDispatcher{
		cfg:    cfg,
		client: client,
		admin:  admin,
		runner: runner,
		logger: logger.Named("jobs.kafka"),
	}
}

// EnsureTopics creates the request and result topics if they do not exist.
func (d *KafkaDispatcher) EnsureTopics(ctx context.Context) error {
	resp, err := d.admin.CreateTopics(ctx, d.cfg.Partitions, d.cfg.ReplicationFactor, nil, d.cfg.RequestTopic, d.cfg.ResultTopic)
	if err != nil {
		return fmt.Errorf("jobs: create topics: %w", err)
	}
	var errs []error
	for topic, r := range resp {
		switch {
		case r.Err == nil:
			d.logger.Infof("created topic", map[string]any{"topic": topic})
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
		default:
			errs = append(errs, fmt.Errorf("jobs: create topic %s: %w", topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Run consumes requests until ctx is cancelled or the client is closed. It
// returns an error only when a result cannot be published.
func (d *KafkaDispatcher) Run(ctx context.Context) error {
	d.logger.Infof("consuming job requests", map[string]any{
		"topic": d.cfg.RequestTopic,
		"group": d.cfg.ConsumerGroup,
	})
	for {
		fetches := d.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			d.logger.Warnf("fetch error", map[string]any{
				"topic":     topic,
				"partition": partition,
				"error":     err.Error(),
			})
		})

		var procErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if procErr == nil {
				procErr = d.process(ctx, r)
			}
		})
		if procErr != nil {
			return procErr
		}
	}
}

// process runs one request and publishes its result.
func (d *KafkaDispatcher) process(ctx context.Context, r *kgo.Record) error {
	var res Result
	var req Request
	if err := json.Unmarshal(r.Value, &req); err != nil {
		d.logger.Warnf("dropping malformed job request", map[string]any{
			"partition": r.Partition,
			"offset":    r.Offset,
			"error":     err.Error(),
		})
		res = Result{ID: string(r.Key), State: StateError, Error: fmt.Sprintf("jobs: decode request: %v", err)}
	} else {
		rec, err := d.runner.Run(ctx, req)
		res = Result{ID: rec.ID, Type: req.Type, State: rec.State, Result: rec.Result}
		if rec.ID == "" {
			res.ID = req.ID
		}
		if err != nil {
			res.State = StateError
			res.Error = err.Error()
		}
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()

	value, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("jobs: marshal result: %w", err)
	}
	out := &kgo.Record{Topic: d.cfg.ResultTopic, Key: []byte(res.ID), Value: value}
	if err := d.client.ProduceSync(pctx, out).FirstErr(); err != nil {
		return fmt.Errorf("jobs: publish result for %s: %w", res.ID, err)
	}
	if err := d.client.CommitRecords(pctx, r); err != nil {
		return fmt.Errorf("jobs: commit request offset: %w", err)
	}
	return nil
}

// Close closes the Kafka client, which also ends Run.
func (d *KafkaDispatcher) Close() {
	d.client.Close()
}
