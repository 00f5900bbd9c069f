package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/config"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10

	unitRelay         = "outbox_relay"
	stepMarkPublished = "outbox_mark_published"
	stepMarkFailed    = "outbox_mark_failed"
	stepDeadLetter    = "outbox_dead_letter"
	stepMarkTerminal  = "outbox_mark_terminal"
)

type pinger interface {
	Ping(context.Context) error
}

// unitRunner claims and settles each batch as one unit of work. Without
// transactions rows are not locked, so two relays may publish the same row;
// subscribers dedupe on the event_id attribute.
type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type relayRecorder interface {
	IncPublished(topic, eventType string)
	IncRetry(topic, eventType string)
	IncDeadLettered(eventType, reason string)
}

type noopRecorder struct{}

func (noopRecorder) IncPublished(string, string)    {}
func (noopRecorder) IncRetry(string, string)        {}
func (noopRecorder) IncDeadLettered(string, string) {}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               pinger
	Units            unitRunner
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          relayRecorder
}

type Service struct {
	cfg              *config.Config
	logg             *logger.Logger
	db               pinger
	units            unitRunner
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          relayRecorder
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Units == nil:
		return nil, errors.New("unit runner is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = newTopicPublishers(params.PubSub).For
	}
	var recorder relayRecorder = noopRecorder{}
	if params.Metrics != nil {
		recorder = params.Metrics
	}
	outboxCfg := params.Config.Outbox
	return &Service{
		cfg:              params.Config,
		logg:             params.Logger,
		db:               params.DB,
		units:            params.Units,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		metrics:          recorder,
		batchSize:        positiveOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(outboxCfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// Run relays batches until ctx ends. A batch that claimed rows is followed
// straight away by the next one; an idle poll or a failed batch waits first.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ping(ctx, "database", s.db); err != nil {
		return err
	}
	if err := s.ping(ctx, "pubsub", s.pubsub); err != nil {
		return err
	}

	pace := newPacer(s.pollInterval, maxBackoff)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = pace.failed()
		case processed:
			pace.reset()
			continue
		default:
			pace.reset()
			wait = pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) ping(ctx context.Context, name string, dep pinger) error {
	if err := dep.Ping(ctx); err != nil {
		s.logg.Error(ctx, name+" ping failed", err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// processBatch relays one claimed batch and reports whether any row was claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	report, err := s.units.Do(ctx, unitRelay, func(ctx context.Context, w uow.Work) error {
		events, err := s.repo.FetchUnpublishedForPublish(w.DB(), s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			if err := s.relay(ctx, w, event); err != nil {
				return err
			}
		}
		return nil
	})
	if len(report.Warnings) > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"unit_mode": report.Mode,
			"claimed":   claimed,
			"warnings":  report.Warnings,
		})
		s.logg.Warn(logCtx, "outbox batch relayed with degraded bookkeeping")
	}
	return claimed > 0, err
}

// relay publishes one row and records the result on it.
func (s *Service) relay(ctx context.Context, w uow.Work, event models.OutboxEvent) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, w, event, enums.OutboxDLQReasonNonRetryable, err, "", nil)
	}

	topic := resolved.Descriptor.Topic
	fields := s.eventFields(event, resolved.Envelope, topic)
	messageID, pubErr := s.publish(ctx, event, resolved)
	if pubErr == nil {
		if err := w.Settle(ctx, stepMarkPublished, func(db *gorm.DB) error {
			return s.repo.MarkPublishedTx(db, event.ID)
		}); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(topic, string(event.EventType))
		fields["message_id"] = messageID
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return s.deadLetter(ctx, w, event, enums.OutboxDLQReasonNonRetryable, pubErr, topic, fields)
	}

	nextAttempt := event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		terminalErr := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return s.deadLetter(ctx, w, event, enums.OutboxDLQReasonMaxAttempts, terminalErr, topic, fields)
	}

	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", pubErr.Error())
	s.logg.Warn(logCtx, "outbox publish failed")
	s.metrics.IncRetry(topic, string(event.EventType))
	if err := w.Settle(ctx, stepMarkFailed, func(db *gorm.DB) error {
		return s.repo.MarkFailedTx(db, event.ID, pubErr)
	}); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

// deadLetter copies the row into the DLQ and pins it so it is never fetched
// again. A row is only pinned once its DLQ copy exists.
func (s *Service) deadLetter(ctx context.Context, w uow.Work, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, topic string, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, topic)
	}
	fields["error_reason"] = reason
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", cause.Error())
	s.logg.Warn(logCtx, "outbox event will not be retried")

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  dlqErrorMessage(cause),
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := w.Attempt(ctx, stepDeadLetter, func(db *gorm.DB) error {
		return s.dlq.InsertTx(db, entry)
	}); err != nil {
		if w.Transactional() {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		w.Warn(ctx, stepDeadLetter, fmt.Sprintf("event %s left pending: %v", event.ID, err))
		return nil
	}
	if err := w.Settle(ctx, stepMarkTerminal, func(db *gorm.DB) error {
		return s.repo.MarkTerminalTx(db, event.ID, cause, s.maxAttempts)
	}); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.IncDeadLettered(string(event.EventType), string(reason))
	return nil
}

func dlqErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// publish sends the row to its topic and returns the broker's message id.
// A topic without a publisher is a non-retryable failure.
func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) (string, error) {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return "", registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved, s.cfg.App.Env),
	})
	if result == nil {
		return "", registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	return result.Get(ctx)
}

// messageAttributes lets subscribers filter by aggregate without decoding the
// payload. order_id is set for order-scoped events.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent, env string) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
	}
	if env != "" {
		attrs["env"] = env
	}
	if event.AggregateType == enums.AggregateOrder {
		attrs["order_id"] = event.AggregateID.String()
	}
	return attrs
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     s.batchSize,
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
