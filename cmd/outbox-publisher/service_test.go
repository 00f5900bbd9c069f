package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/testdb"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/config"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/registry"
)

const (
	testOrdersTopic = "canteen-order-events"
	testLedgerTopic = "canteen-ledger-events"
)

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		orderEvent(t, enums.EventOrderPlaced, 0),
		orderEvent(t, enums.EventOrderPlaced, 0),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	rec := &fakeRecorder{}
	service := newTestService(t, repo, pub, resolvedFor(testOrdersTopic), &fakeDLQRepo{}, rec, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, repo.failed, 1)
	require.Len(t, repo.published, 1)
	assert.Equal(t, repo.events[0].ID, repo.failed[0])
	assert.Equal(t, repo.events[1].ID, repo.published[0])
	assert.Equal(t, []string{testOrdersTopic + "|order_placed"}, rec.retried)
	assert.Equal(t, []string{testOrdersTopic + "|order_placed"}, rec.published)
}

func TestProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolvedFor(testOrdersTopic), &fakeDLQRepo{}, nil, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchRoutesBalanceEventsToLedgerTopic(t *testing.T) {
	userID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventBalanceChanged,
		AggregateType: enums.AggregateUser,
		AggregateID:   userID,
		Payload: mustEnvelopePayload(t, payloads.BalanceChangedEvent{
			UserID:        userID,
			TransactionID: uuid.New(),
			Type:          enums.TransactionTypeTopUp,
			AmountCents:   1250,
			BalanceBefore: 0,
			BalanceAfter:  1250,
		}),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	reg, err := registry.NewEventRegistry(config.PubSubConfig{OrdersTopic: testOrdersTopic, LedgerTopic: testLedgerTopic})
	require.NoError(t, err)

	var topics []string
	service := newTestService(t, repo, pub, reg, &fakeDLQRepo{}, nil, nil)
	service.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{testLedgerTopic}, topics)
	require.Len(t, pub.messages, 1)
	attrs := pub.messages[0].Attributes
	assert.Equal(t, "balance_changed", attrs["event_type"])
	assert.Equal(t, userID.String(), attrs["aggregate_id"])
	assert.Equal(t, "test", attrs["env"])
	assert.NotContains(t, attrs, "order_id")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.published)
}

func TestMessageAttributesCarryOrderID(t *testing.T) {
	event := orderEvent(t, enums.EventOrderStatusChanged, 0)
	resolved := &registry.ResolvedEvent{Envelope: outbox.PayloadEnvelope{EventID: "evt-1", Version: 1}}

	attrs := messageAttributes(event, resolved, "")

	assert.Equal(t, event.AggregateID.String(), attrs["order_id"])
	assert.Equal(t, "1", attrs["schema_version"])
	assert.Equal(t, "evt-1", attrs["event_id"])
	assert.NotContains(t, attrs, "env")
}

func TestProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := orderEvent(t, enums.EventOrderPlaced, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	rec := &fakeRecorder{}
	service := newTestService(t, repo, &fakePublisher{}, resolver, dlqRepo, rec, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	entry := dlqRepo.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.JSONEq(t, string(event.Payload), string(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Equal(t, []string{"order_placed|non_retryable"}, rec.deadLettered)
}

func TestProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := orderEvent(t, enums.EventOrderStatusChanged, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, resolvedFor(testOrdersTopic), dlqRepo, nil, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, event.ID, dlqRepo.entries[0].EventID)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlqRepo.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
}

func TestProcessBatchMissingPublisherIsTerminal(t *testing.T) {
	event := orderEvent(t, enums.EventOrderPlaced, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, resolvedFor(testOrdersTopic), dlqRepo, nil, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlqRepo.entries[0].ErrorReason)
}

func TestProcessBatchRelaysWhenStorageRejectsTransactions(t *testing.T) {
	conn := testdb.Open(t, "outbox_relay_notx")
	first := orderEvent(t, enums.EventOrderPlaced, 0)
	second := orderEvent(t, enums.EventOrderStatusChanged, 0)
	require.NoError(t, conn.Create(&first).Error)
	require.NoError(t, conn.Create(&second).Error)

	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	service := newTestService(t, outbox.NewRepository(conn), pub, resolvedFor(testOrdersTopic), outbox.NewDLQRepository(conn), nil, nil)
	units := relayUnits(t, testdb.NoTxRunner{Conn: conn}, uow.ModeAuto)
	service.units = units

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, uow.ModeBestEffort, units.EffectiveMode())
	require.Len(t, pub.messages, 2)

	var pending int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending).Error)
	assert.Zero(t, pending)

	processed, err = service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchLeavesRowPendingWhenDLQWriteFails(t *testing.T) {
	event := orderEvent(t, enums.EventOrderPlaced, 0)
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}

	t.Run("best_effort", func(t *testing.T) {
		repo := &fakeRepo{events: []models.OutboxEvent{event}}
		rec := &fakeRecorder{}
		service := newTestService(t, repo, &fakePublisher{}, resolver, &fakeDLQRepo{err: errors.New("dlq down")}, rec, nil)
		service.units = relayUnits(t, testdb.Client(t, "outbox_relay_dlq"), uow.ModeBestEffort)

		processed, err := service.processBatch(context.Background())
		require.NoError(t, err)
		assert.True(t, processed)
		assert.Empty(t, repo.terminal)
		assert.Empty(t, rec.deadLettered)
	})

	t.Run("transactional", func(t *testing.T) {
		repo := &fakeRepo{events: []models.OutboxEvent{event}}
		service := newTestService(t, repo, &fakePublisher{}, resolver, &fakeDLQRepo{err: errors.New("dlq down")}, nil, nil)

		_, err := service.processBatch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert dlq")
		assert.Empty(t, repo.terminal)
	})
}

func TestNewServiceRequiresDLQRepository(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:         fakePinger{},
		Units:      &uow.Manager{},
		PubSub:     &fakePubSubClient{},
		Repository: &fakeRepo{},
		Registry:   &fakeRegistry{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq")
}

func TestPacerDoublesFailuresUpToCeiling(t *testing.T) {
	p := newPacer(500*time.Millisecond, maxBackoff)
	p.jitter = func(time.Duration) time.Duration { return 0 }

	assert.Equal(t, time.Second, p.failed())
	assert.Equal(t, 2*time.Second, p.failed())
	for i := 0; i < 5; i++ {
		p.failed()
	}
	assert.Equal(t, maxBackoff, p.failed())

	p.reset()
	assert.Equal(t, 500*time.Millisecond, p.idle())
	assert.Equal(t, time.Second, p.failed())
}

func TestPacerJitterStaysInsideWindow(t *testing.T) {
	p := newPacer(time.Second, maxBackoff)
	for i := 0; i < 50; i++ {
		wait := p.idle()
		assert.GreaterOrEqual(t, wait, time.Second)
		assert.Less(t, wait, time.Second+jitterWindow)
	}
}

func TestTopicPublishersSkipUnknownTopics(t *testing.T) {
	pubs := newTopicPublishers(&fakePubSubClient{})
	assert.Nil(t, pubs.For(testOrdersTopic))
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolvedFor(testOrdersTopic), &fakeDLQRepo{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := service.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func relayUnits(t *testing.T, runner uow.TxRunner, mode uow.Mode) *uow.Manager {
	t.Helper()
	units, err := uow.NewManager(uow.ManagerParams{Runner: runner, Mode: mode})
	require.NoError(t, err)
	return units
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, rec relayRecorder, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		App:    config.AppConfig{Env: "test"},
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	params := ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               fakePinger{},
		Units:            relayUnits(t, testdb.Client(t, "outbox_relay"), uow.ModeTransactional),
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	}
	if rec != nil {
		params.Metrics = rec
	}
	service, err := NewService(params)
	require.NoError(t, err)
	return service
}

func orderEvent(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	orderID := uuid.New()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		AttemptCount:  attempts,
		Payload: mustEnvelopePayload(t, payloads.OrderPlacedEvent{
			OrderID:    orderID,
			Code:       "RC-7KQ2XM",
			TotalCents: 450,
			Status:     enums.OrderStatusPlaced,
		}),
	}
}

func resolvedFor(topic string) *fakeRegistry {
	return &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: topic},
		Envelope:   outbox.PayloadEnvelope{Version: 1},
		Payload:    &payloads.OrderPlacedEvent{},
	}}
}

func mustEnvelopePayload(tb testing.TB, data any) json.RawMessage {
	tb.Helper()
	raw, err := json.Marshal(data)
	require.NoError(tb, err)
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(env)
	require.NoError(tb, err)
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, _ int, _ int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.EventType = event.EventType
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
	err     error
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeRecorder struct {
	published    []string
	retried      []string
	deadLettered []string
}

func (f *fakeRecorder) IncPublished(topic, eventType string) {
	f.published = append(f.published, topic+"|"+eventType)
}

func (f *fakeRecorder) IncRetry(topic, eventType string) {
	f.retried = append(f.retried, topic+"|"+eventType)
}

func (f *fakeRecorder) IncDeadLettered(eventType, reason string) {
	f.deadLettered = append(f.deadLettered, eventType+"|"+reason)
}
