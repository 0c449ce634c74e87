package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/mindpal/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// JournalWorkerPool runs GenerateMissing for users queued on a Redis
// stream. Every message is acked after one attempt; conversations that
// failed stay eligible for the next request.
type JournalWorkerPool struct {
	Redis      *redis.Client
	Journals   services.JournalService
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string

	// Timeout bounds one GenerateMissing run.
	Timeout time.Duration
}

func (p *JournalWorkerPool) defaults() {
	if p.Stream == "" {
		p.Stream = "journal:stream"
	}
	if p.Group == "" {
		p.Group = "journal-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *JournalWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Journals == nil {
		return errors.New("JournalWorkerPool missing dependency: Redis/Journals must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "workers": p.NumWorkers}).Info("journal workers started")
	return nil
}

// Enqueue asks the pool to generate missing journals for userID and
// returns the stream message id.
func (p *JournalWorkerPool) Enqueue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user_id is required")
	}
	p.defaults()
	return p.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{"user_id": userID, "requested_at": time.Now().UTC().Format(time.RFC3339)},
	}).Result()
}

// StatusChannel is where job outcomes for userID are published.
func StatusChannel(userID string) string { return "journal:" + userID + ":status" }

func (p *JournalWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() == nil {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("xreadgroup failed")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if payload := p.handle(ctx, msg.ID, msg.Values); payload != nil {
					userID, _ := msg.Values["user_id"].(string)
					_ = p.Redis.Publish(ctx, StatusChannel(userID), payload).Err()
				}
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

// handle runs one job and returns the status payload to publish, or nil for
// a message that carries no user id.
func (p *JournalWorkerPool) handle(ctx context.Context, id string, values map[string]any) []byte {
	userID, _ := values["user_id"].(string)
	if userID == "" {
		p.Logger.WithField("redis_id", id).Warn("journal job without user_id dropped")
		return nil
	}

	log := p.Logger.WithFields(logrus.Fields{"redis_id": id, "user_id": userID})
	jobCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Journals.GenerateMissing(jobCtx, userID)
	if err != nil {
		log.WithError(err).Error("journal job failed")
		payload, _ := json.Marshal(map[string]any{"type": "status", "status": "failed", "message": err.Error()})
		return payload
	}

	log.WithFields(logrus.Fields{
		"processed":     res.Processed,
		"created":       len(res.Created),
		"failed":        len(res.Failed),
		"processing_ms": time.Since(start).Milliseconds(),
	}).Info("journal job done")
	payload, _ := json.Marshal(map[string]any{"type": "status", "status": "done", "result": res})
	return payload
}
