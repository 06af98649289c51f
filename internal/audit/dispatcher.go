// Package audit archives security events without blocking request handling.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
)

const archiveTimeout = 5 * time.Second

var _ model.AuditSink = (*Dispatcher)(nil)

// Dispatcher queues audit events and writes them to an object store from a
// single background goroutine. Events are dropped, and counted, when the
// queue is full.
type Dispatcher struct {
	store  model.ObjectStore
	logger *logger.Logger

	ch      chan model.AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// mu orders sends on ch before Close; no send happens once closed is set.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher archiving to store. A nil store only logs.
func NewDispatcher(store model.ObjectStore, bufferSize int, logger *logger.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &Dispatcher{
		store:  store,
		logger: logger,
		ch:     make(chan model.AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Publish enqueues ev. It never blocks. Events published after Close are
// counted as dropped.
func (d *Dispatcher) Publish(_ context.Context, ev model.AuditEvent) {
	d.logger.Debug("Audit: event", "kind", ev.Kind, "user_id", ev.UserID,
		"family_id", ev.FamilyID, "token_id", ev.TokenID)

	if d.store == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "Audit: dispatcher closed, event dropped")
		return
	}

	select {
	case d.ch <- ev:
	default:
		d.drop(ev, "Audit: queue full, event dropped")
	}
}

func (d *Dispatcher) drop(ev model.AuditEvent, msg string) {
	d.dropped.Add(1)
	metrics.AuditArchive.WithLabelValues("dropped").Inc()
	d.logger.Warn(msg, "kind", ev.Kind, "family_id", ev.FamilyID)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.ch:
			d.archive(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.ch:
					d.archive(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) archive(ev model.AuditEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("Audit: failed to encode event", "error", err.Error())
		metrics.AuditArchive.WithLabelValues("failed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if err := d.store.Put(ctx, ObjectKey(ev), data, "application/json"); err != nil {
		d.logger.Error("Audit: failed to archive event", "kind", ev.Kind,
			"family_id", ev.FamilyID, "error", err.Error())
		metrics.AuditArchive.WithLabelValues("failed").Inc()
		return
	}
	metrics.AuditArchive.WithLabelValues("archived").Inc()
}

// Close drains queued events and stops the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
}

// Dropped returns how many events were discarded, either because the queue
// was full or because the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// ObjectKey is the archive location of ev:
// audit/<yyyy>/<mm>/<dd>/<family>-<token>-<kind>-<unix nanos>.json.
// Repeated events for the same token get distinct keys.
func ObjectKey(ev model.AuditEvent) string {
	t := ev.OccurredAt.UTC()
	family := ev.FamilyID
	if family == "" {
		family = "nofamily"
	}
	return fmt.Sprintf("audit/%04d/%02d/%02d/%s-%s-%s-%d.json",
		t.Year(), int(t.Month()), t.Day(), family, ev.TokenID, ev.Kind, t.UnixNano())
}
