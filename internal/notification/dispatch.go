package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSendTimeout bounds a single channel send. A timeout is recorded the
// same way as any other send failure.
const DefaultSendTimeout = 15 * time.Second

// Orchestrator fans a notification out across every (recipient, channel)
// pair, collects per-channel outcomes, and drives the notification to a
// terminal status. Partial failure never aborts the batch.
type Orchestrator struct {
	store   Store
	subs    SubscriptionStore
	senders Senders
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrchestrator creates a delivery orchestrator.
func NewOrchestrator(store Store, subs SubscriptionStore, senders Senders, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		subs:    subs,
		senders: senders,
		timeout: DefaultSendTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

type sendTask struct {
	recipient *Recipient
	channel   *DeliveryChannel
}

// Dispatch drives the notification with the given id to sent or failed.
// Legal starting states are draft and scheduled, plus failed for explicit
// retries. Every eligible (recipient, channel) send runs concurrently; the
// orchestrator waits for the full set to settle before finalizing. There is
// no mid-dispatch cancellation.
func (o *Orchestrator) Dispatch(ctx context.Context, id string) error {
	n, err := o.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != StatusDraft && n.Status != StatusScheduled && n.Status != StatusFailed {
		return fmt.Errorf("%w: cannot send from status %q", ErrStateConflict, n.Status)
	}

	startedAt := o.now()
	n.Status = StatusSending
	n.Metadata.SentAt = &startedAt
	if err := o.store.Save(ctx, n); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	tasks := o.collectTasks(ctx, n)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t sendTask) {
			defer wg.Done()
			o.runSend(ctx, n, t, &mu)
		}(t)
	}
	wg.Wait()

	// Sends can run for seconds; a read or ack landing in that window would
	// otherwise be clobbered by the finalizing full-document save.
	if fresh, err := o.store.FindByID(ctx, id); err == nil {
		mergeRecipientState(n, fresh)
	}

	hasFailures := false
	for i := range n.Recipients {
		r := &n.Recipients[i]
		failed := false
		for _, c := range r.Channels {
			if c.Status == DeliveryFailed {
				failed = true
				hasFailures = true
			}
		}
		// A recipient with no successful channel counts as failed; a
		// recipient that got through on any channel does not.
		if failed && r.DeliveryStatus != DeliveryDelivered && r.DeliveryStatus != DeliveryRead {
			r.DeliveryStatus = DeliveryFailed
		}
	}

	if hasFailures {
		n.Status = StatusFailed
	} else {
		n.Status = StatusSent
	}
	if err := o.store.Save(ctx, n); err != nil {
		return fmt.Errorf("finalize dispatch: %w", err)
	}

	o.logger.Info("notification dispatched",
		zap.String("id", id),
		zap.String("status", n.Status),
		zap.Int("recipients", len(n.Recipients)),
		zap.Int("sends", len(tasks)))
	return nil
}

// collectTasks evaluates the preference filter per (recipient, channel) pair
// at send time, so preference changes between creation and a deferred send
// take effect. Already-delivered channels are skipped, which makes retries
// resend only what failed.
func (o *Orchestrator) collectTasks(ctx context.Context, n *Notification) []sendTask {
	var tasks []sendTask
	for i := range n.Recipients {
		r := &n.Recipients[i]
		sub, err := o.subs.GetOrCreateSubscription(ctx, r.UserID)
		if err != nil {
			o.logger.Warn("subscription lookup failed, using defaults",
				zap.String("user_id", r.UserID), zap.Error(err))
			sub = DefaultSubscription(r.UserID)
		}
		for j := range r.Channels {
			c := &r.Channels[j]
			if c.Status == DeliveryDelivered {
				continue
			}
			if !ShouldSend(n, c.Channel, sub, o.now()) {
				continue
			}
			tasks = append(tasks, sendTask{recipient: r, channel: c})
		}
	}
	return tasks
}

// mergeRecipientState folds read and acknowledgment updates persisted during
// dispatch back into the in-flight document. Channel outcomes stay as the
// send tasks recorded them.
func mergeRecipientState(n, fresh *Notification) {
	byUser := make(map[string]*Recipient, len(fresh.Recipients))
	for i := range fresh.Recipients {
		byUser[fresh.Recipients[i].UserID] = &fresh.Recipients[i]
	}
	for i := range n.Recipients {
		r := &n.Recipients[i]
		f, ok := byUser[r.UserID]
		if !ok {
			continue
		}
		if f.ReadAt != nil && r.ReadAt == nil {
			r.ReadAt = f.ReadAt
			r.DeliveryStatus = DeliveryRead
		}
		if f.Acknowledged && !r.Acknowledged {
			r.Acknowledged = true
			r.AcknowledgedAt = f.AcknowledgedAt
		}
	}
}

// runSend performs one channel send as an independent unit. Outcomes are
// written under the mutex because sibling channels of the same recipient
// settle concurrently.
func (o *Orchestrator) runSend(ctx context.Context, n *Notification, t sendTask, mu *sync.Mutex) {
	sendCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sentAt := o.now()
	var err error
	sender, ok := o.senders[t.channel.Channel]
	if !ok {
		err = fmt.Errorf("no sender registered for channel %q", t.channel.Channel)
	} else {
		err = sender.Send(sendCtx, n, t.recipient)
	}
	settledAt := o.now()

	mu.Lock()
	defer mu.Unlock()
	t.channel.SentAt = &sentAt
	if err != nil {
		t.channel.Status = DeliveryFailed
		t.channel.Error = err.Error()
		t.channel.DeliveredAt = nil
		o.logger.Warn("channel send failed",
			zap.String("channel", t.channel.Channel),
			zap.String("user_id", t.recipient.UserID),
			zap.Error(err))
		return
	}
	t.channel.Status = DeliveryDelivered
	t.channel.DeliveredAt = &settledAt
	t.channel.Error = ""
	t.recipient.DeliveryStatus = DeliveryDelivered
}
