package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	v1 "bondy/shared/contracts/chat/v1"
)

// Fanout delivers message, summary, and read-state events to every live
// connection of every target user.
//
// Delivery is fire-and-forget per participant: an offline participant (zero
// connections) is expected steady state, not an error, and never blocks
// delivery to others. Within one participant's stream the raw message event
// is enqueued before the summary event for the same message.
type Fanout struct {
	log       *slog.Logger
	registry  *Registry
	projector *Projector
	store     Store
}

// NewFanout constructs a Fanout engine.
func NewFanout(log *slog.Logger, registry *Registry, projector *Projector, store Store) *Fanout {
	return &Fanout{
		log:       log,
		registry:  registry,
		projector: projector,
		store:     store,
	}
}

// messageEventType computes the event name a given participant receives.
//
// For a DIRECT conversation each side gets an event tagged with the other
// side's id, so from any participant's perspective the event is keyed by
// "the person I'm talking to". For a GROUP_CONTEXT conversation everyone
// gets the same event tagged by the shared context id.
func messageEventType(res ResolvedConversation, senderID, participantID string) string {
	if res.Addressing.Kind != AddressDirect {
		return v1.MessageEvent(res.Addressing.ID)
	}
	if participantID == res.Addressing.ID {
		return v1.MessageEvent(senderID)
	}
	return v1.MessageEvent(res.Addressing.ID)
}

// DeliverMessage fans out a freshly persisted message to the resolved
// participant set, then refreshes each participant's conversation summary.
// It returns once every participant goroutine has finished; per-participant
// failures are logged, never propagated.
func (f *Fanout) DeliverMessage(ctx context.Context, res ResolvedConversation, msg Message, senderID string) {
	sender := f.senderUserData(ctx, senderID)
	now := time.Now().UTC()

	grp := &errgroup.Group{}
	for _, pid := range res.Conversation.Participants {
		grp.Go(func() error {
			f.deliverToParticipant(ctx, res, msg, senderID, pid, sender, now)
			return nil
		})
	}
	_ = grp.Wait()
}

func (f *Fanout) deliverToParticipant(ctx context.Context, res ResolvedConversation, msg Message, senderID, participantID string, sender *v1.UserData, now time.Time) {
	conns := f.registry.ConnectionsOf(participantID)

	if len(conns) > 0 {
		payload, err := json.Marshal(messagePayload(msg, sender))
		if err != nil {
			f.log.Error("fanout.message.marshal", "err", err)
			return
		}
		env := NewOutboundEnvelope(messageEventType(res, senderID, participantID), payload, now)
		for _, c := range conns {
			if !c.TryEnqueue(env) {
				metricFanoutDrops.Inc()
			}
		}
	}

	// Summary refresh happens regardless of raw-message delivery outcome;
	// it is what keeps inbox lists live.
	f.deliverSummary(ctx, res.Conversation.ID, participantID, conns)
}

// DeliverSummaries re-projects the conversation for each given user and
// delivers the refreshed summary to their live connections. Used by the
// read-state path, where both reader and author need fresh unseen counts.
func (f *Fanout) DeliverSummaries(ctx context.Context, conversationID string, userIDs ...string) {
	grp := &errgroup.Group{}
	for _, uid := range userIDs {
		grp.Go(func() error {
			f.deliverSummary(ctx, conversationID, uid, f.registry.ConnectionsOf(uid))
			return nil
		})
	}
	_ = grp.Wait()
}

func (f *Fanout) deliverSummary(ctx context.Context, conversationID, userID string, conns []*Client) {
	if len(conns) == 0 {
		return
	}

	summary, err := f.projector.Project(ctx, conversationID, userID)
	if err != nil {
		f.log.Error("fanout.summary.project", "conversation_id", conversationID, "user_id", userID, "err", err)
		return
	}
	if summary == nil {
		return
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		f.log.Error("fanout.summary.marshal", "err", err)
		return
	}
	env := NewOutboundEnvelope(v1.TypeConversation, payload, time.Now().UTC())

	for _, c := range conns {
		if !c.TryEnqueue(env) {
			metricFanoutDrops.Inc()
		}
	}
}

// senderUserData resolves the sender's display fields for message payloads.
// Resolution failure degrades to a payload without sender fields.
func (f *Fanout) senderUserData(ctx context.Context, senderID string) *v1.UserData {
	profiles, err := f.store.FetchProfiles(ctx, []string{senderID})
	if err != nil || len(profiles) == 0 {
		return nil
	}
	return profileUserData(profiles[0])
}
