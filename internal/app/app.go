// Package app wires the client core together: one loop, one connection,
// one instance of each store, with explicit init and teardown tied to
// the application session.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/channel"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/conn"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/media"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

// Options override default collaborators, mainly for tests and tools.
type Options struct {
	Dialer  channel.Dialer
	Tokens  auth.TokenSource
	Clock   clock.Clock
	Journal core.Journal
	Media   core.MediaFactory
}

// App owns the client core for one application session.
type App struct {
	cfg   config.Config
	log   *zerolog.Logger
	clock clock.Clock

	loop          *core.Loop
	conversations *core.ConversationStore
	presence      *core.PresenceTracker
	outbox        *core.Outbox
	calls         *core.CallMachine
	dispatcher    *core.Dispatcher
	conn          *conn.Manager
	journal       core.Journal
}

// New constructs and wires the client. Nothing runs until Run.
func New(cfg config.Config, logger *zerolog.Logger, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	journal := opts.Journal
	if journal == nil {
		j, err := sqlite.NewJournal(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = j
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &channel.WSDialer{URL: cfg.ServerURL}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.Static("")
	}

	a := &App{
		cfg:     cfg,
		log:     logger,
		clock:   clk,
		loop:    core.NewLoop(),
		journal: journal,
	}

	a.conn = conn.New(
		log.Component(logger, "conn"),
		dialer,
		tokens,
		clk,
		conn.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
	)

	a.conversations = core.NewConversationStore(log.Component(logger, "conversations"))
	a.presence = core.NewPresenceTracker(log.Component(logger, "presence"), clk, cfg.TypingTTL)
	a.outbox = core.NewOutbox(
		log.Component(logger, "outbox"),
		a.loop,
		clk,
		journal,
		a.sendEvent,
		cfg.OutboxMaxAttempts,
		cfg.OutboxAckTimeout,
	)

	mediaFactory := opts.Media
	if mediaFactory == nil {
		mediaFactory = a.newMedia
	}
	a.calls = core.NewCallMachine(
		log.Component(logger, "calls"),
		a.loop,
		clk,
		a.sendEvent,
		mediaFactory,
		cfg.NegotiationTimeout,
	)

	a.dispatcher = core.NewDispatcher(
		log.Component(logger, "dispatcher"),
		a.conversations,
		a.outbox,
		a.presence,
		a.calls,
	)

	// An ack or failure always lands back in the conversation store.
	a.outbox.OnAck(a.conversations.ApplyAck)
	a.outbox.OnFailed(a.conversations.MarkFailed)
	a.conversations.OnGap(func(conversationID string, sinceSequence int64) {
		go a.requestResync(conversationID, sinceSequence)
	})

	return a, nil
}

// Run starts the loop, the connection, and the pumps, then blocks until
// the context is cancelled. Teardown closes the journal.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.loop.Run(ctx)
	}()

	a.loop.DoWait(func() {
		if err := a.outbox.LoadJournal(); err != nil {
			a.log.Warn().Err(err).Msg("outbox journal load failed")
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.conn.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.presence.RunSweeper(ctx, a.loop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pump(ctx)
	}()

	<-ctx.Done()
	cancel()
	wg.Wait()

	if err := a.journal.Close(); err != nil {
		a.log.Warn().Err(err).Msg("journal close failed")
	} else {
		a.log.Info().Msg("journal closed")
	}
	return nil
}

// pump bridges connection signals onto the loop: inbound events to the
// dispatcher in arrival order, and reconnects to outbox flush plus
// per-conversation resync requests.
func (a *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.conn.Events():
			a.loop.Do(func() { a.dispatcher.Route(ev) })
		case <-a.conn.Resync():
			a.loop.Do(func() {
				a.outbox.Flush()
				for conversationID, since := range a.conversations.LastSequences() {
					go a.requestResync(conversationID, since)
				}
			})
		}
	}
}

func (a *App) requestResync(conversationID string, sinceSequence int64) {
	ev := proto.MustNew(proto.KindResyncRequest, proto.ResyncRequest{
		ConversationID: conversationID,
		SinceSequence:  sinceSequence,
	})
	if err := a.conn.Send(context.Background(), ev); err != nil {
		a.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("resync request deferred")
	}
}

// sendEvent is the SendFunc handed to the outbox and the call machine.
func (a *App) sendEvent(ev proto.Event) error {
	return a.conn.Send(context.Background(), ev)
}

// newMedia is the default media factory: a pion PeerConnection whose
// gathered candidates go out as call:ice-candidate events and whose
// connectivity indication feeds the call machine.
func (a *App) newMedia(callID string) (core.Media, error) {
	return media.NewPeerConnection(nil, media.Callbacks{
		OnCandidate: func(candidate webrtc.ICECandidateInit) {
			ev := proto.MustNew(proto.KindCallICE, proto.CallICE{
				CallID:    callID,
				Candidate: candidate,
			})
			if err := a.conn.Send(context.Background(), ev); err != nil {
				a.log.Debug().Err(err).Str("call_id", callID).Msg("candidate not sent")
			}
		},
		OnConnected: func() {
			a.loop.Do(func() { a.calls.ConnectivityEstablished(callID) })
		},
	})
}

// SendMessage applies an optimistic entry and enqueues the send. The
// returned client temp id stays stable across retries of this message.
func (a *App) SendMessage(conversationID, body string) (string, error) {
	tempID := uuid.NewString()
	ev, err := proto.New(proto.KindMessageSend, proto.MessageSend{
		ClientTempID:   tempID,
		ConversationID: conversationID,
		Body:           body,
	})
	if err != nil {
		return "", err
	}

	now := a.clock.Now()
	a.loop.DoWait(func() {
		a.conversations.ApplyOptimistic(core.Message{
			ClientTempID:   tempID,
			ConversationID: conversationID,
			SenderID:       a.cfg.UserID,
			Body:           body,
			CreatedAt:      now,
		})
		a.outbox.Enqueue(core.Action{
			ClientTempID:   tempID,
			ConversationID: conversationID,
			Event:          ev,
			EnqueuedAt:     now,
		})
	})
	return tempID, nil
}

// RetryMessage re-submits a failed message under its original temp id.
func (a *App) RetryMessage(conversationID, clientTempID string) error {
	var retryErr error
	a.loop.DoWait(func() {
		msg, ok := a.conversations.Failed(conversationID, clientTempID)
		if !ok {
			retryErr = fmt.Errorf("no failed message %s in %s", clientTempID, conversationID)
			return
		}
		ev, err := proto.New(proto.KindMessageSend, proto.MessageSend{
			ClientTempID:   clientTempID,
			ConversationID: conversationID,
			Body:           msg.Body,
		})
		if err != nil {
			retryErr = err
			return
		}
		a.conversations.ApplyOptimistic(msg)
		a.outbox.Enqueue(core.Action{
			ClientTempID:   clientTempID,
			ConversationID: conversationID,
			Event:          ev,
			EnqueuedAt:     a.clock.Now(),
		})
	})
	return retryErr
}

// MarkRead sends a read receipt through the outbox.
func (a *App) MarkRead(conversationID, messageID string) error {
	ev, err := proto.New(proto.KindMessageStatus, proto.MessageStatus{
		ID:     messageID,
		Status: core.StatusRead.String(),
	})
	if err != nil {
		return err
	}
	now := a.clock.Now()
	a.loop.DoWait(func() {
		a.outbox.Enqueue(core.Action{
			ClientTempID:   uuid.NewString(),
			ConversationID: conversationID,
			Event:          ev,
			EnqueuedAt:     now,
		})
	})
	return nil
}

// SetTyping transmits a typing start/stop. Best effort and lossy by
// design: not queued, not retried.
func (a *App) SetTyping(conversationID string, typing bool) {
	kind := proto.KindTypingStart
	if !typing {
		kind = proto.KindTypingStop
	}
	ev := proto.MustNew(kind, proto.Typing{
		ConversationID: conversationID,
		UserID:         a.cfg.UserID,
	})
	if err := a.conn.Send(context.Background(), ev); err != nil {
		a.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing event dropped")
	}
}

// StartCall begins call negotiation for the conversation.
func (a *App) StartCall(conversationID string) (string, error) {
	var (
		callID string
		err    error
	)
	a.loop.DoWait(func() {
		callID, err = a.calls.StartCall(conversationID)
	})
	return callID, err
}

// AcceptCall answers the ringing call.
func (a *App) AcceptCall() error {
	var err error
	a.loop.DoWait(func() { err = a.calls.AcceptCall() })
	return err
}

// RejectCall declines the ringing call.
func (a *App) RejectCall() error {
	var err error
	a.loop.DoWait(func() { err = a.calls.RejectCall() })
	return err
}

// EndCall hangs up the live call.
func (a *App) EndCall() error {
	var err error
	a.loop.DoWait(func() { err = a.calls.EndCall(core.EndReasonLocalHangup) })
	return err
}

// ConnectivityEstablished is the entry point for external transports
// that signal peer connectivity themselves.
func (a *App) ConnectivityEstablished(callID string) {
	a.loop.Do(func() { a.calls.ConnectivityEstablished(callID) })
}

// DiscardConversation drops outbox bookkeeping for a conversation being
// torn down.
func (a *App) DiscardConversation(conversationID string) {
	a.loop.DoWait(func() { a.outbox.DiscardConversation(conversationID) })
}

// Messages returns a snapshot of the conversation log.
func (a *App) Messages(conversationID string) []core.Message {
	var messages []core.Message
	a.loop.DoWait(func() { messages = a.conversations.Messages(conversationID) })
	return messages
}

// TypingIn lists users currently typing in a conversation.
func (a *App) TypingIn(conversationID string) []string {
	var users []string
	a.loop.DoWait(func() { users = a.presence.TypingIn(conversationID) })
	return users
}

// Presence returns the last known presence record for a user.
func (a *App) Presence(userID string) (core.PresenceRecord, bool) {
	var (
		rec core.PresenceRecord
		ok  bool
	)
	a.loop.DoWait(func() { rec, ok = a.presence.Presence(userID) })
	return rec, ok
}

// CurrentCall returns a snapshot of the live call session, if any.
func (a *App) CurrentCall() (core.CallInfo, bool) {
	var (
		info core.CallInfo
		ok   bool
	)
	a.loop.DoWait(func() { info, ok = a.calls.Session() })
	return info, ok
}

// SubscribeConversations returns the conversation store change feed.
func (a *App) SubscribeConversations() <-chan core.Change {
	return a.conversations.Subscribe()
}

// SubscribePresence returns the presence/typing change feed.
func (a *App) SubscribePresence() <-chan core.Change {
	return a.presence.Subscribe()
}

// SubscribeCalls returns the call transition feed.
func (a *App) SubscribeCalls() <-chan core.Change {
	return a.calls.Subscribe()
}

// SubscribeStatus returns the connection status feed.
func (a *App) SubscribeStatus() <-chan conn.Status {
	return a.conn.SubscribeStatus()
}

// ConnectionStatus returns the current connection lifecycle state.
func (a *App) ConnectionStatus() conn.Status {
	return a.conn.Status()
}
