// Package peer drives one participant's side of a call: media acquisition,
// offer/answer negotiation over the room's signaling log, ICE candidate
// exchange, recovery and the chat side channel.
//
// A Controller is an explicit state machine. Every input (relay messages,
// link callbacks, timers, user actions) becomes an event handled on a single
// goroutine; network calls happen only at the edges of handle.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/preetsinghmakkar/TeleConsult/internal/capture"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/signaling"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring_media"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateDegraded       State = "degraded"
	StateClosed         State = "closed"
)

const (
	DefaultMediaGrace    = 5 * time.Second
	DefaultMaxRecoveries = 3
)

var (
	ErrChatUnavailable = errors.New("chat channel not open")
	ErrClosed          = errors.New("call closed")
)

// Relay is the room's signaling channel.
type Relay interface {
	Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error)
	Post(ctx context.Context, payload json.RawMessage) (int64, error)
}

type Config struct {
	Role    models.PeerRole
	Relay   Relay
	NewLink LinkFactory
	Probe   capture.Probe
	Capture capture.Options
	Sink    RenderSink

	// PollInterval also paces re-posting signals the relay did not accept.
	PollInterval time.Duration
	// MediaGrace is how long a connected initiator waits for remote media
	// before it re-offers.
	MediaGrace time.Duration
	// MaxRecoveries bounds re-offers and ICE restarts per peer link.
	MaxRecoveries int
	Now           func() time.Time
}

type mediaReady struct{ res capture.Result }

type signalReceived struct{ sig models.Signal }

type localCandidate struct {
	gen int
	c   webrtc.ICECandidateInit
}

type iceStateChanged struct {
	gen   int
	state webrtc.ICEConnectionState
}

type remoteTrack struct {
	gen  int
	kind webrtc.RTPCodecType
}

type channelAttached struct {
	gen int
	dc  DataChannel
}

type channelOpened struct {
	gen int
	dc  DataChannel
}

type chatReceived struct {
	gen  int
	text string
}

type mediaGraceExpired struct{ gen int }

type chatSend struct {
	text string
	errc chan error
}

type hangup struct{}

type relayStopped struct{ err error }

type outboxRetry struct{}

// Controller is the state machine of one call. Construct a new one per call.
type Controller struct {
	cfg    Config
	poller *signaling.Poller
	events chan any

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time

	// Owned by the goroutine running handle.
	capture     *capture.Capture
	link        Link
	gen         int
	negotiation string
	candidates  candidateQueue
	deferred    []models.Signal
	chat        DataChannel
	chatOpen    bool
	remoteMedia bool
	expectMedia bool
	recoveries  int
	grace       *time.Timer
	outbox      []models.SignalPayload
	retry       *time.Timer
	err         error
}

func New(cfg Config) (*Controller, error) {
	if cfg.Relay == nil || cfg.NewLink == nil {
		return nil, fmt.Errorf("peer: relay and link factory are required")
	}
	if cfg.Role != models.PeerRoleInitiator && cfg.Role != models.PeerRoleResponder {
		return nil, fmt.Errorf("peer: unknown role %q", cfg.Role)
	}
	if cfg.Sink == nil {
		cfg.Sink = LogSink{}
	}
	if cfg.MediaGrace <= 0 {
		cfg.MediaGrace = DefaultMediaGrace
	}
	if cfg.MaxRecoveries <= 0 {
		cfg.MaxRecoveries = DefaultMaxRecoveries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Controller{
		cfg:    cfg,
		poller: signaling.NewPoller(cfg.Relay, cfg.Role, cfg.PollInterval),
		events: make(chan any, 128),
		done:   make(chan struct{}),
		state:  StateIdle,
	}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CallDuration is the time since the call first carried media or reached
// ICE connectivity, zero before that. It stops counting once the call
// closes.
func (c *Controller) CallDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	end := c.endedAt
	if end.IsZero() {
		end = c.cfg.Now()
	}
	return end.Sub(c.startedAt)
}

// Done is closed once the call reaches StateClosed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run acquires media, then follows the room's signaling log and handles
// events until the call closes. It returns the terminal error that ended
// the call, nil after a hang-up or after the other participant left.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setState(StateAcquiringMedia, "")
	go func() {
		res, err := capture.Acquire(ctx, c.cfg.Probe, c.cfg.Capture)
		if err != nil {
			return
		}
		c.emit(mediaReady{res: res})
	}()

	for {
		select {
		case <-ctx.Done():
			c.close()
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
			if c.State() == StateClosed {
				return c.err
			}
		}
	}
}

// Deliver hands a relay message to the controller.
func (c *Controller) Deliver(sig models.Signal) {
	c.emit(signalReceived{sig: sig})
}

// Hangup announces departure to the other participant and closes the call.
func (c *Controller) Hangup() {
	c.emit(hangup{})
}

// SendChat sends text over the chat channel.
func (c *Controller) SendChat(text string) error {
	errc := make(chan error, 1)
	select {
	case c.events <- chatSend{text: text, errc: errc}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) emit(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	if c.State() == StateClosed {
		if cs, ok := ev.(chatSend); ok {
			cs.errc <- ErrClosed
		}
		return
	}

	switch ev := ev.(type) {
	case mediaReady:
		c.onMediaReady(ctx, ev.res)
	case signalReceived:
		c.onSignal(ctx, ev.sig)
	case localCandidate:
		if ev.gen == c.gen {
			c.send(ctx, models.SignalPayload{
				Type:        models.SignalTypeICECandidate,
				Candidate:   models.CandidateFromInit(ev.c),
				Negotiation: c.negotiation,
			})
		}
	case iceStateChanged:
		if ev.gen == c.gen {
			c.onICEState(ctx, ev.state)
		}
	case remoteTrack:
		if ev.gen == c.gen {
			c.onRemoteTrack(ev.kind)
		}
	case channelAttached:
		// The first channel is authoritative.
		if ev.gen == c.gen && c.chat == nil {
			c.chat = ev.dc
		}
	case channelOpened:
		if ev.gen == c.gen && c.chat == ev.dc {
			c.chatOpen = true
		}
	case chatReceived:
		if ev.gen == c.gen {
			c.cfg.Sink.ChatMessage(c.cfg.Role.Other(), ev.text)
		}
	case mediaGraceExpired:
		c.onMediaGrace(ctx, ev.gen)
	case chatSend:
		ev.errc <- c.sendChat(ev.text)
	case hangup:
		c.send(ctx, models.SignalPayload{Type: models.SignalTypeUserLeft, Negotiation: c.negotiation})
		c.terminate("hung up")
	case relayStopped:
		if ev.err != nil && ctx.Err() == nil {
			c.fail(ev.err)
		}
	case outboxRetry:
		c.flushOutbox(ctx)
	default:
		log.Warn().Str("module", "peer").Str("event", fmt.Sprintf("%T", ev)).Msg("unknown event")
	}
}

func (c *Controller) onMediaReady(ctx context.Context, res capture.Result) {
	c.capture = res.Capture
	if res.Capture.HasVideo() {
		c.cfg.Sink.LocalPreview(res.Capture)
	} else {
		c.cfg.Sink.NoCamera(res.Failures)
	}

	backlog, err := c.catchUp(ctx)
	if err != nil {
		if errs.IsTerminal(err) {
			c.fail(err)
			return
		}
		log.Warn().Str("module", "peer").Err(err).Msg("catch-up failed, following the log from the start")
	}

	if err := c.arm(ctx); err != nil {
		c.fail(err)
		return
	}

	pending := append(c.deferred, backlog...)
	c.deferred = nil
	for _, sig := range pending {
		if c.State() == StateClosed {
			return
		}
		c.onSignal(ctx, sig)
	}
	if c.State() == StateClosed {
		return
	}

	go func() {
		err := c.poller.Run(ctx, c.Deliver)
		c.emit(relayStopped{err: err})
	}()
}

// catchUp reads the room's backlog. Only the latest negotiation is live: the
// initiator is about to open a new one, so it keeps nothing, and the
// responder keeps the messages from the most recent offer on. A negotiation
// the initiator already left is dropped as well; the responder waits for the
// next offer instead.
func (c *Controller) catchUp(ctx context.Context) ([]models.Signal, error) {
	var backlog []models.Signal
	if err := c.poller.Tick(ctx, func(s models.Signal) { backlog = append(backlog, s) }); err != nil {
		return nil, err
	}
	if c.cfg.Role == models.PeerRoleInitiator {
		return nil, nil
	}
	return liveNegotiation(backlog), nil
}

func liveNegotiation(backlog []models.Signal) []models.Signal {
	for i := len(backlog) - 1; i >= 0; i-- {
		p := backlog[i].Payload
		if p.Type != models.SignalTypeOffer {
			continue
		}
		for _, later := range backlog[i+1:] {
			lp := later.Payload
			if lp.Type == models.SignalTypeUserLeft && (lp.Negotiation == "" || lp.Negotiation == p.Negotiation) {
				return nil
			}
		}
		return backlog[i:]
	}
	return nil
}

// arm builds a fresh link and, for the initiator, opens a new negotiation
// with an offer.
func (c *Controller) arm(ctx context.Context) error {
	if err := c.rebuild(); err != nil {
		return err
	}
	c.setState(StateNegotiating, "")

	if c.cfg.Role != models.PeerRoleInitiator {
		return nil
	}
	c.negotiation = uuid.NewString()
	dc, err := c.link.CreateDataChannel(ChatLabel)
	if err != nil {
		log.Warn().Str("module", "peer").Err(err).Msg("chat unavailable")
	} else {
		c.chat = dc
	}
	c.offer(ctx, false)
	return nil
}

// rebuild replaces the link with a new one carrying the local tracks.
func (c *Controller) rebuild() error {
	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}
	c.stopGrace()
	c.gen++
	c.candidates.reset()
	c.chat, c.chatOpen = nil, false
	c.remoteMedia, c.expectMedia = false, false
	c.recoveries = 0
	c.mu.Lock()
	c.startedAt = time.Time{}
	c.mu.Unlock()

	gen := c.gen
	link, err := c.cfg.NewLink(LinkEvents{
		OnICECandidate: func(ci webrtc.ICECandidateInit) { c.emit(localCandidate{gen: gen, c: ci}) },
		OnICEState:     func(s webrtc.ICEConnectionState) { c.emit(iceStateChanged{gen: gen, state: s}) },
		OnTrack:        func(k webrtc.RTPCodecType) { c.emit(remoteTrack{gen: gen, kind: k}) },
		OnDataChannel:  func(dc DataChannel) { c.emit(channelAttached{gen: gen, dc: dc}) },
		OnChannelOpen:  func(dc DataChannel) { c.emit(channelOpened{gen: gen, dc: dc}) },
		OnChatMessage:  func(text string) { c.emit(chatReceived{gen: gen, text: text}) },
	})
	if err != nil {
		return err
	}
	c.link = link

	sending := map[webrtc.RTPCodecType]bool{}
	if c.capture != nil {
		for _, t := range c.capture.Tracks {
			if err := link.AddTrack(t); err != nil {
				return err
			}
			sending[t.Kind()] = true
		}
	}
	// The initiator's offer defines the media sections, so kinds it does not
	// send are still offered for receiving.
	if c.cfg.Role == models.PeerRoleInitiator {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if sending[kind] {
				continue
			}
			if err := link.AddReceiveOnly(kind); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) offer(ctx context.Context, iceRestart bool) bool {
	if s := c.link.SignalingState(); s != webrtc.SignalingStateStable {
		log.Debug().Str("module", "peer").Str("signaling_state", s.String()).Msg("offer skipped")
		return false
	}
	desc, err := c.link.CreateOffer(iceRestart)
	if err != nil {
		log.Error().Str("module", "peer").Err(err).Msg("create offer failed")
		return false
	}
	c.send(ctx, models.SignalPayload{Type: models.SignalTypeOffer, SDP: desc.SDP, Negotiation: c.negotiation})
	return true
}

func (c *Controller) onSignal(ctx context.Context, sig models.Signal) {
	if c.link == nil {
		c.deferred = append(c.deferred, sig)
		return
	}

	p := sig.Payload
	switch p.Type {
	case models.SignalTypeOffer:
		c.onOffer(ctx, p)
	case models.SignalTypeAnswer:
		c.onAnswer(p)
	case models.SignalTypeICECandidate:
		c.onRemoteCandidate(p)
	case models.SignalTypeUserLeft:
		if !c.stale(p.Negotiation) {
			c.onPeerLeft(ctx)
		}
	}
}

func (c *Controller) onOffer(ctx context.Context, p models.SignalPayload) {
	if c.cfg.Role == models.PeerRoleInitiator {
		log.Warn().Str("module", "peer").Msg("initiator ignoring remote offer")
		return
	}

	if p.Negotiation != "" && p.Negotiation != c.negotiation {
		if c.negotiation != "" {
			log.Info().Str("module", "peer").Str("negotiation", p.Negotiation).Msg("new negotiation, rebuilding link")
			if err := c.rebuild(); err != nil {
				c.fail(err)
				return
			}
			c.setState(StateNegotiating, "")
		}
		c.negotiation = p.Negotiation
	}

	if s := c.link.SignalingState(); s != webrtc.SignalingStateStable {
		log.Warn().Str("module", "peer").Str("signaling_state", s.String()).Msg("offer rejected")
		return
	}
	if err := c.link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		log.Error().Str("module", "peer").Err(err).Msg("apply offer failed")
		return
	}
	c.afterRemoteDescription(p.SDP)

	answer, err := c.link.CreateAnswer()
	if err != nil {
		log.Error().Str("module", "peer").Err(err).Msg("create answer failed")
		return
	}
	c.send(ctx, models.SignalPayload{Type: models.SignalTypeAnswer, SDP: answer.SDP, Negotiation: c.negotiation})
}

func (c *Controller) onAnswer(p models.SignalPayload) {
	if c.cfg.Role != models.PeerRoleInitiator || c.stale(p.Negotiation) {
		return
	}
	if s := c.link.SignalingState(); s != webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("module", "peer").Str("signaling_state", s.String()).Msg("answer ignored")
		return
	}
	if err := c.link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Str("module", "peer").Err(err).Msg("apply answer failed")
		return
	}
	c.afterRemoteDescription(p.SDP)
}

func (c *Controller) afterRemoteDescription(sdp string) {
	if c.candidates.len() > 0 {
		applied, failed := c.candidates.flush(c.negotiation, c.link.AddICECandidate)
		log.Debug().Str("module", "peer").Int("applied", applied).Int("failed", failed).Msg("flushed buffered candidates")
	}

	sends, err := remoteSendsMedia(sdp)
	if err != nil {
		log.Debug().Str("module", "peer").Err(err).Msg("cannot inspect remote description")
		sends = true
	}
	c.expectMedia = sends
}

func (c *Controller) onRemoteCandidate(p models.SignalPayload) {
	init := p.Candidate.Init()
	if !c.link.HasRemoteDescription() {
		c.candidates.push(p.Negotiation, init)
		return
	}
	if c.stale(p.Negotiation) {
		return
	}
	if err := c.link.AddICECandidate(init); err != nil {
		log.Warn().Str("module", "peer").Err(err).Msg("add candidate failed")
	}
}

// stale reports whether a message belongs to an earlier negotiation.
// Untagged messages are never stale.
func (c *Controller) stale(negotiation string) bool {
	return negotiation != "" && negotiation != c.negotiation
}

func (c *Controller) onPeerLeft(ctx context.Context) {
	if c.cfg.Role != models.PeerRoleInitiator {
		c.terminate("the other participant left")
		return
	}
	c.cfg.Sink.Terminated("the other participant left")
	c.setState(StateIdle, "waiting for a participant")
	if err := c.arm(ctx); err != nil {
		c.fail(err)
	}
}

func (c *Controller) onICEState(ctx context.Context, s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		c.startClock()
		c.setState(StateConnected, "")
		if c.cfg.Role == models.PeerRoleInitiator && c.expectMedia && !c.remoteMedia {
			c.armGrace()
		}
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		c.setState(StateDegraded, "reconnecting")
		if s == webrtc.ICEConnectionStateFailed && c.cfg.Role == models.PeerRoleInitiator {
			c.selfHeal(ctx, "ice failed")
		}
	}
}

func (c *Controller) onRemoteTrack(kind webrtc.RTPCodecType) {
	if !c.remoteMedia {
		c.remoteMedia = true
		c.startClock()
		c.stopGrace()
	}
	c.cfg.Sink.RemoteTrack(kind)
}

func (c *Controller) onMediaGrace(ctx context.Context, gen int) {
	if gen != c.gen || c.remoteMedia || !c.expectMedia || c.State() != StateConnected {
		return
	}
	if c.selfHeal(ctx, "no remote media") {
		c.armGrace()
	}
}

// selfHeal re-offers with an ICE restart, at most MaxRecoveries times per
// link.
func (c *Controller) selfHeal(ctx context.Context, reason string) bool {
	if c.recoveries >= c.cfg.MaxRecoveries {
		log.Warn().Str("module", "peer").Str("reason", reason).Int("attempts", c.recoveries).Msg("recovery attempts exhausted")
		return false
	}
	c.recoveries++
	log.Info().Str("module", "peer").Str("reason", reason).Int("attempt", c.recoveries).Msg("re-offering")
	return c.offer(ctx, true)
}

func (c *Controller) armGrace() {
	c.stopGrace()
	gen := c.gen
	c.grace = time.AfterFunc(c.cfg.MediaGrace, func() { c.emit(mediaGraceExpired{gen: gen}) })
}

func (c *Controller) stopGrace() {
	if c.grace != nil {
		c.grace.Stop()
		c.grace = nil
	}
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) startClock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		c.startedAt = c.cfg.Now()
	}
}

func (c *Controller) sendChat(text string) error {
	if c.chat == nil || !c.chatOpen {
		return ErrChatUnavailable
	}
	return c.chat.SendText(text)
}

// send queues p behind any signals still waiting for the relay and posts
// the queue in order.
func (c *Controller) send(ctx context.Context, p models.SignalPayload) {
	c.outbox = append(c.outbox, p)
	c.flushOutbox(ctx)
}

// flushOutbox posts queued signals until the queue is empty or a post fails.
// A transient failure keeps the signal at the head of the queue and
// schedules another attempt after the poll interval. Signals of an earlier
// negotiation are dropped unsent.
func (c *Controller) flushOutbox(ctx context.Context) {
	c.stopRetry()
	for len(c.outbox) > 0 {
		p := c.outbox[0]
		if c.stale(p.Negotiation) {
			c.outbox = c.outbox[1:]
			continue
		}
		raw, err := p.Encode()
		if err != nil {
			log.Error().Str("module", "peer").Str("type", string(p.Type)).Err(err).Msg("refusing to post malformed signal")
			c.outbox = c.outbox[1:]
			continue
		}
		if _, err := c.cfg.Relay.Post(ctx, raw); err != nil {
			if errs.IsTerminal(err) {
				c.fail(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("module", "peer").Str("type", string(p.Type)).Int("queued", len(c.outbox)).Err(err).Msg("post failed, retrying")
			c.retry = time.AfterFunc(c.cfg.PollInterval, func() { c.emit(outboxRetry{}) })
			return
		}
		c.outbox = c.outbox[1:]
	}
}

func (c *Controller) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.terminate(err.Error())
}

func (c *Controller) terminate(reason string) {
	if c.State() == StateClosed {
		return
	}
	c.cfg.Sink.Terminated(reason)
	c.close()
}

func (c *Controller) close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.stopGrace()
	c.stopRetry()
	c.outbox = nil
	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}
	if c.capture != nil {
		c.capture.Close()
	}
	c.mu.Lock()
	if !c.startedAt.IsZero() {
		c.endedAt = c.cfg.Now()
	}
	c.mu.Unlock()
	c.setState(StateClosed, "")
}

func (c *Controller) setState(s State, detail string) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s && detail == "" {
		return
	}
	log.Debug().Str("module", "peer").Str("from", string(prev)).Str("to", string(s)).Msg("state")
	c.cfg.Sink.Status(s, detail)
}
