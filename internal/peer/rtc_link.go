package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RTCConfig configures pion peer connections.
type RTCConfig struct {
	ICEServers []string
	// IncludeLoopback gathers loopback candidates, for calls on one host.
	IncludeLoopback bool
}

// NewRTCLinkFactory returns a LinkFactory backed by pion.
func NewRTCLinkFactory(cfg RTCConfig) LinkFactory {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return func(events LinkEvents) (Link, error) {
		pc, err := api.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		l := &rtcLink{pc: pc, events: events}
		l.start()
		return l, nil
	}
}

type rtcLink struct {
	pc     *webrtc.PeerConnection
	events LinkEvents
}

func (l *rtcLink) start() {
	events := l.events

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", s.String()).Msg("ICE state")
		if events.OnICEState != nil {
			events.OnICEState(s)
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && events.OnICECandidate != nil {
			events.OnICECandidate(cand.ToJSON())
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if events.OnTrack != nil {
			events.OnTrack(track.Kind())
		}
		go drain(track)
	})

	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChatLabel {
			log.Debug().Str("module", "webrtc").Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		ch := wrapChannel(dc, events)
		if events.OnDataChannel != nil {
			events.OnDataChannel(ch)
		}
	})
}

// drain discards remote media; the headless client does not render it.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (l *rtcLink) AddTrack(track webrtc.TrackLocal) error {
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	// RTCP must be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (l *rtcLink) AddReceiveOnly(kind webrtc.RTPCodecType) error {
	_, err := l.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	return nil
}

func (l *rtcLink) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (l *rtcLink) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (l *rtcLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(desc)
}

func (l *rtcLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

func (l *rtcLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *rtcLink) HasRemoteDescription() bool {
	return l.pc.RemoteDescription() != nil
}

func (l *rtcLink) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := l.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %s: %w", label, err)
	}
	return wrapChannel(dc, l.events), nil
}

func (l *rtcLink) Close() error {
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Msg("closed")
	return nil
}

func wrapChannel(dc *webrtc.DataChannel, events LinkEvents) DataChannel {
	dc.OnOpen(func() {
		log.Debug().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel opened")
		if events.OnChannelOpen != nil {
			events.OnChannelOpen(dc)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString && events.OnChatMessage != nil {
			events.OnChatMessage(string(msg.Data))
		}
	})
	return dc
}
