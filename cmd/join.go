package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/capture"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/peer"
	"github.com/preetsinghmakkar/TeleConsult/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var joinFlags struct {
	baseURL     string
	room        string
	pin         string
	token       string
	receiveOnly bool
	noCamera    bool
	loopback    bool
	chat        bool
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a consultation room as a headless participant",
	Long: `Enters a room with a guest PIN or an access token, sends synthetic
audio and video (or nothing with --receive-only) and stays in the call until
interrupted. With --chat, lines read from stdin are sent as chat messages.`,
	RunE: runJoin,
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&joinFlags.baseURL, "url", "", "relay base URL (default PUBLIC_BASE_URL)")
	f.StringVar(&joinFlags.room, "room", "", "room id or guest link token")
	f.StringVar(&joinFlags.pin, "pin", "", "guest PIN")
	f.StringVar(&joinFlags.token, "token", os.Getenv("TELECONSULT_TOKEN"), "access token (default TELECONSULT_TOKEN)")
	f.BoolVar(&joinFlags.receiveOnly, "receive-only", false, "join without sending media")
	f.BoolVar(&joinFlags.noCamera, "no-camera", false, "simulate a missing camera")
	f.BoolVar(&joinFlags.loopback, "loopback", false, "gather loopback ICE candidates")
	f.BoolVar(&joinFlags.chat, "chat", false, "send stdin lines as chat messages")
	_ = joinCmd.MarkFlagRequired("room")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseURL := joinFlags.baseURL
	if baseURL == "" {
		baseURL = cfg.PublicBaseURL
	}
	if joinFlags.token == "" && joinFlags.pin == "" {
		return errors.New("join: --pin or --token is required")
	}

	room := transport.Room{
		BaseURL: baseURL,
		ID:      joinFlags.room,
		Credentials: transport.Credentials{
			BearerToken: joinFlags.token,
			PIN:         joinFlags.pin,
		},
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	httpTransport := transport.NewHTTPTransport(room, nil)
	joinCtx, joinCancel := context.WithTimeout(ctx, 15*time.Second)
	entry, err := httpTransport.Join(joinCtx)
	joinCancel()
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	log.Info().
		Str("module", "join").
		Str("room", entry.RoomID).
		Str("role", entry.Role).
		Time("start_at", entry.StartAt).
		Time("end_at", entry.EndAt).
		Msg("entered room")

	relay := transport.NewResilient(
		transport.NewWebSocketTransport(room, nil),
		httpTransport,
		transport.ResilientOptions{},
	)
	defer relay.Close()

	iceServers := entry.ICEServers
	if len(iceServers) == 0 {
		iceServers = cfg.ICEServers
	}

	ctrl, err := peer.New(peer.Config{
		Role:    models.PeerRole(entry.Role),
		Relay:   relay,
		NewLink: peer.NewRTCLinkFactory(peer.RTCConfig{ICEServers: iceServers, IncludeLoopback: joinFlags.loopback}),
		Probe:   capture.SyntheticProbe{NoCamera: joinFlags.noCamera},
		Capture: capture.Options{ForceReceiveOnly: joinFlags.receiveOnly},
		Sink:    peer.LogSink{},

		PollInterval: time.Duration(entry.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case <-sigc:
		case <-ctrl.Done():
			return
		}
		log.Info().Str("module", "join").Msg("hanging up")
		ctrl.Hangup()
		select {
		case <-sigc:
			cancel()
		case <-ctrl.Done():
		case <-time.After(10 * time.Second):
			cancel()
		}
	}()

	if joinFlags.chat {
		go readChat(ctrl)
	}

	err = ctrl.Run(ctx)
	log.Info().
		Str("module", "join").
		Str("transport", relay.Name()).
		Dur("duration", ctrl.CallDuration()).
		Msg("left room")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readChat(ctrl *peer.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := ctrl.SendChat(text); err != nil {
			if errors.Is(err, peer.ErrClosed) {
				return
			}
			log.Warn().Str("module", "chat").Err(err).Msg("message not sent")
		}
	}
}
