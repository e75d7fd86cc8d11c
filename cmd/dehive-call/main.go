package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/ice"
	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/media/pion"
	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/signaling/memory"
	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/signaling/ws"
	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driving/httpapi"
	"github.com/Decode-Labs-Web3/dehive-call/internal/config"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/port"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/service"
)

// loopbackPeer is the user id of the in-process counterpart when running
// against the memory relay (SIGNALING_URL=loopback).
const loopbackPeer = "loopback-peer"

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	iceProvider := ice.NewProvider(cfg.Ice.Endpoint)
	mediaEngine := pion.NewEngine()
	peerManager := pion.NewPeerManager(iceProvider, mediaEngine)

	var gateway port.SignalingGateway
	if cfg.Signaling.URL == "loopback" {
		relay := memory.NewRelay()
		gateway = relay.Register(domain.UserID(cfg.Signaling.UserID))
		startLoopbackPeer(relay, iceProvider)
		log.Info().Str("peer", loopbackPeer).Msg("Loopback mode, call the in-process peer")
	} else {
		gateway = ws.NewClient(cfg.Signaling.URL, domain.UserID(cfg.Signaling.UserID))
	}

	callService := service.NewCallService(gateway, peerManager, mediaEngine)
	h := httpapi.NewHandler(callService)

	srv := &http.Server{
		Addr:    cfg.API.Addr(),
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting control API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start control API")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Control API forced to shutdown")
	}

	// Ends any active call before the signaling channel goes away.
	callService.Close()
	if err := gateway.Close(); err != nil {
		log.Error().Err(err).Msg("Signaling close failed")
	}

	log.Info().Msg("Exited")
}

// startLoopbackPeer runs a second full client on the relay that accepts
// every incoming call, so the whole stack can be exercised on one machine.
func startLoopbackPeer(relay *memory.Relay, iceProvider *ice.Provider) {
	media := pion.NewEngine()
	peers := pion.NewPeerManager(iceProvider, media)
	svc := service.NewCallService(relay.Register(loopbackPeer), peers, media)

	states, _ := svc.Subscribe()
	go func() {
		for state := range states {
			if state.Status == domain.StatusRingingIncoming {
				svc.AcceptCall()
			}
		}
	}()
}
