package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/bgmhub/internal/audio"
)

// WebRTCOptions tunes the Opus stream.
type WebRTCOptions struct {
	Bitrate    int      // Opus bitrate in bits/s; 0 means 96000
	ICEServers []string // STUN/TURN URLs; empty for LAN-only
}

// WebRTCHandler negotiates one-way Opus audio peers over a single POST of
// the browser's SDP offer (non-trickle ICE).
type WebRTCHandler struct {
	broadcaster *Broadcaster
	opts        WebRTCOptions

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

func NewWebRTCHandler(b *Broadcaster, opts WebRTCOptions) *WebRTCHandler {
	if opts.Bitrate <= 0 {
		opts.Bitrate = 96000
	}
	return &WebRTCHandler{
		broadcaster: b,
		opts:        opts,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) config() webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(h.opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: h.opts.ICEServers}}
	}
	return cfg
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	answer, err := h.answer(offer)
	if err != nil {
		log.Printf("STREAM: webrtc negotiation: %v", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(answer)
}

// answer builds a peer with one Opus track, waits for ICE gathering and
// starts streaming to it.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(h.config())
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"bgmhub",
	)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(ans); err != nil {
		pc.Close()
		return nil, err
	}
	<-webrtc.GatheringCompletePromise(pc)

	listener := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	log.Printf("STREAM: webrtc peer connected (total: %d)", h.PeerCount())

	var once sync.Once
	drop := func() {
		once.Do(func() {
			h.broadcaster.Unsubscribe(listener)
			h.mu.Lock()
			delete(h.peers, pc)
			h.mu.Unlock()
			pc.Close()
			log.Printf("STREAM: webrtc peer gone (remaining: %d)", h.PeerCount())
		})
	}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			go drop()
		}
	})
	go h.streamTo(listener, track, drop)

	return pc.LocalDescription(), nil
}

func (h *WebRTCHandler) streamTo(l *Listener, track *webrtc.TrackLocalStaticSample, drop func()) {
	defer drop()

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("STREAM: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(h.opts.Bitrate); err != nil {
		log.Printf("STREAM: opus bitrate %d: %v", h.opts.Bitrate, err)
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("STREAM: opus encode: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
