// Command chorus-router runs the signaling server and sharded media
// router: it accepts signaling websockets per channel and forwards
// media between WebRTC and Plain-RTP transports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chorus-voice/mediacore/internal/router"
	"github.com/chorus-voice/mediacore/internal/signaling"
	"github.com/chorus-voice/mediacore/internal/tls"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "chorus-router",
	Short: "Run the signaling server and media router for chorus voice/screen-share channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ":8443", "HTTP listen address for the signaling endpoint")
	flags.String("listen-ip", "0.0.0.0", "fallback for --announced-ip when that is empty")
	flags.String("announced-ip", "", "IP Plain-RTP transports bind to and report to senders in rtp_target (defaults to listen-ip); not used for ICE candidates")
	flags.Int("workers", runtime.NumCPU(), "number of channel-router shards")
	flags.StringSlice("stun-server", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server URLs for WebRTC transports")
	flags.Bool("tls", false, "terminate the signaling endpoint with an ephemeral self-signed TLS certificate")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("CHORUS_ROUTER")
	v.AutomaticEnv()
	_ = v.BindEnv("listen-ip", "WEBRTC_LISTEN_IP")
	_ = v.BindEnv("announced-ip", "WEBRTC_ANNOUNCED_IP")
	_ = v.BindEnv("workers", "MEDIA_WORKER_COUNT")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	listenIP := v.GetString("listen-ip")
	announcedIP := v.GetString("announced-ip")
	if announcedIP == "" {
		announcedIP = listenIP
	}
	workers := v.GetInt("workers")
	if workers <= 0 {
		workers = 1
	}

	iceServers := []webrtc.ICEServer{}
	for _, urlStr := range v.GetStringSlice("stun-server") {
		urlStr = strings.TrimSpace(urlStr)
		if urlStr == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{urlStr}})
	}

	mgr := router.NewManager(workers, announcedIP, iceServers)

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		signaling.HandleWebsocket(mgr, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workers":      workers,
			"listen_ip":    listenIP,
			"announced_ip": announcedIP,
		})
	})

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	if v.GetBool("tls") {
		cfg, err := tls.SelfSigned()
		if err != nil {
			return fmt.Errorf("self-signed certificate: %w", err)
		}
		srv.TLSConfig = cfg
		go func() {
			log.Printf("router: listening on %s over TLS (workers=%d listen_ip=%s announced_ip=%s)", srv.Addr, workers, listenIP, announcedIP)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	} else {
		go func() {
			log.Printf("router: listening on %s (workers=%d listen_ip=%s announced_ip=%s)", srv.Addr, workers, listenIP, announcedIP)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Printf("router: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
