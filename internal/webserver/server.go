package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/broadcast"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"go.uber.org/zap"
)

var httpServer *http.Server

// webSocketBroadcaster bridges the broadcast package to the websocket hub.
type webSocketBroadcaster struct{}

func (w *webSocketBroadcaster) BroadcastMessage(message interface{}) {
	BroadcastMessage(message)
}

// BroadcastMessage forwards a typed message map to every websocket client.
func BroadcastMessage(message interface{}) {
	msgMap, ok := message.(map[string]interface{})
	if !ok {
		return
	}
	msgType, hasType := msgMap["type"].(string)
	if !hasType {
		return
	}
	if data, hasData := msgMap["data"]; hasData {
		BroadcastWSMessage(msgType, data)
		return
	}
	cleanData := make(map[string]interface{})
	for k, v := range msgMap {
		if k != "type" {
			cleanData[k] = v
		}
	}
	BroadcastWSMessage(msgType, cleanData)
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

// StartWebServer starts the dashboard API on the given port.
func StartWebServer(st *store.Store, port int) error {
	broadcast.SetBroadcaster(&webSocketBroadcaster{})
	StartWSHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/api/leaderboard", corsMiddleware(handleLeaderboard(st)))
	mux.HandleFunc("/api/drops/active", corsMiddleware(handleActiveDrops(st)))
	mux.HandleFunc("/api/drops/history", corsMiddleware(handleDropHistory))
	mux.HandleFunc("/ws", handleWebSocket)

	httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Web server stopped unexpectedly", zap.Error(err))
		}
	}()

	logger.Info("Web server started", zap.Int("port", port))
	return nil
}

// Shutdown stops the dashboard server, waiting briefly for in-flight
// requests.
func Shutdown() {
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Web server shutdown error", zap.Error(err))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
