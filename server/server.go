package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/pkg/ingest"
	"github.com/typefold/newsrag/pkg/pipeline"
	"github.com/typefold/newsrag/pkg/retrieval"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the WebSocket frame. Type is one of status, matches, stream,
// response, error.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Server exposes the pipeline over HTTP: JSON endpoints for ingest, sync
// and retrieval, plus a WebSocket endpoint that streams summaries.
type Server struct {
	pipeline *pipeline.Pipeline
}

func New(p *pipeline.Pipeline) *Server {
	return &Server{pipeline: p}
}

// Handler returns the route table. The caller owns the http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/retrieve", s.handleRetrieve)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("Starting server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type ingestRequest struct {
	Query       string `json:"query"`
	Sources     string `json:"sources"`
	Category    string `json:"category"`
	Country     string `json:"country"`
	Headlines   bool   `json:"headlines"`
	MaxArticles int    `json:"max_articles"`
	Enrich      bool   `json:"enrich"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stats, err := s.pipeline.Ingest(r.Context(), ingest.Options{
		Query:           req.Query,
		Sources:         req.Sources,
		Category:        req.Category,
		Country:         req.Country,
		Headlines:       req.Headlines,
		MaxArticles:     req.MaxArticles,
		EnrichTruncated: req.Enrich,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var stats interface{}
	var err error
	if r.URL.Query().Get("reembed") == "true" {
		stats, err = s.pipeline.Reembed(r.Context())
	} else {
		stats, err = s.pipeline.Sync(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, stats)
}

type matchResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Score       float32   `json:"score"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}

	opts := retrieval.Options{Source: r.URL.Query().Get("source")}
	if v := r.URL.Query().Get("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			http.Error(w, "invalid top_k", http.StatusBadRequest)
			return
		}
		opts.TopK = k
	}
	if v := r.URL.Query().Get("min_similarity"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 1 {
			http.Error(w, "invalid min_similarity", http.StatusBadRequest)
			return
		}
		// The pipeline treats zero as unset, so an explicit zero floor maps
		// to the disabled-floor value.
		if f == 0 {
			opts.MinSimilarity = retrieval.FloorDisabled
		} else {
			opts.MinSimilarity = float32(f)
		}
	}

	matches, err := s.pipeline.Retrieve(r.Context(), query, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, toMatchResponses(matches))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleSummarize(r.Context(), conn, msg)
	}
}

func (s *Server) handleSummarize(ctx context.Context, conn *websocket.Conn, msg Message) {
	topic := msg.Content
	if topic == "" {
		s.sendMessage(conn, "error", "empty topic")
		return
	}

	s.sendMessage(conn, "status", "Retrieving articles for: "+topic)

	stream, matches, err := s.pipeline.SummarizeStream(ctx, topic, retrieval.Options{})
	if err != nil {
		s.sendMessage(conn, "error", err.Error())
		return
	}
	if len(matches) == 0 {
		s.sendMessage(conn, "response", "No relevant articles found.")
		return
	}

	if err := conn.WriteJSON(Message{Type: "matches", Data: toMatchResponses(matches)}); err != nil {
		log.Printf("Error sending message: %v", err)
		return
	}

	for chunk := range stream {
		s.sendMessage(conn, "stream", chunk)
	}
	s.sendMessage(conn, "response", "")
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func toMatchResponses(matches []models.Match) []matchResponse {
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse{
			ID:          m.Article.ID,
			Title:       m.Article.Title,
			URL:         m.Article.URL,
			Source:      m.Article.Source,
			PublishedAt: m.Article.PublishedAt,
			Score:       m.Score,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
