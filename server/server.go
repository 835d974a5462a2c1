package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/answer"
	"github.com/talkbase/talkbase/pkg/retriever"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is one websocket frame: status updates, the evidence list, and
// the final answer all arrive as typed messages.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Stats is the read-only configuration exposed at /api/stats.
type Stats struct {
	ChunkSize    int     `json:"chunk_size"`
	OverlapRatio float64 `json:"overlap_ratio"`
	TopK         int     `json:"top_k"`
}

// Config configures the HTTP surface.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	Stats          Stats
	Logger         zerolog.Logger
}

// Server is the thin HTTP surface over retrieval and synthesis. It owns no
// pipeline state; ingestion runs through the CLI.
type Server struct {
	retriever   *retriever.Retriever
	synthesizer *answer.Synthesizer
	config      Config
	log         zerolog.Logger
}

// New wires the HTTP surface around the query path.
func New(r *retriever.Retriever, s *answer.Synthesizer, config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	return &Server{
		retriever:   r,
		synthesizer: s,
		config:      config,
		log:         config.Logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the route table, so tests can drive the server without a
// listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/prompt", s.handlePrompt)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.config.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type promptRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type evidenceEntry struct {
	TalkID  string  `json:"talk_id"`
	Title   string  `json:"title"`
	Speaker string  `json:"speaker"`
	URL     string  `json:"url"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

type promptResponse struct {
	Answer               string          `json:"answer"`
	InsufficientEvidence bool            `json:"insufficient_evidence"`
	Context              []evidenceEntry `json:"context"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	log := s.log.With().Str("request_id", requestID).Logger()

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := s.answerQuestion(ctx, req.Question, req.TopK)
	if err != nil {
		status, message := statusForError(err)
		log.Warn().Err(err).Int("status", status).Msg("prompt failed")
		writeError(w, status, message)
		return
	}

	log.Info().Int("evidence", len(resp.Evidence)).
		Bool("insufficient", resp.InsufficientEvidence).Msg("prompt answered")
	writeJSON(w, http.StatusOK, toPromptResponse(resp))
}

func (s *Server) answerQuestion(ctx context.Context, question string, topK int) (*models.AnswerResponse, error) {
	rc, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	return s.synthesizer.Synthesize(ctx, question, rc)
}

func toPromptResponse(resp *models.AnswerResponse) promptResponse {
	out := promptResponse{
		Answer:               resp.Answer,
		InsufficientEvidence: resp.InsufficientEvidence,
		Context:              make([]evidenceEntry, 0, len(resp.Evidence)),
	}
	for _, e := range resp.Evidence {
		out.Context = append(out.Context, evidenceEntry{
			TalkID:  e.Chunk.TalkID,
			Title:   e.Chunk.Meta.Title,
			Speaker: e.Chunk.Meta.Speaker,
			URL:     e.Chunk.Meta.URL,
			Text:    e.Chunk.Text,
			Score:   e.Score,
		})
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleWebSocket serves the streaming variant of /api/prompt: the client
// sends {"type":"prompt","content":question} frames and receives status,
// evidence, and answer frames per question.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}

		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "prompt" {
		s.sendMessage(conn, Message{Type: "error", Content: "unknown message type: " + msg.Type})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	s.sendMessage(conn, Message{Type: "status", Content: "retrieving context"})

	rc, err := s.retriever.Retrieve(ctx, msg.Content, 0)
	if err != nil {
		_, message := statusForError(err)
		s.sendMessage(conn, Message{Type: "error", Content: message})
		return
	}

	resp, err := s.synthesizer.Synthesize(ctx, msg.Content, rc)
	if err != nil {
		_, message := statusForError(err)
		s.sendMessage(conn, Message{Type: "error", Content: message})
		return
	}

	full := toPromptResponse(resp)
	s.sendMessage(conn, Message{Type: "evidence", Data: full.Context})
	s.sendMessage(conn, Message{Type: "answer", Content: full.Answer, Data: full})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn().Err(err).Msg("websocket write failed")
	}
}

// statusForError maps the error taxonomy onto HTTP statuses: caller
// mistakes are 400s, capability faults are 503s.
func statusForError(err error) (int, string) {
	var invalid *types.InvalidInputError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, invalid.Error()
	}
	var unavailable *types.UnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable,
			string(unavailable.Capability) + " temporarily unavailable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "request timed out"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
