package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/queue"
)

// maxChunkBytes caps a single chunk upload.
const maxChunkBytes = 4 << 20

// Verifier resolves an answer submission synchronously.
type Verifier interface {
	Verify(ctx context.Context, token, answer, ip, userAgent string) (*captcha.Outcome, error)
}

// Ingestor accepts one behavioral chunk.
type Ingestor interface {
	IngestChunk(ctx context.Context, chunk chunks.Chunk) error
}

// Server holds the HTTP surface. When Queue is set, verification runs
// asynchronously: submit returns a task id and the client polls for the
// outcome.
type Server struct {
	Keys     captcha.Store
	Service  *captcha.Service
	Verifier Verifier
	Ingestor Ingestor
	Queue    queue.Queue
	Async    bool
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /captcha/problem", s.handleProblem)
	mux.HandleFunc("POST /captcha/verify", s.handleVerify)
	mux.HandleFunc("GET /captcha/verify/result/{taskId}", s.handleVerifyResult)
	mux.HandleFunc("POST /events/chunk", s.handleChunk)
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	return mux
}

func (s *Server) handleProblem(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-Api-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing api key")
		return
	}

	key, err := s.Keys.ApiKeyByKey(r.Context(), apiKey)
	if errors.Is(err, captcha.ErrInvalidAPIKey) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	if err != nil {
		log.Printf("[API] api key lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	problem, err := s.Service.IssueProblem(r.Context(), key, clientIP(r), r.UserAgent())
	switch {
	case errors.Is(err, captcha.ErrQuotaExhausted):
		writeError(w, http.StatusPaymentRequired, "token balance exhausted")
		return
	case errors.Is(err, captcha.ErrNoProblemAvailable):
		writeError(w, http.StatusServiceUnavailable, "no active problem available")
		return
	case err != nil:
		log.Printf("[API] issuing problem failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

type verifyRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Client-Token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing client token")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if s.Async && s.Queue != nil {
		taskID, err := s.Queue.Submit(r.Context(), queue.Task{
			Type:      queue.TaskVerify,
			SessionID: token,
			Answer:    req.Answer,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			log.Printf("[API] submitting verify task failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
		return
	}

	outcome, err := s.Verifier.Verify(r.Context(), token, req.Answer, clientIP(r), r.UserAgent())
	switch {
	case errors.Is(err, captcha.ErrInvalidToken):
		writeError(w, http.StatusNotFound, "unknown client token")
		return
	case errors.Is(err, captcha.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, "session already verified")
		return
	case err != nil:
		log.Printf("[API] verification failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleVerifyResult(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		writeError(w, http.StatusNotFound, "async verification disabled")
		return
	}
	taskID := r.PathValue("taskId")

	result, found, err := s.Queue.Result(r.Context(), taskID)
	if err != nil {
		log.Printf("[API] loading task %s failed: %v", taskID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown task id")
		return
	}

	switch result.Status {
	case queue.StatusPending:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(queue.StatusPending)})
	case queue.StatusFailure:
		writeError(w, http.StatusInternalServerError, result.Error)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result.Outcome)
	}
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	chunk, err := chunks.ParseChunk(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Persisting the chunk never holds up the client; a lost chunk only
	// degrades the behavioral signal.
	go func() {
		if err := s.Ingestor.IngestChunk(context.Background(), chunk); err != nil {
			log.Printf("[API] ingesting chunk %d/%d for session %s failed: %v",
				chunk.ChunkIndex, chunk.TotalChunks, chunk.SessionID, err)
		}
	}()
	writeJSON(w, http.StatusOK, map[string]string{"message": "chunk accepted"})
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
