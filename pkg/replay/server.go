package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/cellpilot/pkg/chat"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

const shutdownTimeout = 5 * time.Second

// Server answers backend requests from a Scenario.
type Server struct {
	scenario *Scenario
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	consumed map[int]int
}

// NewServer creates a replay server.
func NewServer(s *Scenario) *Server {
	return &Server{
		scenario: s,
		log:      slog.Default().With("component", "replay"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		consumed: make(map[int]int),
	}
}

// Handler returns the HTTP handler serving every backend endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/restart_kernel", s.handleRestart)
	mux.HandleFunc("GET /api/kernel_status", s.handleStatus)
	mux.HandleFunc("/ws/chat", s.handleChat)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Replay backend listening.", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// next returns the response for cellID and advances its cursor.
func (s *Server) next(cellID int) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.scenario.Cells[cellID]
	if !ok {
		if s.scenario.Default != nil {
			return *s.scenario.Default, true
		}
		return Response{}, false
	}
	i := s.consumed[cellID]
	if i >= len(rs) {
		i = len(rs) - 1
	}
	s.consumed[cellID]++
	return rs[i], true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req notebook.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusUnprocessableEntity)
		return
	}
	s.log.Debug("Execute.", "cell_id", req.CellID, "code_len", len(req.Code))

	resp, ok := s.next(req.CellID)
	if !ok {
		msg := fmt.Sprintf("no scenario entry for cell %d", req.CellID)
		writeJSON(w, executeBody{
			Status: "error",
			Outputs: []notebook.WireOutput{{
				Type: notebook.KindError, Ename: "KernelError", Evalue: msg, Traceback: []string{msg},
			}},
		})
		return
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	outputs := resp.Outputs
	if outputs == nil {
		outputs = []notebook.WireOutput{}
	}
	writeJSON(w, executeBody{Status: resp.Status, Outputs: outputs})
}

type executeBody struct {
	Status  string                `json:"status"`
	Outputs []notebook.WireOutput `json:"outputs"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if rs := s.scenario.Restart; rs != nil && rs.Status != "restarted" {
		writeJSON(w, rs)
		return
	}
	s.mu.Lock()
	s.consumed = make(map[int]int)
	s.mu.Unlock()
	s.log.Info("Kernel restarted.")
	writeJSON(w, Restart{Status: "restarted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if st := s.scenario.KernelStatus; st != "" && st != "running" {
		writeJSON(w, map[string]string{"status": st})
		return
	}
	id := s.scenario.KernelID
	if id == "" {
		id = "replay"
	}
	writeJSON(w, map[string]string{"status": "running", "kernel_id": id})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Chat upgrade failed.", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req chat.Request
		if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Message) == "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chat.ErrorMarker)); err != nil {
				return
			}
			continue
		}
		for _, chunk := range s.scenario.Chat.reply(req.Message) {
			if chunk == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
				return
			}
			if d := s.scenario.Chat.Delay; d > 0 {
				time.Sleep(d)
			}
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(chat.EndMarker)); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Write replay response failed.", "error", err)
	}
}
