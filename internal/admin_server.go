package internal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/errors"
	"chat-relay/services"
)

// AdminServer is the operator HTTP surface. It binds on a separate
// address from the websocket gateway and speaks plain JSON; it is meant
// to stay behind the perimeter, there is no auth on it.
type AdminServer struct {
	gateway services.IGatewayService
	log     *slog.Logger
	httpSrv *http.Server
}

func NewAdminServer(addr string, gateway services.IGatewayService, log *slog.Logger) *AdminServer {
	s := &AdminServer{gateway: gateway, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /online", s.handleOnline)
	mux.HandleFunc("GET /rooms/members", s.handleRoomMembers)
	mux.HandleFunc("POST /notify/user", s.handleNotifyUser)
	mux.HandleFunc("POST /notify/room", s.handleNotifyRoom)
	mux.HandleFunc("POST /notify/all", s.handleNotifyAll)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *AdminServer) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *AdminServer) ListenAndServe() error {
	s.log.Info("admin surface listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Stats(r.Context()))
}

func (s *AdminServer) handleOnline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.gateway.ListOnline()})
}

func (s *AdminServer) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "room query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  roomID,
		"members": s.gateway.RoomMembers(roomID),
	})
}

type notifyRequest struct {
	UserID  string `json:"userId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
}

func (s *AdminServer) handleNotifyUser(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeNotify(w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.gateway.NotifyUser(r.Context(), req.UserID, req.Message); err != nil {
		if stderrors.Is(err, errors.ErrTargetOffline) {
			writeError(w, http.StatusNotFound, errors.ErrTargetOffline.Error())
			return
		}
		s.log.Error("notify user failed", "user_id", req.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": 1})
}

func (s *AdminServer) handleNotifyRoom(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeNotify(w, r)
	if !ok {
		return
	}
	if req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "roomId is required")
		return
	}
	delivered := s.gateway.NotifyRoom(r.Context(), req.RoomID, req.Message)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (s *AdminServer) handleNotifyAll(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeNotify(w, r)
	if !ok {
		return
	}
	delivered := s.gateway.NotifyAll(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (s *AdminServer) decodeNotify(w http.ResponseWriter, r *http.Request) (notifyRequest, bool) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return notifyRequest{}, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return notifyRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
