package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"word-guess-service/internal/app"
	"word-guess-service/internal/domain"
)

// APIHandler serves the session creation, snapshot and admin endpoints.
type APIHandler struct {
	registry      *app.Registry
	adminPassword string
}

func NewAPIHandler(registry *app.Registry, adminPassword string) *APIHandler {
	return &APIHandler{registry: registry, adminPassword: adminPassword}
}

// NewRouter wires every HTTP route of the service.
func NewRouter(api *APIHandler, ws *WSHandler) *httprouter.Router {
	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Write([]byte("ok"))
	})
	router.POST("/new_game", api.NewGame)
	router.POST("/game_list", api.GameList)
	router.GET("/games/:game_id", api.Snapshot)
	router.POST("/games/:game_id/change_theme", api.ChangeTheme)
	router.GET("/games/:game_id/ws", ws.ServeWS)
	return router
}

type newGameRequest struct {
	User          uuid.UUID `json:"user"`
	Password      string    `json:"password"`
	Answer        string    `json:"answer"`
	AnswerLimit   int       `json:"ans_limit"`
	QuestionLimit int       `json:"question_limit"`
	TimeLimit     int       `json:"time_limit"` // seconds
}

type changeThemeRequest struct {
	Password string `json:"password"`
	Answer   string `json:"answer"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// NewGame creates a session after the judge validates the proposed answer.
func (h *APIHandler) NewGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req newGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password != h.adminPassword {
		http.Error(w, "password is incorrect", http.StatusForbidden)
		return
	}

	id, err := h.registry.Create(r.Context(), domain.GameParams{
		User:          req.User,
		Answer:        req.Answer,
		AnswerLimit:   req.AnswerLimit,
		QuestionLimit: req.QuestionLimit,
		TimeLimit:     time.Duration(req.TimeLimit) * time.Second,
	})
	if err != nil {
		if errors.Is(err, domain.ErrThemeRejected) {
			http.Error(w, "the proposed answer is not usable", http.StatusBadRequest)
			return
		}
		log.Printf("create game failed: %v", err)
		http.Error(w, "judge unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]int{"game_id": id})
}

// GameList returns the admin overview of every session.
func (h *APIHandler) GameList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password != h.adminPassword {
		http.Error(w, "password is incorrect", http.StatusForbidden)
		return
	}
	writeJSON(w, h.registry.List())
}

// Snapshot serves the read-only state of one session.
func (h *APIHandler) Snapshot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, ok := h.lookup(w, ps)
	if !ok {
		return
	}
	writeJSON(w, session.Snapshot())
}

// ChangeTheme pins the next game's answer and force-completes the redirect
// of an already finished session.
func (h *APIHandler) ChangeTheme(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req changeThemeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password != h.adminPassword {
		http.Error(w, "password is incorrect", http.StatusForbidden)
		return
	}
	id, err := strconv.Atoi(ps.ByName("game_id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	if err := h.registry.PinNextAnswer(id, req.Answer); err != nil {
		http.Error(w, "unknown game id", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"message": "theme for the next game has been changed"})
}

func (h *APIHandler) lookup(w http.ResponseWriter, ps httprouter.Params) (*app.Session, bool) {
	id, err := strconv.Atoi(ps.ByName("game_id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return nil, false
	}
	session, ok := h.registry.Get(id)
	if !ok {
		http.Error(w, "unknown game id", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
