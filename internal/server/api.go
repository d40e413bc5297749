package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/scene"
	"github.com/sjawhar/ghost-puppet/internal/storage"
	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var validate = validator.New()

type SessionStore interface {
	GetSessionsByDate(date string) ([]storage.Session, error)
	GetSession(id string) (storage.Session, error)
	GetSegments(sessionID string) ([]transcribe.Segment, error)
	GetErrors(sessionID string) ([]storage.RecognitionError, error)
	GetDates() ([]string, error)
}

// Voice is the listening control exposed to the page.
type Voice interface {
	Toggle(ctx context.Context) bool
	Listening() bool
	Supported() bool
	Err() error
	Commands() []command.Rule
}

type Asker interface {
	Ask(ctx context.Context, text string) (string, bool)
}

type Character interface {
	Current() (scene.Animation, bool)
}

// Controls wires the API to the running components. Nil members turn the
// matching routes into 503s.
type Controls struct {
	Voice     Voice
	Asker     Asker
	Character Character
	Layout    scene.Layout
	Warnings  func() []string
}

type askRequest struct {
	Text string `json:"text" validate:"required,max=500"`
}

type commandView struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Match    string   `json:"match"`
	Message  string   `json:"message"`
	Color    string   `json:"color"`
}

func registerAPIRoutes(mux *http.ServeMux, hub *Hub, store SessionStore, controls Controls) {
	mux.HandleFunc("POST /api/listen/toggle", func(w http.ResponseWriter, r *http.Request) {
		if controls.Voice == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "voice control not configured")
			return
		}
		if err := controls.Voice.Err(); err != nil {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		listening := controls.Voice.Toggle(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, map[string]bool{"listening": listening})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		listening, supported := false, false
		if controls.Voice != nil {
			listening = controls.Voice.Listening()
			supported = controls.Voice.Supported()
		}
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"listening": listening,
			"supported": supported,
			"warnings":  warnings,
		})
	})

	mux.HandleFunc("GET /api/commands", func(w http.ResponseWriter, r *http.Request) {
		views := []commandView{}
		if controls.Voice != nil {
			for _, rule := range controls.Voice.Commands() {
				views = append(views, commandView{
					Name:     string(rule.Name),
					Keywords: rule.Keywords,
					Match:    string(rule.Match),
					Message:  rule.Message,
					Color:    rule.Color,
				})
			}
		}
		writeJSON(w, http.StatusOK, views)
	})

	mux.HandleFunc("GET /api/scene", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"layout": controls.Layout.WithDefaults()}
		if controls.Character != nil {
			if anim, ok := controls.Character.Current(); ok {
				resp["current"] = map[string]any{
					"name":        anim.Name,
					"command":     anim.Command,
					"duration_ms": anim.Duration.Milliseconds(),
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /api/ask", func(w http.ResponseWriter, r *http.Request) {
		if controls.Asker == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "assistant not configured")
			return
		}

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}

		reply, ok := controls.Asker.Ask(r.Context(), req.Text)
		if !ok {
			writeJSONError(w, http.StatusBadGateway, "assistant unavailable")
			return
		}
		hub.BroadcastAssistantReply(req.Text, reply)
		writeJSON(w, http.StatusOK, map[string]string{"text": reply})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		sessions, err := store.GetSessionsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}

		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		sessionData, err := store.GetSession(sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}

		segments, err := store.GetSegments(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session segments: %v", err))
			return
		}
		recErrors, err := store.GetErrors(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session errors: %v", err))
			return
		}
		if segments == nil {
			segments = []transcribe.Segment{}
		}
		if recErrors == nil {
			recErrors = []storage.RecognitionError{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":    sessionData,
			"segments":   segments,
			"errors":     recErrors,
			"transcript": transcribe.JoinText(segments),
		})
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
