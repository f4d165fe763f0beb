package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// A DB provides the durable chat store. The websocket relay writes into
// the same store, so everything served here is consistent with what the
// relay broadcasts.
type DB interface {
	ListChats(ctx context.Context, userID string) ([]Chat, error)
	GetChat(ctx context.Context, chatID string) (Chat, error)
	ListMessages(ctx context.Context, chatID string, excludeMsgIDs ...string) ([]Message, error)
	DeleteChat(ctx context.Context, chatID string) error
	BlockChat(ctx context.Context, chatID, userID string) error
	InsertReport(ctx context.Context, report Report) (Report, error)
}

// A Cache provides a storage layer that caches the most recent messages
// of a chat.
type Cache interface {
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// API provides the REST endpoints for the chat surface.
type API struct {
	Logger *slog.Logger
	DB     DB
	Cache  Cache
	Val    *Validator

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /chats", a.listChats)
	mux.HandleFunc("GET /chats/{chatID}", a.getChat)
	mux.HandleFunc("DELETE /chats/{chatID}", a.deleteChat)
	mux.HandleFunc("POST /chats/{chatID}/block", a.blockChat)
	mux.HandleFunc("POST /chats/{chatID}/reports", a.createReport)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Chats []Chat `json:"chats"`
	}

	userID := r.URL.Query().Get("user_id")
	if errs := a.Val.Validate(userID, "required"); len(errs) > 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("missing user_id"), "Query parameter user_id is required")
		return
	}

	chats, err := a.DB.ListChats(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list chats")
		return
	}
	a.Logger.Info("Got chats from DB", "user_id", userID, "count", len(chats))

	if chats == nil {
		chats = []Chat{}
	}
	a.respond(w, http.StatusOK, response{Chats: chats})
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")

	chat, err := a.DB.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Chat not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, "Could not get chat")
		return
	}

	// Get the most recent messages from the cache.
	msgs, err := a.Cache.ListMessages(r.Context(), chatID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	a.Logger.Info("Got messages from cache", "chat_id", chatID, "count", len(msgs))

	// Get any remaining messages from the DB.
	msgIDs := make([]string, len(msgs))
	for i, msg := range msgs {
		msgIDs[i] = msg.ID
	}

	dbMsgs, err := a.DB.ListMessages(r.Context(), chatID, msgIDs...)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	a.Logger.Info("Got remaining messages from DB", "chat_id", chatID, "count", len(dbMsgs))

	msgs = append(msgs, dbMsgs...)
	if msgs == nil {
		msgs = []Message{}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	chat.Messages = msgs
	a.respond(w, http.StatusOK, chat)
}

func (a *API) deleteChat(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	chatID := r.PathValue("chatID")
	if err := a.DB.DeleteChat(r.Context(), chatID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Chat not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, fmt.Sprintf("could not delete chat with id %s", chatID))
		return
	}

	if err := a.Cache.DeleteChat(r.Context(), chatID); err != nil {
		a.Logger.Error("Could not drop cached chat", "chat_id", chatID, "error", err.Error())
	}

	a.respond(w, http.StatusOK, response{Status: "deleted"})
}

func (a *API) blockChat(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			UserID string `json:"user_id" validate:"required"`
		}
		response struct {
			Status string `json:"status"`
		}
	)

	chatID := r.PathValue("chatID")
	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	if err := a.DB.BlockChat(r.Context(), chatID, body.UserID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Chat not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, fmt.Sprintf("could not block chat with id %s", chatID))
		return
	}

	a.respond(w, http.StatusOK, response{Status: "blocked"})
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			UserID string `json:"user_id" validate:"required"`
			Reason string `json:"reason" validate:"required"`
		}
		response struct {
			ID         string `json:"id"`
			ChatID     string `json:"chat_id"`
			ReporterID string `json:"reporter_id"`
			Reason     string `json:"reason"`
			CreatedAt  string `json:"created_at"`
		}
	)

	chatID := r.PathValue("chatID")
	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	report, err := a.DB.InsertReport(r.Context(), Report{
		ChatID:     chatID,
		ReporterID: body.UserID,
		Reason:     body.Reason,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Chat not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, fmt.Sprintf("could not report chat with id %s", chatID))
		return
	}

	a.respond(w, http.StatusCreated, response{
		ID:         report.ID,
		ChatID:     report.ChatID,
		ReporterID: report.ReporterID,
		Reason:     report.Reason,
		CreatedAt:  report.CreatedAt.Format(time.RFC3339),
	})
}
