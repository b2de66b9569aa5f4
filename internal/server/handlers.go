package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"palaver/internal/models"
	"palaver/internal/store"
)

const (
	maxMessageLen     = 2000
	maxChannelNameLen = 20
)

type handler struct {
	store ChatStore
	relay Relay
}

// createMessage persists a message authored by the verified identity. The
// client announces the returned id over its live connection afterwards;
// this handler never broadcasts.
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID int64  `json:"channelId"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLen {
		http.Error(w, "Message content must be 1-2000 characters", http.StatusBadRequest)
		return
	}
	if req.ChannelID < 1 {
		http.Error(w, "Field \"channelId\" must be a valid channel id", http.StatusBadRequest)
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), req.ChannelID, identityFrom(r), content)
	if err != nil {
		if errors.Is(err, store.ErrMissingReference) {
			http.Error(w, "Referenced item no longer exists", http.StatusBadRequest)
			return
		}
		slog.Error("[API] Failed to create message", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// listMessages returns the channel's bounded recent history, oldest first.
func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.URL.Query().Get("channel"), 10, 64)
	if err != nil || channelID < 1 {
		http.Error(w, "Query parameter \"channel\" must be a valid channel id", http.StatusBadRequest)
		return
	}

	msgs, err := h.store.RecentMessages(r.Context(), channelID)
	if err != nil {
		slog.Error("[API] Failed to list messages", "channel", channelID, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.Channels(r.Context())
	if err != nil {
		slog.Error("[API] Failed to list channels", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}

	writeJSON(w, http.StatusOK, channels)
}

// createChannel persists a channel and relays the record to everyone.
func (h *handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxChannelNameLen {
		http.Error(w, "Channel name must be 1-20 characters", http.StatusBadRequest)
		return
	}

	ch, err := h.store.CreateChannel(r.Context(), name, identityFrom(r))
	if err != nil {
		if errors.Is(err, store.ErrChannelExists) {
			http.Error(w, "A channel with that name already exists", http.StatusConflict)
			return
		}
		slog.Error("[API] Failed to create channel", "name", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.relay.AnnounceChannelCreated(ch)

	writeJSON(w, http.StatusCreated, ch)
}

// deleteChannel deletes a channel (creator only, never the reserved one)
// and relays the deletion to everyone. Members of the channel are not
// force-disconnected; their clients redirect themselves.
func (h *handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || channelID < 1 {
		http.Error(w, "Path segment must be a valid channel id", http.StatusBadRequest)
		return
	}

	err = h.store.DeleteChannel(r.Context(), channelID, identityFrom(r).UserID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrChannelNotFound):
			http.Error(w, "Channel not found", http.StatusNotFound)
		case errors.Is(err, store.ErrReservedChannel):
			http.Error(w, "The general channel cannot be deleted", http.StatusForbidden)
		case errors.Is(err, store.ErrNotCreator):
			http.Error(w, "Only the channel creator can delete it", http.StatusForbidden)
		default:
			slog.Error("[API] Failed to delete channel", "channel", channelID, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.relay.AnnounceChannelDeleted(channelID)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("[API] Failed to marshal response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Error("[API] Failed to write response", "error", err)
	}
}
