// Package admin exposes the operator/bot boundary over HTTP: identity
// deletion, strikes and pardons, announcements, IP bans, and report
// retrieval. Clients never reach these endpoints; access is gated by a
// shared secret supplied out of band.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/identity"
	"github.com/crosstalk/chat-server/internal/message"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/moderation"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/report"
	"github.com/crosstalk/chat-server/internal/ws"
)

// Handler serves the administrative endpoints.
type Handler struct {
	secret     string
	identities *identity.Service
	strikes    *moderation.Strikes
	ipbans     *moderation.IPBans
	reports    *report.Service
	messages   *message.Log
	bus        events.Bus
	conns      *ws.Manager
	log        zerolog.Logger
}

// New wires the admin handler.
func New(
	secret string,
	identities *identity.Service,
	strikes *moderation.Strikes,
	ipbans *moderation.IPBans,
	reports *report.Service,
	messages *message.Log,
	bus events.Bus,
	conns *ws.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		secret:     secret,
		identities: identities,
		strikes:    strikes,
		ipbans:     ipbans,
		reports:    reports,
		messages:   messages,
		bus:        bus,
		conns:      conns,
		log:        log.With().Str("component", "admin").Logger(),
	}
}

// Mount registers the admin routes on the mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/identities/{username}/delete", h.auth(h.deleteIdentity))
	mux.HandleFunc("POST /admin/identities/{id}/strike", h.auth(h.strike))
	mux.HandleFunc("POST /admin/identities/{id}/pardon", h.auth(h.pardon))
	mux.HandleFunc("POST /admin/announcements", h.auth(h.announce))
	mux.HandleFunc("POST /admin/ipbans", h.auth(h.blockIP))
	mux.HandleFunc("DELETE /admin/ipbans/{ip}", h.auth(h.unblockIP))
	mux.HandleFunc("GET /admin/reports", h.auth(h.recentReports))
}

// auth gates a handler behind the shared secret, compared in constant
// time.
func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Secret")
		if h.secret == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) httpErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("admin operation failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// deleteIdentity is the administrative delete action, addressed by
// username. Each delete counts as a strike against the identity, so the
// response carries the escalation result alongside the removal: the
// account is gone, its sessions revoked, and its connections dropped.
func (h *Handler) deleteIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := h.identities.GetByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.httpErr(w, err)
		return
	}
	state, err := h.applyStrike(r.Context(), ident.ID)
	if err != nil {
		h.httpErr(w, err)
		return
	}
	if err := h.identities.Delete(r.Context(), ident.ID); err != nil {
		h.httpErr(w, err)
		return
	}
	h.disconnectIdentity(ident.ID)
	writeJSON(w, http.StatusOK, strikeResult(ident.ID, state))
}

// strike records a moderation strike without removing the account.
func (h *Handler) strike(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := h.applyStrike(r.Context(), id)
	if err != nil {
		h.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strikeResult(id, state))
}

// applyStrike advances the escalation state machine. When the resulting
// step carries a ban, the identity's sessions are revoked and its
// connections told and closed.
func (h *Handler) applyStrike(ctx context.Context, identityID string) (domain.BanState, error) {
	state, err := h.strikes.Strike(ctx, identityID)
	if err != nil {
		return domain.BanState{}, err
	}
	metrics.StrikesTotal.Inc()

	if state.Permanent || state.Banned(time.Now()) {
		kind := "timed"
		if state.Permanent {
			kind = "permanent"
		}
		metrics.BansTotal.WithLabelValues(kind).Inc()
		if err := h.identities.RevokeSessions(ctx, identityID); err != nil {
			h.log.Error().Err(err).Str("identity", identityID).Msg("session revoke failed")
		}
		h.notifyBanned(identityID, state)
		h.disconnectIdentity(identityID)
	}
	return state, nil
}

func strikeResult(identityID string, state domain.BanState) map[string]interface{} {
	return map[string]interface{}{
		"identity":  identityID,
		"strikes":   state.Strikes,
		"permanent": state.Permanent,
		"until":     state.Until,
	}
}

func (h *Handler) pardon(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.strikes.Pardon(r.Context(), id); err != nil {
		h.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pardoned", "identity": id})
}

// announce appends an announcement to the global thread so it lands in
// history, then broadcasts it to every connected client.
func (h *Handler) announce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	stored, _, err := h.messages.Append(r.Context(), domain.GlobalThreadID, "system", "", body.Content, domain.KindAnnouncement)
	if err != nil {
		h.httpErr(w, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeAnnouncement, protocol.AnnouncementMsg{
		Content: stored.Content,
		Ts:      stored.CreatedAt.Unix(),
	})
	if err == nil {
		if err := h.bus.Publish(events.SubjectBroadcast, data); err != nil {
			h.log.Error().Err(err).Msg("announcement publish failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "announced", "message_id": stored.ID})
}

func (h *Handler) blockIP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP       string `json:"ip"`
		Duration string `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IP == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	d, err := time.ParseDuration(body.Duration)
	if err != nil || d <= 0 {
		http.Error(w, "bad duration", http.StatusBadRequest)
		return
	}
	if err := h.ipbans.Block(r.Context(), body.IP, d); err != nil {
		h.httpErr(w, err)
		return
	}
	metrics.BansTotal.WithLabelValues("ip").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "ip": body.IP})
}

func (h *Handler) unblockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if err := h.ipbans.Unblock(r.Context(), ip); err != nil {
		h.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked", "ip": ip})
}

func (h *Handler) recentReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	reports, err := h.reports.Recent(r.Context(), limit)
	if err != nil {
		h.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

func (h *Handler) notifyBanned(identityID string, state domain.BanState) {
	msg := protocol.BannedMsg{Permanent: state.Permanent}
	if !state.Until.IsZero() {
		msg.Until = state.Until.Unix()
	}
	data, err := protocol.NewServerMessage(protocol.TypeBanned, msg)
	if err != nil {
		return
	}
	for _, c := range h.conns.ForIdentity(identityID) {
		_ = c.WriteMessage(data)
	}
}

func (h *Handler) disconnectIdentity(identityID string) {
	for _, c := range h.conns.ForIdentity(identityID) {
		_ = c.Close()
	}
}
