package api

import (
	"ctrlv/cfg"
	"ctrlv/pkg/domain"
	"ctrlv/svc/lim"
	"ctrlv/svc/svc"
	"ctrlv/svc/util"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const maxRecentLimit = 100

type Hdl struct {
	paste  *svc.Paste
	lim    *lim.Limiter
	hasher *util.IPHasher
	cfg    *cfg.Cfg
}
type CreateReq struct {
	Content    string `json:"content"`
	Language   string `json:"language,omitempty"`
	Title      string `json:"title,omitempty"`
	CustomURL  string `json:"customUrl,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	IsPrivate  bool   `json:"isPrivate,omitempty"`
}
type CreateResp struct {
	*domain.Paste
	PasteID string `json:"pasteId"`
}
type errBody struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	RequestID string                 `json:"request_id"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(errBody{
			Error:     "expected Content-Type: application/json",
			Code:      domain.ErrInvalidRequest.Code,
			RequestID: requestID,
		})
		return
	}
	var req CreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Str("request_id", requestID).Msg("empty request body")
		} else {
			log.Warn().Err(err).Str("request_id", requestID).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	params := domain.CreateParams{
		Content:        req.Content,
		SyntaxLanguage: req.Language,
		Title:          req.Title,
		CustomURL:      req.CustomURL,
		Expiration:     req.Expiration,
		IsPrivate:      req.IsPrivate,
	}
	if h.hasher != nil {
		realIP := h.lim.ClientKey(r)
		ipHash, err := h.hasher.HashIP(realIP)
		if err != nil {
			log.Error().Err(err).Str("ip", util.RedactIP(realIP)).Msg("failed to hash client IP")
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
		params.ClientIPHash = ipHash
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			log.Warn().Err(err).Str("request_id", requestID).Msg("create rejected")
		}
		writeErr(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{Paste: paste, PasteID: paste.Key()})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	paste, err := h.paste.Get(r.Context(), key)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	hlog.FromRequest(r).Debug().
		Str("key", key).
		Int64("views", paste.Views).
		Str("request_id", requestID).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	if err := h.paste.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (h *Hdl) RecentPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		limit = min(n, maxRecentLimit)
	}
	out, err := h.paste.ListRecentPublic(r.Context(), limit)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(out)
}
func (h *Hdl) SearchPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	q := r.URL.Query()
	out, err := h.paste.Search(r.Context(), domain.SearchParams{
		Query:    q.Get("q"),
		Language: q.Get("language"),
	})
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(out)
}
func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	out, err := h.paste.List(r.Context())
	if err != nil {
		writeErr(w, err, util.GetRequestID(r.Context()))
		return
	}
	json.NewEncoder(w).Encode(out)
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errBody{
		Error:     resp.Error.Msg,
		Code:      resp.Error.Code,
		Meta:      resp.Error.Meta,
		RequestID: requestID,
	})
}
