package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"wasend/internal/dispatch"
	"wasend/internal/phone"
	"wasend/internal/session"
	"wasend/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classify maps domain errors onto an HTTP status and a stable kind tag.
// Callers key UI behavior off the kind, never the message text.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrAlreadyInProgress):
		return http.StatusConflict, "already_in_progress"
	case errors.Is(err, session.ErrProvisioningTimeout):
		return http.StatusGatewayTimeout, "provisioning_timeout"
	case errors.Is(err, session.ErrAuthFailed):
		return http.StatusUnauthorized, "auth_failed"
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusBadRequest, "not_connected"
	case errors.Is(err, session.ErrTerminated):
		return http.StatusConflict, "terminated"
	case errors.Is(err, dispatch.ErrEmptyBatch),
		errors.Is(err, dispatch.ErrBatchTooLarge),
		errors.Is(err, dispatch.ErrEmptyPayload),
		errors.Is(err, dispatch.ErrRecipientInvalid),
		errors.Is(err, phone.ErrInvalidFormat):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, dispatch.ErrRecipientUnregistered):
		return http.StatusBadRequest, "unregistered"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", logx.String("path", r.URL.Path), logx.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func sessionID(r *http.Request, bodyID string) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	return session.NormalizeID(bodyID)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "wasend", "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type initializeRequest struct {
	SessionID string `json:"session_id"`
}

type initializeResponse struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Identity  *transportIdentity `json:"identity,omitempty"`
	QR        string             `json:"qr,omitempty"`
	QRImage   string             `json:"qr_image,omitempty"`
}

type transportIdentity struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
		return
	}
	id := sessionID(r, req.SessionID)

	res, err := s.manager.Initiate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := initializeResponse{SessionID: id}
	if res.Connected {
		resp.Status = "connected"
		if res.Identity != nil {
			resp.Identity = &transportIdentity{DisplayName: res.Identity.DisplayName, Address: res.Identity.Address}
		}
	} else {
		resp.Status = "qr_generated"
		if res.Artifact != nil {
			resp.QR = res.Artifact.Code
			resp.QRImage = res.Artifact.DataURI
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r, "")
	snap := s.manager.Status(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": snap.ID,
		"state":      snap.State,
		"connected":  snap.State == session.StateConnected,
		"snapshot":   snap,
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r, "")
	ident := s.manager.Identity(id)
	if ident == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no connected session", Kind: "not_connected"})
		return
	}
	writeJSON(w, http.StatusOK, transportIdentity{DisplayName: ident.DisplayName, Address: ident.Address})
}

type sendBulkRequest struct {
	SessionID  string          `json:"session_id"`
	Numbers    []string        `json:"numbers"`
	Message    string          `json:"message"`
	Attachment *attachmentBody `json:"attachment,omitempty"`
}

type attachmentBody struct {
	Path     string `json:"path"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

func (b *attachmentBody) toPayload() *dispatch.Attachment {
	if b == nil {
		return nil
	}
	return &dispatch.Attachment{Path: b.Path, FileName: b.FileName, MimeType: b.MimeType}
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req sendBulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
		return
	}
	id := sessionID(r, req.SessionID)

	report, err := s.dispatcher.Dispatch(r.Context(), id, req.Numbers, dispatch.Payload{
		Text:       req.Message,
		Attachment: req.Attachment.toPayload(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type sendTestRequest struct {
	SessionID string `json:"session_id"`
	Number    string `json:"number"`
	Message   string `json:"message"`
}

func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	var req sendTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
		return
	}
	id := sessionID(r, req.SessionID)

	item, err := s.dispatcher.SendTest(r.Context(), id, req.Number, dispatch.Payload{Text: req.Message})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": item})
}

type validateRequest struct {
	Numbers []string `json:"numbers"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Validate(req.Numbers))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r, "")
	s.manager.Terminate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "disconnected"})
}

func (s *Server) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r, "")
	s.manager.ForceCleanup(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "cleaned"})
}
