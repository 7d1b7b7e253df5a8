package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/raaihank/mailguard/internal/cache"
	"github.com/raaihank/mailguard/internal/classify"
	"github.com/raaihank/mailguard/internal/privacy"
	"github.com/raaihank/mailguard/internal/store"
	"github.com/raaihank/mailguard/internal/websocket"
	"go.uber.org/zap"
)

// emailRequest is the body of /classify and /mask
type emailRequest struct {
	InputEmailBody *string `json:"input_email_body"`
}

// classifyResponse mirrors the field order of the classification service
type classifyResponse struct {
	InputEmailBody       string            `json:"input_email_body"`
	ListOfMaskedEntities []privacy.Finding `json:"list_of_masked_entities"`
	MaskedEmail          string            `json:"masked_email"`
	CategoryOfTheEmail   string            `json:"category_of_the_email"`
}

// demaskRequest is a masked document as returned by /mask
type demaskRequest struct {
	MaskedEmail          *string           `json:"masked_email"`
	ListOfMaskedEntities []privacy.Finding `json:"list_of_masked_entities"`
}

type demaskResponse struct {
	Email string `json:"email"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// handleClassify masks the email, classifies the masked text and returns both
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decodeEmail(w, r, &req) {
		return
	}

	result, ok := s.maskText(w, r, *req.InputEmailBody)
	if !ok {
		return
	}

	requestID := getRequestID(r.Context())
	label, cacheHit, err := s.classifyMasked(r.Context(), result.MaskedText)
	if err != nil {
		s.logger.WithRequestID(requestID).Error("Classification failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "classification failed")
		return
	}

	s.metrics.Classifications.WithLabelValues(label.Label).Inc()
	s.recordAudit(r.Context(), requestID, result.MaskedDocument, label, cacheHit)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeClassification,
		RequestID: requestID,
		Data: websocket.ClassificationEvent{
			RequestID:  requestID,
			Label:      label.Label,
			Confidence: label.Confidence,
			CacheHit:   cacheHit,
			Findings:   len(result.Findings),
		},
	})

	writeJSON(w, http.StatusOK, classifyResponse{
		InputEmailBody:       result.Original,
		ListOfMaskedEntities: result.Findings,
		MaskedEmail:          result.MaskedText,
		CategoryOfTheEmail:   label.Label,
	})
}

// handleMask returns the masked document without classifying it
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decodeEmail(w, r, &req) {
		return
	}

	result, ok := s.maskText(w, r, *req.InputEmailBody)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, result.MaskedDocument)
}

// handleDemask restores the original email from a masked document
func (s *Server) handleDemask(w http.ResponseWriter, r *http.Request) {
	var req demaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.MaskedEmail == nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "masked_email is required")
		return
	}

	requestID := getRequestID(r.Context())
	doc := privacy.MaskedDocument{MaskedText: *req.MaskedEmail, Findings: req.ListOfMaskedEntities}

	original, err := s.detector.Restore(doc)
	if err != nil {
		var mismatch *privacy.DocumentMismatchError
		if !errors.As(err, &mismatch) {
			s.logger.WithRequestID(requestID).Error("Restore failed", zap.Error(err))
			s.writeError(w, r, http.StatusInternalServerError, "restore failed")
			return
		}

		s.metrics.RestoreFailures.WithLabelValues(string(mismatch.Kind)).Inc()
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRestore,
			RequestID: requestID,
			Data: websocket.RestoreEvent{
				RequestID: requestID,
				Findings:  len(doc.Findings),
				Success:   false,
				Reason:    string(mismatch.Kind),
			},
		})
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRestore,
		RequestID: requestID,
		Data: websocket.RestoreEvent{
			RequestID: requestID,
			Findings:  len(doc.Findings),
			Success:   true,
		},
	})

	writeJSON(w, http.StatusOK, demaskResponse{Email: original})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "mailguard",
		"version":           Version,
		"privacy_enabled":   s.detector.Enabled(),
		"detectors":         s.detector.GetEnabledRules(),
		"labels":            s.classifier.Labels(),
		"cache_enabled":     s.cache != nil,
		"audit_enabled":     s.audit != nil,
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime":            time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// statsResponse aggregates cache and audit statistics for the dashboard
type statsResponse struct {
	Cache  *cache.CacheStats           `json:"cache"`
	Audit  *store.Stats                `json:"audit"`
	Recent []store.ClassificationEvent `json:"recent"`
	Errors map[string]string           `json:"errors,omitempty"`
}

// handleStats reports label cache and audit log statistics. A failing
// backend is reported in errors without failing the request.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be between 0 and 100")
			return
		}
		limit = n
	}

	resp := statsResponse{Recent: []store.ClassificationEvent{}, Errors: map[string]string{}}
	ctx := r.Context()

	if s.cache != nil {
		stats, err := s.cache.GetStats(ctx)
		if err != nil {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
			resp.Errors["cache"] = "unavailable"
		}
		resp.Cache = stats
	}

	if s.audit != nil {
		stats, err := s.audit.GetStats(ctx)
		if err != nil {
			s.logger.Warn("Failed to read audit stats", zap.Error(err))
			resp.Errors["audit"] = "unavailable"
		}
		resp.Audit = stats

		if limit > 0 && err == nil {
			recent, err := s.audit.Recent(ctx, limit)
			if err != nil {
				s.logger.Warn("Failed to read recent events", zap.Error(err))
				resp.Errors["recent"] = "unavailable"
			} else {
				resp.Recent = recent
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// maskText runs the detector and reports findings. It writes the error
// response itself and returns false when masking fails.
func (s *Server) maskText(w http.ResponseWriter, r *http.Request, text string) (privacy.ProcessResult, bool) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	start := time.Now()
	result, err := s.detector.ProcessText(text)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("Masking failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "masking failed")
		return privacy.ProcessResult{}, false
	}
	s.metrics.ObserveMask(elapsed)

	if len(result.Findings) == 0 {
		return result, true
	}

	counts := make(map[string]int)
	for category, n := range result.CategoryCounts() {
		counts[string(category)] = n
	}
	s.metrics.AddFindings(counts)

	log.Info("PII masked in request",
		zap.Int("findings_count", len(result.Findings)),
		zap.Any("categories", counts),
	)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePIIDetection,
		RequestID: requestID,
		Data: websocket.PIIDetectionEvent{
			RequestID:     requestID,
			Path:          r.URL.Path,
			ClientIP:      getClientIP(r),
			Categories:    counts,
			TotalFindings: len(result.Findings),
			ProcessingMS:  float64(elapsed.Microseconds()) / 1000,
		},
	})

	return result, true
}

// classifyMasked consults the label cache before the classifier
func (s *Server) classifyMasked(ctx context.Context, maskedText string) (classify.Result, bool, error) {
	if s.cache != nil {
		lookup, err := s.cache.Get(ctx, maskedText)
		switch {
		case err != nil:
			s.metrics.CacheLookups.WithLabelValues("error").Inc()
		case lookup.CacheHit && lookup.Label != nil:
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return classify.Result{Label: lookup.Label.Label, Confidence: lookup.Label.Confidence}, true, nil
		default:
			s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	result, err := s.classifier.Classify(ctx, maskedText)
	if err != nil {
		return classify.Result{}, false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, maskedText, &cache.CachedLabel{Label: result.Label, Confidence: result.Confidence}); err != nil {
			s.logger.Warn("Failed to cache label", zap.Error(err))
		}
	}

	return result, false, nil
}

// recordAudit writes the classification to the audit log. Failures are
// logged and do not fail the request.
func (s *Server) recordAudit(ctx context.Context, requestID string, doc privacy.MaskedDocument, result classify.Result, cacheHit bool) {
	if s.audit == nil {
		return
	}

	counts := store.EntityCounts{}
	for category, n := range doc.CategoryCounts() {
		counts[string(category)] = n
	}

	event := &store.ClassificationEvent{
		RequestID:    requestID,
		TextHash:     hashText(doc.MaskedText),
		Label:        result.Label,
		EntityCounts: counts,
		MaskedLength: len(doc.MaskedText),
		CacheHit:     cacheHit,
	}
	if err := s.audit.Insert(ctx, event); err != nil {
		s.logger.WithRequestID(requestID).Warn("Failed to record classification event", zap.Error(err))
	}
}

// decodeEmail decodes an emailRequest and requires input_email_body
func (s *Server) decodeEmail(w http.ResponseWriter, r *http.Request, req *emailRequest) bool {
	if !s.decode(w, r, req) {
		return false
	}
	if req.InputEmailBody == nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "input_email_body is required")
		return false
	}
	return true
}

// decode reads a JSON body limited to the configured size
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: getRequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
