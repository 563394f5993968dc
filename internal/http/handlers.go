package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"pettycash/internal/core"
	"pettycash/internal/log"
)

// multipart overhead allowed on top of the image itself
const formOverheadBytes = 1 << 20

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady runs the configured dependency checks
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks)+1)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
			s.logger.WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err)
			continue
		}
		checks[name] = "ok"
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_request_duration_avg_microseconds", "gauge", "Average request duration", traceMetrics.AverageResponseTime)
	metric("receipts_scanned_total", "counter", "Receipt previews served", atomic.LoadInt64(&s.appMetrics.scans))
	metric("submissions_total", "counter", "Submissions recorded in the ledger", atomic.LoadInt64(&s.appMetrics.submissions))
	metric("submission_failures_total", "counter", "Submissions that failed", atomic.LoadInt64(&s.appMetrics.submissionFailures))
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", s.securityDetector.SuspiciousRequests())
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.appMetrics.uptime).Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded",
			log.FieldPath, r.URL.Path,
			"error_type", log.ErrorTypeConfiguration)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	data := struct {
		Month string
	}{
		Month: time.Now().Format("2006-01"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.ErrorContext(r.Context(), "Index template execution failed", log.FieldError, err, "template", "index.html")
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

// handleOCR decodes the posted image and returns the extracted fields.
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload*4/3+formOverheadBytes)

	payload, err := parseOCRRequest(r)
	if err == nil {
		var x core.ExtractionResult
		if x, err = s.receipts.Scan(ctx, payload); err == nil {
			atomic.AddInt64(&s.appMetrics.scans, 1)
			logger.DebugContext(ctx, "Receipt scanned", log.NewFields().
				WithComponent(log.ComponentReceipt).
				WithReceipt(x.ReferenceNumber, x.AmountPaid).
				ToSlice()...)
			NewJSONResponse().Body(x).Write(w)
			return
		}
	}

	status := statusFor(err)
	logger.Log(ctx, levelFor(status), "Receipt scan failed",
		log.FieldComponent, log.ComponentReceipt,
		log.FieldOperation, log.OpRecognize,
		log.FieldError, err)
	msg := msgProcessImage
	if status == http.StatusRequestEntityTooLarge {
		msg = msgTooLarge
	}
	ErrorResponse(status, msg).Write(w)
}

// handleSubmit records a reimbursement form with its receipt image.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload*4/3+formOverheadBytes)

	sub, image, err := parseSubmission(r, s.maxUpload)
	if err == nil {
		res, serr := s.receipts.Submit(ctx, sub, image)
		if serr == nil {
			atomic.AddInt64(&s.appMetrics.submissions, 1)
			logger.DebugContext(ctx, "Submission stored", log.NewFields().
				WithComponent(log.ComponentReceipt).
				WithSubmission(sub.Month, sub.PID).
				WithReceipt(res.Extraction.ReferenceNumber, res.Extraction.AmountPaid).
				WithLedger(res.LedgerTitle, "").
				ToSlice()...)
			NewJSONResponse().Body(submitBody{
				Status:       "success",
				UpdatedRange: res.UpdatedRange,
				DocumentID:   res.DocumentID,
			}).Write(w)
			return
		}
		err = serr
	}

	atomic.AddInt64(&s.appMetrics.submissionFailures, 1)
	status := statusFor(err)
	fields := log.NewFields().
		WithComponent(log.ComponentReceipt).
		WithSubmission(sub.Month, sub.PID)
	logger.Log(ctx, levelFor(status), "Submission failed",
		fields.WithOperation(log.OpInsert).WithError(err).ToSlice()...)

	msg := msgSubmit
	switch {
	case status == http.StatusRequestEntityTooLarge:
		msg = msgTooLarge
	case errors.Is(err, core.ErrMissingField), errors.Is(err, core.ErrFieldTooLong):
		msg = err.Error()
	}
	ErrorResponse(status, msg).Write(w)
}

// statusFor maps workflow errors to HTTP statuses: caller mistakes are 400
// (413 for oversized uploads), everything else is 500. An image that fails
// to decode is a processing failure, not a caller mistake.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrMissingField),
		errors.Is(err, core.ErrFieldTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func levelFor(status int) slog.Level {
	if status >= 500 {
		return slog.LevelError
	}
	return slog.LevelWarn
}
