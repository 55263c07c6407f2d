package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"taskline/internal/apperr"
	"taskline/internal/repo"
)

// correlationEcho reflects the caller's X-Correlation-Id so responses can be
// matched back to the logical action that produced them.
func correlationEcho(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cid := r.Header.Get("X-Correlation-Id"); cid != "" {
			w.Header().Set("X-Correlation-Id", cid)
		}
		next.ServeHTTP(w, r)
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// responseRecorder buffers the response so a completed mutation can be
// stored against its request id.
type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(p)
	return rr.ResponseWriter.Write(p)
}

const idempotencyPollInterval = 25 * time.Millisecond

// newIdempotencyMiddleware makes mutations carrying X-Request-Id safe to
// retry. The id is reserved in request_log before the handler runs, so of
// two concurrent attempts exactly one executes; the other waits for the
// winner's stored outcome and replays it with the X-Idempotent-Replay
// header set.
//
// Only settled outcomes are stored: a 5xx attempt releases its reservation,
// so a retry after a transient failure re-executes.
func newIdempotencyMiddleware(r repo.Repo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqID := req.Header.Get("X-Request-Id")
			if reqID == "" || !mutating(req.Method) {
				next.ServeHTTP(w, req)
				return
			}
			for {
				reserved, err := r.ReserveRequest(req.Context(), reqID, req.Method, req.URL.Path,
					time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					// reservation store unavailable; execute unrecorded
					next.ServeHTTP(w, req)
					return
				}
				if reserved {
					executeAndRecord(r, next, w, req, reqID)
					return
				}
				stored, err := r.FindRequest(req.Context(), reqID)
				if err != nil {
					next.ServeHTTP(w, req)
					return
				}
				if stored != nil && !stored.Pending() {
					replayStored(w, stored)
					return
				}
				// the winning attempt is still executing, or just released
				// its reservation; poll until it settles
				select {
				case <-req.Context().Done():
					writeInFlightProblem(w, req)
					return
				case <-time.After(idempotencyPollInterval):
				}
			}
		})
	}
}

func executeAndRecord(r repo.Repo, next http.Handler, w http.ResponseWriter, req *http.Request, reqID string) {
	rr := &responseRecorder{ResponseWriter: w}
	next.ServeHTTP(rr, req)
	// bookkeeping must land even when the caller has gone away
	ctx := context.WithoutCancel(req.Context())
	if rr.status == 0 || rr.status >= 500 {
		_ = r.ReleaseRequest(ctx, reqID)
		return
	}
	_ = r.CompleteRequest(ctx, reqID, rr.status, rr.Header().Get("Content-Type"), rr.buf.String())
}

func replayStored(w http.ResponseWriter, stored *repo.StoredResponse) {
	ct := stored.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("X-Idempotent-Replay", "true")
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(stored.Status)
	w.Write([]byte(stored.BodyJSON))
}

// writeInFlightProblem answers a duplicate whose winning attempt has not
// settled before the duplicate's context ran out. 503 keeps it in the
// retryable class, so the client comes back once the outcome is stored.
func writeInFlightProblem(w http.ResponseWriter, req *http.Request) {
	body, _ := json.Marshal(ProblemBody{
		Type:     apperr.ProblemType(apperr.Unavailable),
		Title:    apperr.Title(apperr.Unavailable),
		Status:   http.StatusServiceUnavailable,
		Detail:   "request id is still being processed",
		Instance: req.URL.Path,
	})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write(body)
}
