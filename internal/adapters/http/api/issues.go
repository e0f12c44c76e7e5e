package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	service "github.com/AlexBiobelemo/Project-Andrew/internal/app"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/types"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

type reportResponse struct {
	Issue    types.Issue   `json:"issue"`
	Verdict  types.Verdict `json:"duplicate_check"`
	Replayed bool          `json:"replayed,omitempty"`
}

type duplicateResponse struct {
	Error   errorResponse `json:"error"`
	Verdict types.Verdict `json:"duplicate_check"`
}

type upvoteResponse struct {
	Issue types.Issue `json:"issue"`
	Voted bool        `json:"voted"`
}

// handleCheckDuplicates handles POST /issues/check-duplicates.
func (s *Server) handleCheckDuplicates(w http.ResponseWriter, r *http.Request) {
	const op = "api.check_duplicates"
	var req duplicateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := checkRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	cat, _ := model.ParseCategory(req.Category)
	v, err := s.deps.CheckDuplicate(r.Context(), model.DuplicateQuery{
		Category:    cat,
		Description: req.Description,
		Lat:         *req.Lat,
		Lng:         *req.Lng,
	})
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromVerdict(v))
}

// handleReportIssue handles POST /issues. A duplicate is answered with 409
// and the verdict unless the body sets force.
func (s *Server) handleReportIssue(w http.ResponseWriter, r *http.Request) {
	const op = "api.report_issue"
	var req reportRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := checkRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	cat, _ := model.ParseCategory(req.Category)
	rep, err := s.deps.ReportIssue(r.Context(), service.NewIssue{
		Category:       cat,
		Description:    req.Description,
		Lat:            *req.Lat,
		Lng:            *req.Lng,
		Force:          req.Force,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	switch {
	case errors.Is(err, service.ErrDuplicate):
		writeJSON(w, http.StatusConflict, duplicateResponse{
			Error:   errorResponse{Code: "duplicate", Message: "a matching issue was already reported nearby"},
			Verdict: types.FromVerdict(rep.Verdict),
		})
		return
	case err != nil:
		s.fail(w, r, op, err)
		return
	}

	status := http.StatusCreated
	if rep.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/issues/"+rep.Issue.ID)
	writeJSON(w, status, reportResponse{
		Issue:    types.FromIssue(&rep.Issue),
		Verdict:  types.FromVerdict(rep.Verdict),
		Replayed: rep.Replayed,
	})
}

// handleTopIssues handles GET /issues/top?limit=N.
func (s *Server) handleTopIssues(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_issues"
	n := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer")))
			return
		}
		n = v
	}
	if n > s.maxTopLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", WrapKind(op, ErrBadRequest, errors.New("limit exceeds "+strconv.Itoa(s.maxTopLimit))))
		return
	}
	entries, err := s.deps.TopIssues(r.Context(), n)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if entries == nil {
		entries = []types.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSearch handles GET /issues/search?q=&lat=&lng=&radius_m=&limit=.
// A location needs both lat and lng.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	const op = "api.search"
	req, err := parseSearch(r)
	if err == nil {
		err = checkRequest(req)
	}
	if err == nil && req.Limit > s.maxTopLimit {
		err = errors.New("limit exceeds " + strconv.Itoa(s.maxTopLimit))
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	q := model.SearchQuery{Text: req.Q, RadiusMeters: req.RadiusM, Limit: req.Limit}
	if req.Lat != nil && req.Lng != nil {
		q.Near = &model.Location{Lat: *req.Lat, Lng: *req.Lng}
	}
	res, err := s.deps.Search(r.Context(), q)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSearch(res))
}

func parseSearch(r *http.Request) (searchRequest, error) {
	v := r.URL.Query()
	req := searchRequest{Q: strings.TrimSpace(v.Get("q"))}
	number := func(key string) (*float64, error) {
		raw := v.Get(key)
		if raw == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New(key + " must be a number")
		}
		return &f, nil
	}
	var err error
	if req.Lat, err = number("lat"); err != nil {
		return req, err
	}
	if req.Lng, err = number("lng"); err != nil {
		return req, err
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		return req, errors.New("lat and lng must be given together")
	}
	radius, err := number("radius_m")
	if err != nil {
		return req, err
	}
	if radius != nil {
		req.RadiusM = *radius
	}
	if raw := v.Get("limit"); raw != "" {
		if req.Limit, err = strconv.Atoi(raw); err != nil || req.Limit < 1 {
			return req, errors.New("limit must be a positive integer")
		}
	}
	return req, nil
}

// handleGetIssue handles GET /issues/{id}.
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.deps.Issue(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "api.get_issue", err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromIssue(&issue))
}

// handleUpvote handles POST /issues/{id}/upvote. Votes toggle per identity.
func (s *Server) handleUpvote(w http.ResponseWriter, r *http.Request) {
	identity := logger.Identity(r.Context())
	issue, voted, err := s.deps.Upvote(r.Context(), r.PathValue("id"), identity)
	if err != nil {
		s.fail(w, r, "api.upvote", err)
		return
	}
	writeJSON(w, http.StatusOK, upvoteResponse{Issue: types.FromIssue(&issue), Voted: voted})
}

// handleUpdateStatus handles POST /issues/{id}/status.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_status"
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := checkRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	status, _ := model.ParseStatus(req.Status)
	issue, err := s.deps.UpdateStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromIssue(&issue))
}

// handleComputePriority handles POST /issues/{id}/priority. It reports the
// priority the issue would have right now without storing it.
func (s *Server) handleComputePriority(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.deps.Issue(r.Context(), id)
	if err != nil {
		s.fail(w, r, "api.compute_priority", err)
		return
	}
	writeJSON(w, http.StatusOK, types.Priority{IssueID: id, Priority: s.deps.ComputePriority(r.Context(), &issue)})
}

// handleSuspicion handles GET /admin/suspicion/{identity}.
func (s *Server) handleSuspicion(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Suspicion(r.Context(), r.PathValue("identity"))
	if err != nil {
		s.fail(w, r, "api.suspicion", err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromSuspicion(st))
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
	case errors.Is(err, service.ErrInFlight):
		writeError(w, http.StatusConflict, "in_flight", WrapKind(op, ErrConflict, err))
	case errors.Is(err, service.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case r.Context().Err() != nil:
		// client went away; nobody reads the body
		writeError(w, 499, "client_closed", nil)
	default:
		s.log.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
