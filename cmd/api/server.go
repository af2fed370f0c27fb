package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transitwatch/incident"
	"transitwatch/transit"
	"transitwatch/user"
	"transitwatch/verification"
)

// UserService is the slice of the user service the handlers need.
type UserService interface {
	Register(ctx context.Context, req user.RegisterRequest) (*user.User, error)
	Login(ctx context.Context, req user.LoginRequest) (user.LoginResult, error)
	GetByID(ctx context.Context, userID string) (*user.User, error)
}

// TransitService exposes the read-only network surface.
type TransitService interface {
	GetRoute(ctx context.Context, id string) (transit.Route, error)
	ListRoutes(ctx context.Context, limit int) ([]transit.RouteWithIncidents, error)
	GetStop(ctx context.Context, id string) (transit.Stop, error)
	ListStops(ctx context.Context, limit int) ([]transit.StopWithIncidents, error)
}

// IncidentService exposes incident reporting and lifecycle operations.
type IncidentService interface {
	Create(ctx context.Context, params incident.CreateParams) (incident.Incident, error)
	Get(ctx context.Context, id string) (incident.Incident, error)
	List(ctx context.Context, filters incident.Filters) (incident.ListResult, error)
	ListActiveByRoute(ctx context.Context, routeID string) ([]incident.Incident, error)
	UpdateStatus(ctx context.Context, id string, status incident.Status) (incident.Incident, error)
	Stats(ctx context.Context) (incident.Stats, error)
}

// VerificationService exposes the consensus engine.
type VerificationService interface {
	SubmitVote(ctx context.Context, req verification.SubmitVoteRequest) (verification.Outcome, error)
	ListByIncident(ctx context.Context, incidentID string) ([]verification.Vote, error)
}

// Server routes HTTP requests to the domain services.
type Server struct {
	userService         UserService
	transitService      TransitService
	incidentService     IncidentService
	verificationService VerificationService
}

// Routes wires the handler tree onto a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/users/", s.handleUserDetail)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/routes", s.handleRoutes)
	mux.HandleFunc("/api/routes/", s.handleRouteDetail)
	mux.HandleFunc("/api/stops", s.handleStops)
	mux.HandleFunc("/api/stops/", s.handleStopDetail)
	mux.HandleFunc("/api/incidents", s.handleIncidents)
	mux.HandleFunc("/api/incidents/", s.handleIncidentDetail)
	mux.HandleFunc("/api/verifications", s.handleVerifications)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req user.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.userService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateUsername):
			writeError(w, http.StatusBadRequest, "username already exists")
		case errors.Is(err, user.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.internalError(w, "register user", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(*u))
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	u, err := s.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "get user", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(*u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req user.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.userService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.internalError(w, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	routes, err := s.transitService.ListRoutes(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, "list routes", err)
		return
	}

	items := make([]routeResponse, 0, len(routes))
	for _, rt := range routes {
		resp := toRouteResponse(rt.Route)
		resp.ActiveIncidents = &rt.ActiveIncidents
		items = append(items, resp)
	}
	writeJSON(w, http.StatusOK, listPayload[routeResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleRouteDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/routes/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "route id required")
		return
	}

	switch sub {
	case "":
		route, err := s.transitService.GetRoute(r.Context(), id)
		if err != nil {
			if errors.Is(err, transit.ErrRouteNotFound) {
				writeError(w, http.StatusNotFound, "route not found")
				return
			}
			s.internalError(w, "get route", err)
			return
		}
		writeJSON(w, http.StatusOK, toRouteResponse(route))
	case "incidents":
		if _, err := s.transitService.GetRoute(r.Context(), id); err != nil {
			if errors.Is(err, transit.ErrRouteNotFound) {
				writeError(w, http.StatusNotFound, "route not found")
				return
			}
			s.internalError(w, "get route", err)
			return
		}
		incidents, err := s.incidentService.ListActiveByRoute(r.Context(), id)
		if err != nil {
			s.internalError(w, "list route incidents", err)
			return
		}
		items := make([]incidentResponse, 0, len(incidents))
		for _, inc := range incidents {
			items = append(items, toIncidentResponse(inc))
		}
		writeJSON(w, http.StatusOK, listPayload[incidentResponse]{Items: items, Total: len(items)})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stops, err := s.transitService.ListStops(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, "list stops", err)
		return
	}

	items := make([]stopResponse, 0, len(stops))
	for _, st := range stops {
		resp := toStopResponse(st.Stop)
		resp.NearbyIncidents = &st.NearbyIncidents
		items = append(items, resp)
	}
	writeJSON(w, http.StatusOK, listPayload[stopResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleStopDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/stops/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "stop id required")
		return
	}

	stop, err := s.transitService.GetStop(r.Context(), id)
	if err != nil {
		if errors.Is(err, transit.ErrStopNotFound) {
			writeError(w, http.StatusNotFound, "stop not found")
			return
		}
		s.internalError(w, "get stop", err)
		return
	}

	writeJSON(w, http.StatusOK, toStopResponse(stop))
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := incident.Filters{Status: incident.Status(r.URL.Query().Get("status"))}
		if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
			filters.Page = page
		}
		if size, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil {
			filters.PageSize = size
		}

		result, err := s.incidentService.List(r.Context(), filters)
		if err != nil {
			if errors.Is(err, incident.ErrInvalidStatus) {
				writeError(w, http.StatusBadRequest, "invalid status filter")
				return
			}
			s.internalError(w, "list incidents", err)
			return
		}

		items := make([]incidentResponse, 0, len(result.Items))
		for _, inc := range result.Items {
			items = append(items, toIncidentResponse(inc))
		}
		writeJSON(w, http.StatusOK, listPayload[incidentResponse]{Items: items, Total: result.Total})
	case http.MethodPost:
		var req createIncidentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inc, err := s.incidentService.Create(r.Context(), incident.CreateParams{
			Title:        req.Title,
			Description:  req.Description,
			Type:         incident.Type(req.IncidentType),
			Severity:     incident.Severity(req.Severity),
			RouteID:      req.RouteID,
			StopID:       req.StopID,
			ReporterID:   req.ReporterID,
			DelayMinutes: req.DelayMinutes,
		})
		if err != nil {
			switch {
			case errors.Is(err, incident.ErrRouteNotFound):
				writeError(w, http.StatusNotFound, "route not found")
				return
			case errors.Is(err, incident.ErrStopNotFound):
				writeError(w, http.StatusNotFound, "stop not found")
				return
			case errors.Is(err, incident.ErrReporterNotFound):
				writeError(w, http.StatusNotFound, "user not found")
				return
			case errors.Is(err, incident.ErrInvalidInput):
				writeError(w, http.StatusBadRequest, err.Error())
				return
			case errors.Is(err, incident.ErrRewardNotApplied):
				// The incident committed; the points grant will be reconciled.
				log.Printf("incident created but report reward pending: %v", err)
			default:
				s.internalError(w, "create incident", err)
				return
			}
		}

		writeJSON(w, http.StatusCreated, toIncidentResponse(inc))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleIncidentDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/incidents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "incident id required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetIncident(w, r, id)
	case sub == "status" && r.Method == http.MethodPut:
		s.handleUpdateIncidentStatus(w, r, id)
	case sub == "verifications" && r.Method == http.MethodGet:
		s.handleIncidentVerifications(w, r, id)
	case sub == "" || sub == "status" || sub == "verifications":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request, id string) {
	inc, err := s.incidentService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.internalError(w, "get incident", err)
		return
	}

	detail := incidentDetailResponse{incidentResponse: toIncidentResponse(inc)}

	if route, err := s.transitService.GetRoute(r.Context(), inc.RouteID); err == nil {
		resp := toRouteResponse(route)
		detail.Route = &resp
	}
	if inc.StopID != nil {
		if stop, err := s.transitService.GetStop(r.Context(), *inc.StopID); err == nil {
			resp := toStopResponse(stop)
			detail.Stop = &resp
		}
	}
	if reporter, err := s.userService.GetByID(r.Context(), inc.ReporterID); err == nil {
		resp := toUserResponse(*reporter)
		detail.Reporter = &resp
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateIncidentStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inc, err := s.incidentService.UpdateStatus(r.Context(), id, incident.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, incident.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, "invalid status; must be one of: active, resolved, verified, disputed")
		case errors.Is(err, incident.ErrNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
		default:
			s.internalError(w, "update incident status", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, toIncidentResponse(inc))
}

func (s *Server) handleIncidentVerifications(w http.ResponseWriter, r *http.Request, id string) {
	inc, err := s.incidentService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.internalError(w, "get incident", err)
		return
	}

	votes, err := s.verificationService.ListByIncident(r.Context(), inc.ID)
	if err != nil {
		s.internalError(w, "list verifications", err)
		return
	}

	items := make([]voteResponse, 0, len(votes))
	for _, v := range votes {
		items = append(items, toVoteResponse(v))
	}
	writeJSON(w, http.StatusOK, listPayload[voteResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleVerifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.verificationService.SubmitVote(r.Context(), verification.SubmitVoteRequest{
		IncidentID: req.IncidentID,
		UserID:     req.UserID,
		Confirmed:  req.IsVerified,
		Comment:    req.Comment,
	})
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrDuplicateVote):
			writeError(w, http.StatusConflict, "user has already voted on this incident")
			return
		case errors.Is(err, verification.ErrIncidentNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
			return
		case errors.Is(err, verification.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
			return
		case errors.Is(err, verification.ErrRewardNotApplied):
			// The vote committed; the points grant will be reconciled.
			log.Printf("vote accepted but reward pending: %v", err)
		default:
			s.internalError(w, "submit vote", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, voteOutcomeResponse{
		Vote:              toVoteResponse(out.Vote),
		VerificationCount: out.VerificationCount,
		DisputeCount:      out.DisputeCount,
		Status:            string(out.Status),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.incidentService.Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalIncidents:    stats.TotalIncidents,
		ActiveIncidents:   stats.ActiveIncidents,
		ResolvedIncidents: stats.ResolvedIncidents,
		ByType:            stats.ByType,
		BySeverity:        stats.BySeverity,
	})
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	log.Printf("%s: %v", action, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type listPayload[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	CreatedAt string `json:"createdAt"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type routeResponse struct {
	ID              string `json:"id"`
	RouteNumber     string `json:"routeNumber"`
	RouteName       string `json:"routeName"`
	TransportType   string `json:"transportType"`
	ActiveIncidents *int   `json:"activeIncidents,omitempty"`
}

type stopResponse struct {
	ID              string  `json:"id"`
	StopName        string  `json:"stopName"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	NearbyIncidents *int    `json:"nearbyIncidents,omitempty"`
}

type createIncidentRequest struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	IncidentType string  `json:"incidentType"`
	Severity     string  `json:"severity"`
	RouteID      string  `json:"routeId"`
	StopID       *string `json:"stopId"`
	ReporterID   string  `json:"reporterId"`
	DelayMinutes *int    `json:"delayMinutes"`
}

type incidentResponse struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	IncidentType      string  `json:"incidentType"`
	Severity          string  `json:"severity"`
	Status            string  `json:"status"`
	RouteID           string  `json:"routeId"`
	StopID            *string `json:"stopId"`
	ReporterID        string  `json:"reporterId"`
	DelayMinutes      *int    `json:"delayMinutes"`
	ReportedAt        string  `json:"reportedAt"`
	ResolvedAt        *string `json:"resolvedAt"`
	VerificationCount int     `json:"verificationCount"`
	DisputeCount      int     `json:"disputeCount"`
}

type incidentDetailResponse struct {
	incidentResponse
	Route    *routeResponse `json:"route,omitempty"`
	Stop     *stopResponse  `json:"stop,omitempty"`
	Reporter *userResponse  `json:"reporter,omitempty"`
}

type submitVoteRequest struct {
	IncidentID string  `json:"incidentId"`
	UserID     string  `json:"userId"`
	IsVerified bool    `json:"isVerified"`
	Comment    *string `json:"comment"`
}

type voteResponse struct {
	ID         string  `json:"id"`
	IncidentID string  `json:"incidentId"`
	UserID     string  `json:"userId"`
	IsVerified bool    `json:"isVerified"`
	Comment    *string `json:"comment"`
	VerifiedAt string  `json:"verifiedAt"`
}

type voteOutcomeResponse struct {
	Vote              voteResponse `json:"vote"`
	VerificationCount int          `json:"verificationCount"`
	DisputeCount      int          `json:"disputeCount"`
	Status            string       `json:"status"`
}

type statsResponse struct {
	TotalIncidents    int            `json:"totalIncidents"`
	ActiveIncidents   int            `json:"activeIncidents"`
	ResolvedIncidents int            `json:"resolvedIncidents"`
	ByType            map[string]int `json:"byType"`
	BySeverity        map[string]int `json:"bySeverity"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Points:    u.Points,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toRouteResponse(r transit.Route) routeResponse {
	return routeResponse{
		ID:            r.ID,
		RouteNumber:   r.RouteNumber,
		RouteName:     r.RouteName,
		TransportType: r.TransportType,
	}
}

func toStopResponse(st transit.Stop) stopResponse {
	return stopResponse{
		ID:        st.ID,
		StopName:  st.StopName,
		Latitude:  st.Latitude,
		Longitude: st.Longitude,
	}
}

func toIncidentResponse(inc incident.Incident) incidentResponse {
	resp := incidentResponse{
		ID:                inc.ID,
		Title:             inc.Title,
		Description:       inc.Description,
		IncidentType:      string(inc.Type),
		Severity:          string(inc.Severity),
		Status:            string(inc.Status),
		RouteID:           inc.RouteID,
		StopID:            inc.StopID,
		ReporterID:        inc.ReporterID,
		DelayMinutes:      inc.DelayMinutes,
		ReportedAt:        inc.ReportedAt.Format(time.RFC3339),
		VerificationCount: inc.VerificationCount,
		DisputeCount:      inc.DisputeCount,
	}
	if inc.ResolvedAt != nil {
		formatted := inc.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &formatted
	}
	return resp
}

func toVoteResponse(v verification.Vote) voteResponse {
	return voteResponse{
		ID:         v.ID,
		IncidentID: v.IncidentID,
		UserID:     v.UserID,
		IsVerified: v.Confirmed,
		Comment:    v.Comment,
		VerifiedAt: v.VerifiedAt.Format(time.RFC3339),
	}
}
