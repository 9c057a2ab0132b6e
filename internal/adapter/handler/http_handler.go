package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tdn1104/swapmeet/internal/core/domain"
	"github.com/tdn1104/swapmeet/internal/core/service"
	"github.com/tdn1104/swapmeet/internal/port"
)

// HTTPHandler exposes the exchange coordination core over HTTP.
type HTTPHandler struct {
	registry       *service.ListingRegistry
	machine        *service.ExchangeSessionMachine
	cache          port.CacheRepository
	maxClaimRadius float64
}

func NewHTTPHandler(registry *service.ListingRegistry, machine *service.ExchangeSessionMachine, cache port.CacheRepository, maxClaimRadius float64) *HTTPHandler {
	return &HTTPHandler{
		registry:       registry,
		machine:        machine,
		cache:          cache,
		maxClaimRadius: maxClaimRadius,
	}
}

func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/listings", h.CreateListing)
		r.Get("/listings/nearby", h.NearbyListings)
		r.Post("/listings/{listingID}/claim", h.Claim)
		r.Post("/listings/{listingID}/cancel", h.CancelListing)
		r.Post("/sessions/{sessionID}/release", h.Release)
		r.Post("/sessions/{sessionID}/handoff", h.BeginHandoff)
		r.Post("/sessions/{sessionID}/verify", h.Verify)
		r.Put("/locations/{userID}", h.UpdateLocation)
	})
	return r
}

type createListingRequest struct {
	OwnerID     string  `json:"owner_id"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

func (h *HTTPHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.Description == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	l, err := h.registry.CreateListing(r.Context(), req.OwnerID, req.Description,
		domain.Coordinate{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

type nearbyListing struct {
	domain.Listing
	DistanceMeters float64 `json:"distance_meters"`
}

func (h *HTTPHandler) NearbyListings(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	radius, errRad := strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if errLat != nil || errLng != nil || errRad != nil || radius <= 0 {
		writeError(w, http.StatusBadRequest, "lat, lng and radius are required")
		return
	}

	origin := domain.Coordinate{Lat: lat, Lng: lng}
	candidates := service.FindCandidates(origin, radius, h.registry.Snapshot())

	out := make([]nearbyListing, len(candidates))
	for i, l := range candidates {
		out[i] = nearbyListing{Listing: l, DistanceMeters: service.Distance(origin, l.Coord)}
	}
	writeJSON(w, http.StatusOK, out)
}

type claimRequest struct {
	ClaimantID      string `json:"claimant_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (h *HTTPHandler) Claim(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClaimantID == "" {
		writeError(w, http.StatusBadRequest, "claimant_id is required")
		return
	}

	if h.maxClaimRadius > 0 {
		if !h.claimantInRange(w, r, listingID, req.ClaimantID) {
			return
		}
	}

	sess, err := h.registry.Claim(r.Context(), listingID, req.ClaimantID, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// claimantInRange enforces proximity eligibility: the claimant's latest
// location sample must be within the configured radius of the listing.
// Writes the rejection response itself and returns false when ineligible.
func (h *HTTPHandler) claimantInRange(w http.ResponseWriter, r *http.Request, listingID, claimantID string) bool {
	l, err := h.registry.Get(listingID)
	if err != nil {
		writeDomainError(w, err)
		return false
	}

	loc, err := h.cache.LatestLocation(r.Context(), claimantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "location lookup failed")
		return false
	}
	if loc == nil {
		writeError(w, http.StatusUnprocessableEntity, "no recent location for claimant")
		return false
	}
	if service.Distance(loc.Coord, l.Coord) > h.maxClaimRadius {
		writeError(w, http.StatusUnprocessableEntity, "claimant too far from listing")
		return false
	}
	return true
}

type cancelListingRequest struct {
	OwnerID string `json:"owner_id"`
}

func (h *HTTPHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req cancelListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	if err := h.registry.CancelListing(r.Context(), chi.URLParam(r, "listingID"), req.OwnerID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Release(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *HTTPHandler) BeginHandoff(w http.ResponseWriter, r *http.Request) {
	payload, err := h.machine.BeginHandoff(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code_payload": payload})
}

type verifyRequest struct {
	Payload string `json:"payload"`
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Payload == "" {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	if err := h.machine.Verify(r.Context(), chi.URLParam(r, "sessionID"), req.Payload); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *HTTPHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	loc := domain.UserLocation{
		UserID:     chi.URLParam(r, "userID"),
		Coord:      domain.Coordinate{Lat: req.Lat, Lng: req.Lng},
		ObservedAt: time.Now(),
	}
	if err := h.cache.StoreLocation(r.Context(), loc); err != nil {
		writeError(w, http.StatusInternalServerError, "store location failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTokenMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTokenExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrMalformedPayload):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: service.IsRecoverable(err)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
