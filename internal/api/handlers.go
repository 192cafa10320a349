package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/gridshare/internal/allocation"
	"github.com/xtrntr/gridshare/internal/auth"
	"github.com/xtrntr/gridshare/internal/db"
	"github.com/xtrntr/gridshare/internal/match"
	"github.com/xtrntr/gridshare/internal/models"
	"github.com/xtrntr/gridshare/internal/pricing"
	"github.com/xtrntr/gridshare/internal/stats"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *allocation.Engine
	Matcher     *match.Matcher
	Advisor     *pricing.Advisor
	Analytics   *stats.Analyzer
	AuthService *auth.AuthService
	Logger      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, engine *allocation.Engine, matcher *match.Matcher,
	advisor *pricing.Advisor, analytics *stats.Analyzer, authService *auth.AuthService,
	logger *zap.Logger) *Handler {
	return &Handler{
		DB:          database,
		Engine:      engine,
		Matcher:     matcher,
		Advisor:     advisor,
		Analytics:   analytics,
		AuthService: authService,
		Logger:      logger,
	}
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes.
// Integrity violations are logged here because they must never pass silently.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, models.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrResourceUnavailable), errors.Is(err, models.ErrNotBorrower):
		status = http.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrInconsistentState):
		h.Logger.Error("store integrity violation", zap.Error(err))
		http.Error(w, `{"error": "internal integrity error"}`, http.StatusInternalServerError)
		return
	default:
		h.Logger.Error("unexpected error", zap.Error(err))
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"credits":  user.Credits,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value("user_id").(int)
	return userID, ok
}

// CreateResource handles new resource listings. When suggest_price is set
// and no price is given, the pricing advisor fills in credits_per_hour.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Name           string  `json:"name"`
		Type           string  `json:"type"`
		Capacity       float64 `json:"capacity"`
		CreditsPerHour float64 `json:"credits_per_hour"`
		Specifications string  `json:"specifications"`
		SuggestPrice   bool    `json:"suggest_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.SuggestPrice && req.CreditsPerHour == 0 {
		price, err := h.Advisor.RecommendPrice(r.Context(), req.Type, req.Capacity)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		req.CreditsPerHour = price
	}

	resource, err := h.DB.CreateResource(r.Context(), &models.Resource{
		Name:           req.Name,
		Type:           req.Type,
		Capacity:       req.Capacity,
		CreditsPerHour: req.CreditsPerHour,
		Specifications: req.Specifications,
		OwnerID:        userID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resource)
}

// ListResources searches the available pool
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	criteria := match.Criteria{Type: r.URL.Query().Get("type")}
	q := r.URL.Query()
	if v := q.Get("min_capacity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, `{"error": "Invalid min_capacity"}`, http.StatusBadRequest)
			return
		}
		criteria.MinCapacity = f
	}
	if v := q.Get("max_credits"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, `{"error": "Invalid max_credits"}`, http.StatusBadRequest)
			return
		}
		criteria.MaxCreditsPerHour = f
	}
	if q.Get("exclude_own") == "1" || q.Get("exclude_own") == "true" {
		criteria.RequesterID = userID
	}

	resources, err := h.Matcher.Search(r.Context(), criteria)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resources)
}

// RecommendResources suggests resources from the user's borrowing history
func (h *Handler) RecommendResources(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resources, err := h.Matcher.Recommend(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resources)
}

// SuggestPrice recommends a listing price for a prospective resource
func (h *Handler) SuggestPrice(w http.ResponseWriter, r *http.Request) {
	resourceType := r.URL.Query().Get("type")
	capacity, err := strconv.ParseFloat(r.URL.Query().Get("capacity"), 64)
	if err != nil {
		http.Error(w, `{"error": "Invalid capacity"}`, http.StatusBadRequest)
		return
	}

	price, err := h.Advisor.RecommendPrice(r.Context(), resourceType, capacity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]float64{"credits_per_hour": price})
}

// AllocateResource reserves a resource for the caller
func (h *Handler) AllocateResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resourceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid resource ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Hours float64 `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	transactionID, err := h.Engine.Allocate(r.Context(), resourceID, userID, req.Hours)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":        "Resource allocated",
		"transaction_id": transactionID,
	})
}

// ReleaseResource returns a borrowed resource to the pool
func (h *Handler) ReleaseResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resourceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid resource ID"}`, http.StatusBadRequest)
		return
	}

	if err := h.Engine.Release(r.Context(), resourceID, userID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Resource released"})
}

// SetResourceStatus takes an owned resource offline or brings it back
func (h *Handler) SetResourceStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resourceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid resource ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	var offline bool
	switch req.Status {
	case models.StatusOffline:
		offline = true
	case models.StatusAvailable:
		offline = false
	default:
		http.Error(w, `{"error": "Status must be 'offline' or 'available'"}`, http.StatusBadRequest)
		return
	}

	if err := h.Engine.SetAvailability(r.Context(), resourceID, userID, offline); err != nil {
		h.writeDomainError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Resource status updated"})
}

// MyResources lists the caller's own listings
func (h *Handler) MyResources(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resources, err := h.DB.ResourcesByOwner(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resources)
}

// MyBorrowed lists the resources the caller is currently borrowing
func (h *Handler) MyBorrowed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resources, err := h.DB.ResourcesBorrowedBy(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resources)
}

// MyTransactions lists the caller's loans, both sides
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	consumed, err := h.DB.TransactionsByConsumer(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	provided, err := h.DB.TransactionsByProvider(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"consumed": consumed,
		"provided": provided,
	})
}

// MyUsage reports usage statistics over the caller's own resources
func (h *Handler) MyUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid days"}`, http.StatusBadRequest)
			return
		}
		days = parsed
	}

	resources, err := h.DB.ResourcesByOwner(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	ids := make([]int, len(resources))
	for i, res := range resources {
		ids[i] = res.ID
	}

	usage, err := h.Analytics.ResourceUsage(r.Context(), ids, days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(usage)
}
