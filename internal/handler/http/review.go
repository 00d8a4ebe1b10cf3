package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/internal/repository"
	"github.com/utafrali/ReviewGo/internal/service"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
	"github.com/utafrali/ReviewGo/pkg/httputil"
	"github.com/utafrali/ReviewGo/pkg/middleware"
	"github.com/utafrali/ReviewGo/pkg/pagination"
	"github.com/utafrali/ReviewGo/pkg/validator"
)

// UserReviewerType is the reviewer type of authenticated callers.
const UserReviewerType = "user"

// ReviewService is the subset of service.ReviewService the handlers call.
type ReviewService interface {
	CreateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input service.CreateReviewInput) (*domain.Review, error)
	UpdateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input service.UpdateReviewInput) (*domain.Review, error)
	Unreview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable) (bool, error)
	ApproveReview(ctx context.Context, reviewID string) (bool, error)
	UnapproveReview(ctx context.Context, reviewID string) (bool, error)
	GetReview(ctx context.Context, id string) (*domain.Review, error)
	GetSummary(ctx context.Context, reviewable domain.Reviewable) (*domain.ReviewSummary, error)
	ListReceivedReviews(ctx context.Context, reviewable domain.Reviewable, filter repository.ListFilter) (pagination.Result[domain.Review], error)
	ListGivenReviews(ctx context.Context, reviewer domain.Reviewer, filter repository.ListFilter) (pagination.Result[domain.Review], error)
	GetGivenReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, includeUnapproved bool) (*domain.Review, error)
}

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateReviewRequest is the JSON request body for creating a review.
type CreateReviewRequest struct {
	Rating   float64 `json:"rating" validate:"gt=0"`
	Content  *string `json:"content" validate:"omitempty,max=10000"`
	// Approved is honored for admins only.
	Approved *bool `json:"approved"`
}

// UpdateReviewRequest is the JSON request body for replacing a review.
type UpdateReviewRequest struct {
	Rating  float64 `json:"rating" validate:"gt=0"`
	Content *string `json:"content" validate:"omitempty,max=10000"`
}

// ApprovalResponse reports whether an approval transition changed anything.
type ApprovalResponse struct {
	Approved bool `json:"approved"`
}

// --- Handlers ---

// GetSummary handles GET /api/v1/reviewables/{type}/{id}/summary
// @Summary Get review summary
// @Tags reviews
// @Produce json
// @Param type path string true "Reviewable type"
// @Param id path string true "Reviewable id"
// @Success 200 {object} httputil.Response
// @Router /api/v1/reviewables/{type}/{id}/summary [get]
func (h *ReviewHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	summary, err := h.service.GetSummary(r.Context(), reviewable)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, summary)
}

// ListReceived handles GET /api/v1/reviewables/{type}/{id}/reviews
// @Summary List reviews of a reviewable
// @Tags reviews
// @Produce json
// @Param type path string true "Reviewable type"
// @Param id path string true "Reviewable id"
// @Param sort query string false "latest or top_rated"
// @Param reviewer_type query string false "Only reviews written by this reviewer type"
// @Param include_unapproved query bool false "Include unapproved reviews"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page (max 100)" default(20)
// @Success 200 {object} pagination.Result[domain.Review]
// @Router /api/v1/reviewables/{type}/{id}/reviews [get]
func (h *ReviewHandler) ListReceived(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	filter, err := listFilterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	filter.ReviewerType = r.URL.Query().Get("reviewer_type")

	result, err := h.service.ListReceivedReviews(r.Context(), reviewable, filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// CreateReview handles POST /api/v1/reviewables/{type}/{id}/reviews
// @Summary Review a reviewable
// @Tags reviews
// @Accept json
// @Produce json
// @Param request body CreateReviewRequest true "Review to submit"
// @Success 201 {object} httputil.Response
// @Failure 409 {object} httputil.Response
// @Router /api/v1/reviewables/{type}/{id}/reviews [post]
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req CreateReviewRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// Only admins choose the initial approval state. Everyone else gets the
	// configured default.
	approved := req.Approved
	if middleware.RoleFromContext(r.Context()) != AdminRole {
		approved = nil
	}

	review, err := h.service.CreateReview(r.Context(), currentReviewer(r), reviewable, service.CreateReviewInput{
		Rating:   req.Rating,
		Content:  req.Content,
		Approved: approved,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, review)
}

// GetMine handles GET /api/v1/reviewables/{type}/{id}/reviews/mine
func (h *ReviewHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	includeUnapproved, err := boolQuery(r, "include_unapproved")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.GetGivenReview(r.Context(), currentReviewer(r), reviewable, includeUnapproved)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// UpdateMine handles PUT /api/v1/reviewables/{type}/{id}/reviews/mine
func (h *ReviewHandler) UpdateMine(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req UpdateReviewRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.UpdateReview(r.Context(), currentReviewer(r), reviewable, service.UpdateReviewInput{
		Rating:  req.Rating,
		Content: req.Content,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// DeleteMine handles DELETE /api/v1/reviewables/{type}/{id}/reviews/mine
func (h *ReviewHandler) DeleteMine(w http.ResponseWriter, r *http.Request) {
	reviewable, err := entityFromPath(r, "reviewable")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if _, err := h.service.Unreview(r.Context(), currentReviewer(r), reviewable); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMine handles GET /api/v1/reviewers/me/reviews
func (h *ReviewHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	h.listGiven(w, r, currentReviewer(r))
}

// ListGiven handles GET /api/v1/reviewers/{type}/{id}/reviews
func (h *ReviewHandler) ListGiven(w http.ResponseWriter, r *http.Request) {
	reviewer, err := entityFromPath(r, "reviewer")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.listGiven(w, r, reviewer)
}

func (h *ReviewHandler) listGiven(w http.ResponseWriter, r *http.Request, reviewer domain.EntityRef) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	filter.ReviewableType = r.URL.Query().Get("reviewable_type")

	result, err := h.service.ListGivenReviews(r.Context(), reviewer, filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetReview handles GET /api/v1/reviews/{reviewId}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.GetReview(r.Context(), chi.URLParam(r, "reviewId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// Approve handles POST /api/v1/reviews/{reviewId}/approve
// @Summary Approve a review
// @Tags moderation
// @Produce json
// @Param reviewId path string true "Review UUID"
// @Success 200 {object} ApprovalResponse "approved is false when the review was already approved"
// @Router /api/v1/reviews/{reviewId}/approve [post]
func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.ApproveReview(r.Context(), chi.URLParam(r, "reviewId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, ApprovalResponse{Approved: changed})
}

// Unapprove handles POST /api/v1/reviews/{reviewId}/unapprove
func (h *ReviewHandler) Unapprove(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.UnapproveReview(r.Context(), chi.URLParam(r, "reviewId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, ApprovalResponse{Approved: changed})
}

// --- Helpers ---

func entityFromPath(r *http.Request, role string) (domain.EntityRef, error) {
	ref := domain.EntityRef{Type: chi.URLParam(r, "type"), ID: chi.URLParam(r, "id")}
	if !validator.IsEntityType(ref.Type) {
		return domain.EntityRef{}, apperrors.InvalidInput("invalid " + role + " type: " + ref.Type)
	}
	if err := ref.Validate(role); err != nil {
		return domain.EntityRef{}, err
	}
	return ref, nil
}

func currentReviewer(r *http.Request) domain.EntityRef {
	return domain.EntityRef{Type: UserReviewerType, ID: middleware.UserIDFromContext(r.Context())}
}

func listFilterFromQuery(r *http.Request) (repository.ListFilter, error) {
	includeUnapproved, err := boolQuery(r, "include_unapproved")
	if err != nil {
		return repository.ListFilter{}, err
	}
	filter := repository.ListFilter{
		IncludeUnapproved: includeUnapproved,
		Sort:              repository.SortOrder(r.URL.Query().Get("sort")),
		Page:              pagination.FromRequest(r),
	}
	if !filter.Sort.Valid() {
		return repository.ListFilter{}, apperrors.InvalidInput("sort must be one of: latest, top_rated")
	}
	return filter, nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.InvalidInput(name + " must be a boolean")
	}
	return v, nil
}
