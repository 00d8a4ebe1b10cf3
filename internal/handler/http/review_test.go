package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/internal/repository"
	"github.com/utafrali/ReviewGo/internal/service"
	"github.com/utafrali/ReviewGo/pkg/auth"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
	"github.com/utafrali/ReviewGo/pkg/health"
	"github.com/utafrali/ReviewGo/pkg/middleware"
	"github.com/utafrali/ReviewGo/pkg/pagination"
)

// =============================================================================
// Mock ReviewService
// =============================================================================

type mockReviewService struct {
	mock.Mock
}

func (m *mockReviewService) CreateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input service.CreateReviewInput) (*domain.Review, error) {
	args := m.Called(ctx, reviewer, reviewable, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewService) UpdateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input service.UpdateReviewInput) (*domain.Review, error) {
	args := m.Called(ctx, reviewer, reviewable, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewService) Unreview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable) (bool, error) {
	args := m.Called(ctx, reviewer, reviewable)
	return args.Bool(0), args.Error(1)
}

func (m *mockReviewService) ApproveReview(ctx context.Context, reviewID string) (bool, error) {
	args := m.Called(ctx, reviewID)
	return args.Bool(0), args.Error(1)
}

func (m *mockReviewService) UnapproveReview(ctx context.Context, reviewID string) (bool, error) {
	args := m.Called(ctx, reviewID)
	return args.Bool(0), args.Error(1)
}

func (m *mockReviewService) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewService) GetSummary(ctx context.Context, reviewable domain.Reviewable) (*domain.ReviewSummary, error) {
	args := m.Called(ctx, reviewable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewSummary), args.Error(1)
}

func (m *mockReviewService) ListReceivedReviews(ctx context.Context, reviewable domain.Reviewable, filter repository.ListFilter) (pagination.Result[domain.Review], error) {
	args := m.Called(ctx, reviewable, filter)
	return args.Get(0).(pagination.Result[domain.Review]), args.Error(1)
}

func (m *mockReviewService) ListGivenReviews(ctx context.Context, reviewer domain.Reviewer, filter repository.ListFilter) (pagination.Result[domain.Review], error) {
	args := m.Called(ctx, reviewer, filter)
	return args.Get(0).(pagination.Result[domain.Review]), args.Error(1)
}

func (m *mockReviewService) GetGivenReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, includeUnapproved bool) (*domain.Review, error) {
	args := m.Called(ctx, reviewer, reviewable, includeUnapproved)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

// =============================================================================
// Test helpers
// =============================================================================

const testSecret = "test-secret-with-at-least-32-bytes!!"

var (
	product = domain.EntityRef{Type: "product", ID: "42"}
	alice   = domain.EntityRef{Type: UserReviewerType, ID: "alice"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testServer struct {
	svc    *mockReviewService
	router http.Handler
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T, writeLimit func(http.Handler) http.Handler) *testServer {
	t.Helper()
	svc := new(mockReviewService)
	t.Cleanup(func() { svc.AssertExpectations(t) })

	jwt := auth.NewJWTManager(testSecret, "review-service", time.Hour)
	router := NewRouter(svc, health.NewHandler(), RouterConfig{
		ServiceName:  "review-service-test",
		Authenticate: middleware.Auth(jwt.Validator()),
		WriteLimit:   writeLimit,
	}, testLogger())
	return &testServer{svc: svc, router: router, jwt: jwt}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// =============================================================================
// Public reads
// =============================================================================

func TestGetSummary(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("GetSummary", mock.Anything, product).
		Return(&domain.ReviewSummary{Reviewable: product, AverageRating: 4.75, ReviewCount: 2}, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/reviewables/product/42/summary", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary domain.ReviewSummary
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &summary))
	assert.Equal(t, 4.75, summary.AverageRating)
	assert.Equal(t, 2, summary.ReviewCount)
}

func TestGetSummary_InvalidType(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/reviewables/Product/42/summary", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeEnvelope(t, rec).Error.Code)
}

func TestListReceived_PassesFilter(t *testing.T) {
	s := newTestServer(t, nil)
	want := repository.ListFilter{
		IncludeUnapproved: true,
		ReviewerType:      "user",
		Sort:              repository.SortTopRated,
		Page:              pagination.Params{Page: 2, PerPage: 5},
	}
	s.svc.On("ListReceivedReviews", mock.Anything, product, want).
		Return(pagination.NewResult([]domain.Review{{ID: "r1", Rating: 5}}, 6, want.Page), nil)

	rec := s.do(t, http.MethodGet,
		"/api/v1/reviewables/product/42/reviews?sort=top_rated&include_unapproved=true&reviewer_type=user&page=2&per_page=5", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var result pagination.Result[domain.Review]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 6, result.TotalCount)
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "r1", result.Data[0].ID)
}

func TestListReceived_BadQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown sort", "sort=oldest"},
		{"non-boolean include_unapproved", "include_unapproved=maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(t, http.MethodGet, "/api/v1/reviewables/product/42/reviews?"+tt.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// =============================================================================
// Authenticated writes
// =============================================================================

func TestCreateReview_RequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", "", CreateReviewRequest{Rating: 4})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateReview(t *testing.T) {
	s := newTestServer(t, nil)
	input := service.CreateReviewInput{Rating: 4.5, Content: strPtr("solid")}
	s.svc.On("CreateReview", mock.Anything, alice, product, input).
		Return(&domain.Review{ID: "r1", Reviewer: alice, Reviewable: product, Rating: 4.5, Content: input.Content}, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", "customer"),
		CreateReviewRequest{Rating: 4.5, Content: strPtr("solid")})

	require.Equal(t, http.StatusCreated, rec.Code)
	var review domain.Review
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &review))
	assert.Equal(t, "r1", review.ID)
	assert.Equal(t, alice, review.Reviewer)
}

func TestCreateReview_ApprovedFlagIgnoredForNonAdmin(t *testing.T) {
	for _, approved := range []bool{true, false} {
		s := newTestServer(t, nil)
		s.svc.On("CreateReview", mock.Anything, alice, product, service.CreateReviewInput{Rating: 1}).
			Return(&domain.Review{ID: "r1", Reviewer: alice, Reviewable: product, Rating: 1}, nil)

		rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", "customer"),
			CreateReviewRequest{Rating: 1, Approved: boolPtr(approved)})

		require.Equal(t, http.StatusCreated, rec.Code, "approved=%v", approved)
		s.svc.AssertExpectations(t)
	}
}

func TestCreateReview_AdminChoosesApproval(t *testing.T) {
	s := newTestServer(t, nil)
	input := service.CreateReviewInput{Rating: 3, Approved: boolPtr(false)}
	s.svc.On("CreateReview", mock.Anything, domain.EntityRef{Type: UserReviewerType, ID: "root"}, product, input).
		Return(&domain.Review{ID: "r2", Reviewable: product, Rating: 3}, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "root", AdminRole),
		CreateReviewRequest{Rating: 3, Approved: boolPtr(false)})

	require.Equal(t, http.StatusCreated, rec.Code)
	s.svc.AssertExpectations(t)
}

func TestCreateReview_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", ""),
		map[string]any{"rating": 0})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "Rating")
}

func TestCreateReview_UnknownField(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", ""),
		map[string]any{"rating": 4, "stars": 5})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeEnvelope(t, rec).Error.Code)
}

func TestCreateReview_Duplicate(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("CreateReview", mock.Anything, alice, product, mock.Anything).
		Return(nil, domain.ErrDuplicateReview)

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", ""),
		CreateReviewRequest{Rating: 3})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_REVIEW", decodeEnvelope(t, rec).Error.Code)
}

func TestCreateReview_ServiceFailureHidesCause(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("CreateReview", mock.Anything, alice, product, mock.Anything).
		Return(nil, domain.InconsistentSummary("edit", 0))

	rec := s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", s.token(t, "alice", ""),
		CreateReviewRequest{Rating: 3})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.NotContains(t, env.Error.Message, "review count")
}

func TestGetMine(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("GetGivenReview", mock.Anything, alice, product, true).
		Return(&domain.Review{ID: "r1", Reviewer: alice, Reviewable: product, Rating: 2}, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/reviewables/product/42/reviews/mine?include_unapproved=1", s.token(t, "alice", ""), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetMine_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("GetGivenReview", mock.Anything, alice, product, false).
		Return(nil, domain.ErrReviewNotFound)

	rec := s.do(t, http.MethodGet, "/api/v1/reviewables/product/42/reviews/mine", s.token(t, "alice", ""), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REVIEW_NOT_FOUND", decodeEnvelope(t, rec).Error.Code)
}

func TestUpdateMine(t *testing.T) {
	s := newTestServer(t, nil)
	input := service.UpdateReviewInput{Rating: 2}
	s.svc.On("UpdateReview", mock.Anything, alice, product, input).
		Return(&domain.Review{ID: "r1", Reviewer: alice, Reviewable: product, Rating: 2}, nil)

	rec := s.do(t, http.MethodPut, "/api/v1/reviewables/product/42/reviews/mine", s.token(t, "alice", ""),
		UpdateReviewRequest{Rating: 2})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteMine(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("Unreview", mock.Anything, alice, product).Return(true, nil)

	rec := s.do(t, http.MethodDelete, "/api/v1/reviewables/product/42/reviews/mine", s.token(t, "alice", ""), nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDeleteMine_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("Unreview", mock.Anything, alice, product).Return(false, domain.ErrReviewNotFound)

	rec := s.do(t, http.MethodDelete, "/api/v1/reviewables/product/42/reviews/mine", s.token(t, "alice", ""), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMine(t *testing.T) {
	s := newTestServer(t, nil)
	want := repository.ListFilter{
		ReviewableType: "product",
		Page:           pagination.DefaultParams(),
	}
	s.svc.On("ListGivenReviews", mock.Anything, alice, want).
		Return(pagination.NewResult[domain.Review](nil, 0, want.Page), nil)

	rec := s.do(t, http.MethodGet, "/api/v1/reviewers/me/reviews?reviewable_type=product", s.token(t, "alice", ""), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestWriteLimit_AppliesToWritesOnly(t *testing.T) {
	reject := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	s := newTestServer(t, reject)
	s.svc.On("GetGivenReview", mock.Anything, alice, product, false).
		Return(&domain.Review{ID: "r1"}, nil)
	tok := s.token(t, "alice", "")

	assert.Equal(t, http.StatusTooManyRequests,
		s.do(t, http.MethodPost, "/api/v1/reviewables/product/42/reviews", tok, CreateReviewRequest{Rating: 1}).Code)
	assert.Equal(t, http.StatusTooManyRequests,
		s.do(t, http.MethodDelete, "/api/v1/reviewables/product/42/reviews/mine", tok, nil).Code)
	assert.Equal(t, http.StatusOK,
		s.do(t, http.MethodGet, "/api/v1/reviewables/product/42/reviews/mine", tok, nil).Code)
}

// =============================================================================
// Admin routes
// =============================================================================

func TestApprove_RequiresAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/reviews/r1/approve", s.token(t, "alice", "customer"), nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveAndUnapprove(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		method  string
		changed bool
	}{
		{"approve changes state", "/api/v1/reviews/r1/approve", "ApproveReview", true},
		{"approve is a no-op", "/api/v1/reviews/r1/approve", "ApproveReview", false},
		{"unapprove changes state", "/api/v1/reviews/r1/unapprove", "UnapproveReview", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.svc.On(tt.method, mock.Anything, "r1").Return(tt.changed, nil)

			rec := s.do(t, http.MethodPost, tt.path, s.token(t, "mod", AdminRole), nil)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp ApprovalResponse
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
			assert.Equal(t, tt.changed, resp.Approved)
		})
	}
}

func TestGetReview_Admin(t *testing.T) {
	s := newTestServer(t, nil)
	s.svc.On("GetReview", mock.Anything, "missing").Return(nil, domain.ErrReviewNotFound)
	s.svc.On("GetReview", mock.Anything, "bad").Return(nil, apperrors.InvalidInput("review id must be a valid UUID"))
	tok := s.token(t, "mod", AdminRole)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/reviews/missing", tok, nil).Code)

	rec := s.do(t, http.MethodGet, "/api/v1/reviews/bad", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "review id must be a valid UUID", decodeEnvelope(t, rec).Error.Message)
}

func TestListGiven_Admin(t *testing.T) {
	s := newTestServer(t, nil)
	shop := domain.EntityRef{Type: "shop", ID: "7"}
	s.svc.On("ListGivenReviews", mock.Anything, shop, mock.AnythingOfType("repository.ListFilter")).
		Return(pagination.NewResult[domain.Review](nil, 0, pagination.DefaultParams()), nil)

	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodGet, "/api/v1/reviewers/shop/7/reviews", s.token(t, "alice", ""), nil).Code)
	assert.Equal(t, http.StatusOK,
		s.do(t, http.MethodGet, "/api/v1/reviewers/shop/7/reviews", s.token(t, "mod", AdminRole), nil).Code)
}

// =============================================================================
// Infrastructure routes
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", nil).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHeaderIdentity(t *testing.T) {
	var got middleware.Claims
	h := HeaderIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.Claims{UserID: middleware.UserIDFromContext(r.Context()), Role: middleware.RoleFromContext(r.Context())}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Role", AdminRole)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, middleware.Claims{UserID: "alice", Role: AdminRole}, got)
}
