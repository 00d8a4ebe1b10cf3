package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/internal/repository"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
)

// --- In-memory transactional store ---

type storeState struct {
	reviews   map[string]domain.Review
	summaries map[domain.EntityRef]domain.ReviewSummary
}

func (s storeState) clone() storeState {
	out := storeState{
		reviews:   make(map[string]domain.Review, len(s.reviews)),
		summaries: make(map[domain.EntityRef]domain.ReviewSummary, len(s.summaries)),
	}
	for k, v := range s.reviews {
		out.reviews[k] = v
	}
	for k, v := range s.summaries {
		out.summaries[k] = v
	}
	return out
}

// fakeStore runs each Do callback against a private copy of the state and
// publishes the copy only on success. Transactions are serialized, which
// stands in for the row locks the real store takes.
type fakeStore struct {
	mu        sync.Mutex
	state     storeState
	failOn    map[string]error
	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: storeState{
			reviews:   make(map[string]domain.Review),
			summaries: make(map[domain.EntityRef]domain.ReviewSummary),
		},
		failOn: make(map[string]error),
	}
}

func (f *fakeStore) Reviews() repository.ReviewRepository {
	return &fakeReviews{store: f, state: &f.state}
}

func (f *fakeStore) Summaries() repository.SummaryRepository {
	return &fakeSummaries{store: f, state: &f.state}
}

func (f *fakeStore) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	working := f.state.clone()
	scope := fakeTx{
		reviews:   &fakeReviews{store: f, state: &working},
		summaries: &fakeSummaries{store: f, state: &working},
	}
	if err := fn(ctx, scope); err != nil {
		f.rollbacks++
		return err
	}
	f.state = working
	f.commits++
	return nil
}

func (f *fakeStore) fail(op string) error {
	return f.failOn[op]
}

// summary returns the committed summary of ref, or the zero summary.
func (f *fakeStore) summary(ref domain.EntityRef) domain.ReviewSummary {
	return f.state.summaries[ref]
}

func (f *fakeStore) reviewOf(reviewer, reviewable domain.EntityRef) (domain.Review, bool) {
	for _, r := range f.state.reviews {
		if r.Reviewer == reviewer && r.Reviewable == reviewable {
			return r, true
		}
	}
	return domain.Review{}, false
}

type fakeTx struct {
	reviews   *fakeReviews
	summaries *fakeSummaries
}

func (t fakeTx) Reviews() repository.ReviewRepository { return t.reviews }
func (t fakeTx) Summaries() repository.SummaryRepository { return t.summaries }

type fakeReviews struct {
	store *fakeStore
	state *storeState
}

func (r *fakeReviews) Create(_ context.Context, review *domain.Review) error {
	if err := r.store.fail("CreateReview"); err != nil {
		return err
	}
	for _, existing := range r.state.reviews {
		if existing.Reviewer == review.Reviewer && existing.Reviewable == review.Reviewable {
			return domain.ErrDuplicateReview
		}
	}
	r.state.reviews[review.ID] = *review
	return nil
}

func (r *fakeReviews) GetByID(_ context.Context, id string) (*domain.Review, error) {
	review, ok := r.state.reviews[id]
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &review, nil
}

func (r *fakeReviews) GetByIDForUpdate(ctx context.Context, id string) (*domain.Review, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeReviews) GetByPair(_ context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (*domain.Review, error) {
	for _, review := range r.state.reviews {
		if review.Reviewer == reviewer && review.Reviewable == reviewable && (includeUnapproved || review.IsApproved()) {
			return &review, nil
		}
	}
	return nil, domain.ErrReviewNotFound
}

func (r *fakeReviews) GetByPairForUpdate(ctx context.Context, reviewer, reviewable domain.EntityRef) (*domain.Review, error) {
	return r.GetByPair(ctx, reviewer, reviewable, true)
}

func (r *fakeReviews) ExistsByPair(ctx context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (bool, error) {
	if err := r.store.fail("ExistsByPair"); err != nil {
		return false, err
	}
	_, err := r.GetByPair(ctx, reviewer, reviewable, includeUnapproved)
	return err == nil, nil
}

func (r *fakeReviews) Update(_ context.Context, review *domain.Review) error {
	if err := r.store.fail("UpdateReview"); err != nil {
		return err
	}
	if _, ok := r.state.reviews[review.ID]; !ok {
		return domain.ErrReviewNotFound
	}
	r.state.reviews[review.ID] = *review
	return nil
}

func (r *fakeReviews) Delete(_ context.Context, id string) error {
	if err := r.store.fail("DeleteReview"); err != nil {
		return err
	}
	if _, ok := r.state.reviews[id]; !ok {
		return domain.ErrReviewNotFound
	}
	delete(r.state.reviews, id)
	return nil
}

func (r *fakeReviews) ListReceived(_ context.Context, reviewable domain.EntityRef, filter repository.ListFilter) ([]domain.Review, int, error) {
	return r.list(filter, func(rv domain.Review) bool {
		return rv.Reviewable == reviewable && (filter.ReviewerType == "" || rv.Reviewer.Type == filter.ReviewerType)
	})
}

func (r *fakeReviews) ListGiven(_ context.Context, reviewer domain.EntityRef, filter repository.ListFilter) ([]domain.Review, int, error) {
	return r.list(filter, func(rv domain.Review) bool {
		return rv.Reviewer == reviewer && (filter.ReviewableType == "" || rv.Reviewable.Type == filter.ReviewableType)
	})
}

func (r *fakeReviews) list(filter repository.ListFilter, match func(domain.Review) bool) ([]domain.Review, int, error) {
	var out []domain.Review
	for _, rv := range r.state.reviews {
		if match(rv) && (filter.IncludeUnapproved || rv.IsApproved()) {
			out = append(out, rv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.Sort == repository.SortTopRated && out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	total := len(out)
	page := filter.Page.Normalize()
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PerPage
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

type fakeSummaries struct {
	store *fakeStore
	state *storeState
}

func (s *fakeSummaries) Get(_ context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error) {
	if err := s.store.fail("GetSummary"); err != nil {
		return nil, err
	}
	summary, ok := s.state.summaries[reviewable]
	if !ok {
		return nil, apperrors.NotFound("review summary", reviewable.String())
	}
	return &summary, nil
}

func (s *fakeSummaries) GetForUpdate(_ context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error) {
	summary, ok := s.state.summaries[reviewable]
	if !ok {
		summary = domain.ReviewSummary{ID: uuid.New().String(), Reviewable: reviewable}
		s.state.summaries[reviewable] = summary
	}
	return &summary, nil
}

func (s *fakeSummaries) Save(_ context.Context, summary *domain.ReviewSummary) error {
	if err := s.store.fail("SaveSummary"); err != nil {
		return err
	}
	s.state.summaries[summary.Reviewable] = *summary
	return nil
}

// --- Mock Event Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReviewCreated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return m.Called(ctx, review, summary).Error(0)
}

func (m *mockPublisher) PublishReviewUpdated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return m.Called(ctx, review, summary).Error(0)
}

func (m *mockPublisher) PublishReviewDeleted(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return m.Called(ctx, review, summary).Error(0)
}

func (m *mockPublisher) PublishReviewApproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return m.Called(ctx, review, summary).Error(0)
}

func (m *mockPublisher) PublishReviewUnapproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return m.Called(ctx, review, summary).Error(0)
}

// --- Mock Summary Cache ---

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, bool, error) {
	args := m.Called(ctx, reviewable)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.ReviewSummary), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, summary *domain.ReviewSummary) error {
	return m.Called(ctx, summary).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, reviewable domain.EntityRef) error {
	return m.Called(ctx, reviewable).Error(0)
}

// --- Resolver stub ---

type resolverFunc func(ctx context.Context, ref domain.EntityRef) error

func (f resolverFunc) Resolve(ctx context.Context, ref domain.EntityRef) error {
	return f(ctx, ref)
}
