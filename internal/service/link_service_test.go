package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/linkboard/internal/events"
	"github.com/zhejian/linkboard/internal/model"
	"github.com/zhejian/linkboard/internal/repository"
)

const testBaseURL = "http://localhost:3000"

// MockLinkRepository mocks the persistence layer
type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	args := m.Called(ctx, link)
	if args.Error(0) == nil {
		link.ID = 1
		link.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Link), args.Error(1)
}

func (m *MockLinkRepository) Resolve(ctx context.Context, code string) (*model.Target, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Target), args.Error(1)
}

func (m *MockLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockLinkRepository) List(ctx context.Context) ([]model.Link, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Link), args.Error(1)
}

func (m *MockLinkRepository) IncrementClick(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLinkRepository) Delete(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LinkEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.LinkEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newTestService(repo *MockLinkRepository, publisher events.Publisher) *LinkService {
	return NewLinkService(repo, Options{
		BaseURL:          testBaseURL + "/",
		ShortCodeLen:     6,
		ShortCodeRetries: 3,
		StoreTimeout:     time.Second,
		Publisher:        publisher,
	})
}

func TestLinkService_CreateLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates link with generated code", func(t *testing.T) {
		repo := new(MockLinkRepository)
		publisher := &recordingPublisher{}
		svc := newTestService(repo, publisher)

		repo.On("Create", mock.Anything, mock.MatchedBy(func(l *model.Link) bool {
			return IsValidCustomCode(l.Code) && l.OriginalURL == "https://example.com"
		})).Return(nil).Once()

		resp, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com"})
		require.NoError(t, err)

		assert.Len(t, resp.Code, 6)
		assert.Equal(t, testBaseURL+"/"+resp.Code, resp.ShortURL, "base URL trailing slash is trimmed")
		assert.Equal(t, "https://example.com", resp.OriginalURL)
		assert.Equal(t, int64(0), resp.Clicks)
		assert.Nil(t, resp.LastClicked)

		require.Len(t, publisher.events, 1)
		assert.Equal(t, events.LinkCreated, publisher.events[0].Type)
		assert.Equal(t, resp.Code, publisher.events[0].Code)

		repo.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("creates link with custom code", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Exists", mock.Anything, "mycode1").Return(false, nil).Once()
		repo.On("Create", mock.Anything, mock.MatchedBy(func(l *model.Link) bool {
			return l.Code == "mycode1"
		})).Return(nil).Once()

		resp, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com/custom", CustomCode: "mycode1"})
		require.NoError(t, err)
		assert.Equal(t, "mycode1", resp.Code)
		assert.Equal(t, testBaseURL+"/mycode1", resp.ShortURL)

		repo.AssertExpectations(t)
	})

	t.Run("rejects invalid URL before touching the store", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "not-a-url"})
		assert.ErrorIs(t, err, ErrInvalidURL)
		assert.ErrorIs(t, err, ErrValidation)

		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid custom code", func(t *testing.T) {
		for _, code := range []string{"abc", "abcdefghi", "abc-123"} {
			repo := new(MockLinkRepository)
			svc := newTestService(repo, nil)

			_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com", CustomCode: code})
			assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
			assert.ErrorIs(t, err, ErrValidation, "code %q", code)

			repo.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
		}
	})

	t.Run("fails when custom code already exists", func(t *testing.T) {
		repo := new(MockLinkRepository)
		publisher := &recordingPublisher{}
		svc := newTestService(repo, publisher)

		repo.On("Exists", mock.Anything, "taken12").Return(true, nil).Once()

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com", CustomCode: "taken12"})
		assert.ErrorIs(t, err, ErrCodeExists)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Empty(t, publisher.events)

		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("custom code race lost at insert maps to conflict", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Exists", mock.Anything, "racer1").Return(false, nil).Once()
		repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrCodeConflict).Once()

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com", CustomCode: "racer1"})
		assert.ErrorIs(t, err, ErrCodeExists)
	})

	t.Run("retries on random code collision and succeeds", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrCodeConflict).Twice()
		repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		resp, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://collision.example"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Code)

		repo.AssertNumberOfCalls(t, "Create", 3)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrCodeConflict)

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://collision.example"})
		assert.ErrorIs(t, err, ErrShortCodeGeneration)
		repo.AssertNumberOfCalls(t, "Create", 3)
	})

	t.Run("store failure is returned unchanged", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)
		storeErr := errors.New("connection refused")

		repo.On("Create", mock.Anything, mock.Anything).Return(storeErr).Once()

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com"})
		assert.ErrorIs(t, err, storeErr)
		assert.NotErrorIs(t, err, ErrValidation)
		repo.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("publisher failure does not fail the request", func(t *testing.T) {
		repo := new(MockLinkRepository)
		publisher := &recordingPublisher{err: errors.New("broker down")}
		svc := newTestService(repo, publisher)

		repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com"})
		assert.NoError(t, err)
		assert.Len(t, publisher.events, 1)
	})

	t.Run("store calls carry a deadline", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Create", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		}), mock.Anything).Return(nil).Once()

		_, err := svc.CreateLink(ctx, &model.CreateLinkRequest{URL: "https://example.com"})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestLinkService_ListLinks(t *testing.T) {
	ctx := context.Background()

	t.Run("maps links with short urls", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)
		clicked := time.Now()

		repo.On("List", mock.Anything).Return([]model.Link{
			{ID: 2, Code: "newer1", OriginalURL: "https://example.com/2", Clicks: 4, LastClicked: &clicked},
			{ID: 1, Code: "older1", OriginalURL: "https://example.com/1"},
		}, nil).Once()

		links, err := svc.ListLinks(ctx)
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, "newer1", links[0].Code)
		assert.Equal(t, testBaseURL+"/newer1", links[0].ShortURL)
		assert.Equal(t, int64(4), links[0].Clicks)
		assert.Equal(t, "older1", links[1].Code)
	})

	t.Run("empty list is not nil", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("List", mock.Anything).Return([]model.Link{}, nil).Once()

		links, err := svc.ListLinks(ctx)
		require.NoError(t, err)
		assert.NotNil(t, links)
		assert.Empty(t, links)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("List", mock.Anything).Return(nil, assert.AnError).Once()

		_, err := svc.ListLinks(ctx)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestLinkService_GetLink(t *testing.T) {
	ctx := context.Background()

	t.Run("retrieves existing link", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("GetByCode", mock.Anything, "get123").Return(&model.Link{
			ID: 9, Code: "get123", OriginalURL: "https://example.com/original", Clicks: 1,
		}, nil).Once()

		resp, err := svc.GetLink(ctx, "get123")
		require.NoError(t, err)
		assert.Equal(t, int64(9), resp.ID)
		assert.Equal(t, "https://example.com/original", resp.OriginalURL)
		assert.Equal(t, testBaseURL+"/get123", resp.ShortURL)
		assert.Equal(t, int64(1), resp.Clicks)
	})

	t.Run("returns not found for unknown code", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("GetByCode", mock.Anything, "nope00").Return(nil, repository.ErrNotFound).Once()

		_, err := svc.GetLink(ctx, "nope00")
		assert.ErrorIs(t, err, ErrLinkNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("GetByCode", mock.Anything, "err001").Return(nil, assert.AnError).Once()

		_, err := svc.GetLink(ctx, "err001")
		assert.ErrorIs(t, err, assert.AnError)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestLinkService_DeleteLink(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing link and publishes event", func(t *testing.T) {
		repo := new(MockLinkRepository)
		publisher := &recordingPublisher{}
		svc := newTestService(repo, publisher)

		repo.On("Delete", mock.Anything, "del123").Return(true, nil).Once()

		require.NoError(t, svc.DeleteLink(ctx, "del123"))
		require.Len(t, publisher.events, 1)
		assert.Equal(t, events.LinkDeleted, publisher.events[0].Type)
		assert.Equal(t, "del123", publisher.events[0].Code)
	})

	t.Run("returns not found when nothing was removed", func(t *testing.T) {
		repo := new(MockLinkRepository)
		publisher := &recordingPublisher{}
		svc := newTestService(repo, publisher)

		repo.On("Delete", mock.Anything, "nope00").Return(false, nil).Once()

		assert.ErrorIs(t, svc.DeleteLink(ctx, "nope00"), ErrLinkNotFound)
		assert.Empty(t, publisher.events)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Delete", mock.Anything, "err001").Return(false, assert.AnError).Once()

		assert.ErrorIs(t, svc.DeleteLink(ctx, "err001"), assert.AnError)
	})
}

func TestLinkService_Redirect(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves and counts the click", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Resolve", mock.Anything, "go1234").Return(&model.Target{ID: 5, OriginalURL: "https://example.com"}, nil).Once()
		repo.On("IncrementClick", mock.Anything, int64(5)).Return(nil).Once()

		url, err := svc.Redirect(ctx, "go1234")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", url)
		repo.AssertExpectations(t)
	})

	t.Run("unknown code is not found and not counted", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Resolve", mock.Anything, "nope00").Return(nil, repository.ErrNotFound).Once()

		_, err := svc.Redirect(ctx, "nope00")
		assert.ErrorIs(t, err, ErrLinkNotFound)
		repo.AssertNotCalled(t, "IncrementClick", mock.Anything, mock.Anything)
	})

	t.Run("lookup failure degrades to not found", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Resolve", mock.Anything, "err001").Return(nil, context.DeadlineExceeded).Once()

		_, err := svc.Redirect(ctx, "err001")
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})

	t.Run("increment failure degrades to not found", func(t *testing.T) {
		repo := new(MockLinkRepository)
		svc := newTestService(repo, nil)

		repo.On("Resolve", mock.Anything, "err002").Return(&model.Target{ID: 6, OriginalURL: "https://example.com"}, nil).Once()
		repo.On("IncrementClick", mock.Anything, int64(6)).Return(assert.AnError).Once()

		_, err := svc.Redirect(ctx, "err002")
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})
}
