package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhejian/linkboard/internal/events"
	"github.com/zhejian/linkboard/internal/model"
	"github.com/zhejian/linkboard/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultStoreTimeout = 5 * time.Second

var meter = otel.Meter("github.com/zhejian/linkboard/internal/service")

// LinkServiceInterface defines the management and redirect operations
type LinkServiceInterface interface {
	CreateLink(ctx context.Context, req *model.CreateLinkRequest) (*model.LinkResponse, error)
	ListLinks(ctx context.Context) ([]model.LinkResponse, error)
	GetLink(ctx context.Context, code string) (*model.LinkResponse, error)
	DeleteLink(ctx context.Context, code string) error
	Redirect(ctx context.Context, code string) (string, error)
}

// Options tunes a LinkService. Zero values fall back to defaults.
type Options struct {
	BaseURL          string
	ShortCodeLen     int
	ShortCodeRetries int
	StoreTimeout     time.Duration
	Publisher        events.Publisher
	Logger           *slog.Logger
}

// LinkService handles business logic for link operations
type LinkService struct {
	repo         repository.LinkRepositoryInterface
	generator    *ShortCodeGenerator
	publisher    events.Publisher
	logger       *slog.Logger
	baseURL      string
	retries      int
	storeTimeout time.Duration

	created   metric.Int64Counter
	redirects metric.Int64Counter
}

// NewLinkService creates a new link service
func NewLinkService(repo repository.LinkRepositoryInterface, opts Options) *LinkService {
	s := &LinkService{
		repo:         repo,
		generator:    NewShortCodeGenerator(opts.ShortCodeLen),
		publisher:    opts.Publisher,
		logger:       opts.Logger,
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		retries:      opts.ShortCodeRetries,
		storeTimeout: opts.StoreTimeout,
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.retries < 1 {
		s.retries = 1
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}

	var err error
	if s.created, err = meter.Int64Counter("links.created",
		metric.WithDescription("Short links created")); err != nil {
		otel.Handle(err)
	}
	if s.redirects, err = meter.Int64Counter("links.redirects",
		metric.WithDescription("Redirect attempts by outcome")); err != nil {
		otel.Handle(err)
	}

	return s
}

// storeCtx bounds a single store call
func (s *LinkService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// CreateLink validates the request, allocates a code and stores the link
func (s *LinkService) CreateLink(ctx context.Context, req *model.CreateLinkRequest) (*model.LinkResponse, error) {
	if !IsValidURL(req.URL) {
		return nil, ErrInvalidURL
	}

	var (
		link *model.Link
		err  error
	)
	if req.CustomCode != "" {
		link, err = s.createWithCustomCode(ctx, req.CustomCode, req.URL)
	} else {
		link, err = s.createWithRandomCode(ctx, req.URL)
	}
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("custom_code", req.CustomCode != "")))
	s.publish(ctx, events.NewLinkEvent(events.LinkCreated, link.ID, link.Code, link.OriginalURL))

	return s.toResponse(link), nil
}

func (s *LinkService) createWithCustomCode(ctx context.Context, code, originalURL string) (*model.Link, error) {
	if !IsValidCustomCode(code) {
		return nil, ErrInvalidCode
	}

	// Advisory check; the unique constraint decides races below
	exists, err := s.exists(ctx, code)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrCodeExists
	}

	link := &model.Link{Code: code, OriginalURL: originalURL}
	if err := s.insert(ctx, link); err != nil {
		if errors.Is(err, repository.ErrCodeConflict) {
			return nil, ErrCodeExists
		}
		return nil, err
	}
	return link, nil
}

func (s *LinkService) createWithRandomCode(ctx context.Context, originalURL string) (*model.Link, error) {
	for attempt := 0; attempt < s.retries; attempt++ {
		code, err := s.generator.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate short code: %w", err)
		}

		link := &model.Link{Code: code, OriginalURL: originalURL}
		err = s.insert(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, repository.ErrCodeConflict) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "short code collision, retrying",
			slog.String("code", code),
			slog.Int("attempt", attempt+1))
	}
	return nil, ErrShortCodeGeneration
}

func (s *LinkService) exists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.Exists(ctx, code)
}

func (s *LinkService) insert(ctx context.Context, link *model.Link) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.Create(ctx, link)
}

// ListLinks returns every link, most recently created first
func (s *LinkService) ListLinks(ctx context.Context) ([]model.LinkResponse, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	links, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]model.LinkResponse, 0, len(links))
	for i := range links {
		resp = append(resp, *s.toResponse(&links[i]))
	}
	return resp, nil
}

// GetLink retrieves a link and its click statistics
func (s *LinkService) GetLink(ctx context.Context, code string) (*model.LinkResponse, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return s.toResponse(link), nil
}

// DeleteLink removes a link by code
func (s *LinkService) DeleteLink(ctx context.Context, code string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	removed, err := s.repo.Delete(storeCtx, code)
	if err != nil {
		return err
	}
	if !removed {
		return ErrLinkNotFound
	}

	s.publish(ctx, events.NewLinkEvent(events.LinkDeleted, 0, code, ""))
	return nil
}

// Redirect resolves a code to its destination and counts the click.
// Every failure, including a failed increment, is reported as
// ErrLinkNotFound so an anonymous caller cannot tell a missing link
// from a broken store. The underlying cause is logged.
func (s *LinkService) Redirect(ctx context.Context, code string) (string, error) {
	target, err := s.resolve(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.ErrorContext(ctx, "redirect lookup failed",
				slog.String("code", code),
				slog.String("error", err.Error()))
			s.countRedirect(ctx, "error")
		} else {
			s.countRedirect(ctx, "not_found")
		}
		return "", ErrLinkNotFound
	}

	if err := s.incrementClick(ctx, target.ID); err != nil {
		s.logger.ErrorContext(ctx, "click increment failed",
			slog.String("code", code),
			slog.Int64("link_id", target.ID),
			slog.String("error", err.Error()))
		s.countRedirect(ctx, "error")
		return "", ErrLinkNotFound
	}

	s.countRedirect(ctx, "redirected")
	return target.OriginalURL, nil
}

func (s *LinkService) resolve(ctx context.Context, code string) (*model.Target, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.Resolve(ctx, code)
}

func (s *LinkService) incrementClick(ctx context.Context, id int64) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.IncrementClick(ctx, id)
}

func (s *LinkService) countRedirect(ctx context.Context, outcome string) {
	s.redirects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// publish is best effort: a broker failure never fails the request
func (s *LinkService) publish(ctx context.Context, evt events.LinkEvent) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish link event",
			slog.String("type", evt.Type),
			slog.String("code", evt.Code),
			slog.String("error", err.Error()))
	}
}

// ShortURL builds the public short link for a code
func (s *LinkService) ShortURL(code string) string {
	return s.baseURL + "/" + code
}

func (s *LinkService) toResponse(link *model.Link) *model.LinkResponse {
	return &model.LinkResponse{
		ID:          link.ID,
		Code:        link.Code,
		OriginalURL: link.OriginalURL,
		ShortURL:    s.ShortURL(link.Code),
		Clicks:      link.Clicks,
		LastClicked: link.LastClicked,
		CreatedAt:   link.CreatedAt,
	}
}

// Ensure LinkService implements LinkServiceInterface at compile time
var _ LinkServiceInterface = (*LinkService)(nil)
