package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"civicdesk/api/internal/authz"
	"civicdesk/api/internal/config"
	"civicdesk/api/internal/handle"
	"civicdesk/api/internal/identity"
	"civicdesk/api/internal/search"
	"civicdesk/api/internal/store"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
	StatusRejected   = "rejected"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var allowedStatuses = map[string]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusResolved:   {},
	StatusRejected:   {},
}

var allowedPriorities = map[string]struct{}{
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
}

// Categories whose reports name a counterparty and therefore require the
// respondent field.
var disputeCategories = map[string]struct{}{
	"dispute":          {},
	"noise-complaint":  {},
	"property-dispute": {},
}

const categoryEmergency = "emergency"

type SubmitInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	ContactInfo string `json:"contactInfo"`
	Respondent  string `json:"respondent"`
	PhotoRef    string `json:"photoRef"`
	// OwnerID is optional; residents default to themselves. A caller may
	// never claim another identity (enforced by the authorization gateway).
	OwnerID string `json:"ownerId"`
}

type requestStore interface {
	NextAnonymousSeq(context.Context) (uint64, error)
	InsertRequest(context.Context, store.Request) error
	GetRequest(context.Context, string) (store.Request, error)
	ListRequests(context.Context) ([]store.Request, error)
	ListRequestsByOwner(context.Context, string) ([]store.Request, error)
	SetStatus(context.Context, string, string) (bool, error)
	SetPriority(context.Context, string, string) (bool, error)
	SetAdminNotes(context.Context, string, string) (bool, error)
	DeleteRequest(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type changeNotifier interface {
	Publish()
}

type Service struct {
	cfg      config.Config
	store    requestStore
	notifier changeNotifier
	search   *search.Service
	logger   *zap.Logger
}

// New wires the state machine. searchService may be nil when search is not
// configured.
func New(cfg config.Config, requestStore requestStore, notifier changeNotifier, searchService *search.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    requestStore,
		notifier: notifier,
		search:   searchService,
		logger:   logger,
	}
}

// Submit validates and persists a new request. Guest submissions allocate an
// anonymous handle atomically; the record and its handle exist together or
// not at all. Publishes exactly one refresh after the write commits.
func (s *Service) Submit(ctx context.Context, caller identity.Identity, input SubmitInput) (store.Request, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	category := strings.ToLower(strings.TrimSpace(input.Category))
	location := strings.TrimSpace(input.Location)
	contactInfo := strings.TrimSpace(input.ContactInfo)
	respondent := strings.TrimSpace(input.Respondent)

	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"title", title},
		{"description", description},
		{"category", category},
		{"location", location},
		{"contactInfo", contactInfo},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return store.Request{}, errValidation("missing required fields", map[string]any{"missing": missing})
	}
	if _, disputed := disputeCategories[category]; disputed && respondent == "" {
		return store.Request{}, errValidation("respondent is required for this category", map[string]any{"category": category})
	}

	proposedOwner := strings.TrimSpace(input.OwnerID)
	if proposedOwner == "" && caller.IsResident() {
		proposedOwner = caller.UserID
	}
	if !authz.CanCreate(caller, proposedOwner) {
		return store.Request{}, errPermissionDenied()
	}

	now := time.Now().UTC()
	record := store.Request{
		ID:          "req_" + uuid.NewString(),
		Title:       title,
		Description: description,
		Category:    category,
		Location:    location,
		ContactInfo: contactInfo,
		PhotoRef:    strings.TrimSpace(input.PhotoRef),
		Respondent:  respondent,
		Status:      StatusPending,
		Priority:    defaultPriority(category),
		OwnerID:     proposedOwner,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if proposedOwner == "" {
		if err := s.insertGuest(ctx, &record); err != nil {
			return store.Request{}, err
		}
	} else {
		record.DisplayName = residentName(caller)
		if err := s.store.InsertRequest(ctx, record); err != nil {
			return store.Request{}, err
		}
	}

	s.notifier.Publish()
	s.indexRequest(record)
	s.logger.Info("request submitted",
		zap.String("request_id", record.ID),
		zap.String("category", record.Category),
		zap.Bool("guest", record.OwnerID == ""),
	)
	return record, nil
}

// insertGuest allocates a fresh handle from the store sequence and inserts.
// A duplicate-handle conflict (someone raced the same value in past data)
// retries with a new sequence value; the sequence itself never repeats, so
// retries leave gaps but never duplicates.
func (s *Service) insertGuest(ctx context.Context, record *store.Request) error {
	retries := s.cfg.AllocateRetries
	if retries <= 0 {
		retries = 3
	}
	for attempt := 0; attempt < retries; attempt++ {
		var seq uint64
		err := s.retryTransient(ctx, func() error {
			var err error
			seq, err = s.store.NextAnonymousSeq(ctx)
			return err
		})
		if err != nil {
			return err
		}
		record.DisplayName = handle.Format(seq)
		// the insert itself is never retried on a transient failure: an
		// ambiguous network error may have committed, and replaying it
		// could duplicate the record
		err = s.store.InsertRequest(ctx, *record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateHandle) {
			return err
		}
		s.logger.Warn("allocator: handle conflict, retrying",
			zap.String("handle", record.DisplayName),
			zap.Int("attempt", attempt+1),
		)
	}
	return errUnavailable("could not allocate an anonymous handle")
}

// List returns the caller's authorized slice, newest first. Anonymous callers
// get an empty list, never an error.
func (s *Service) List(ctx context.Context, caller identity.Identity) ([]store.Request, error) {
	switch authz.ReadScope(caller) {
	case authz.ScopeAll:
		return s.listRequests(ctx, func(ctx context.Context) ([]store.Request, error) {
			return s.store.ListRequests(ctx)
		})
	case authz.ScopeOwn:
		return s.listRequests(ctx, func(ctx context.Context) ([]store.Request, error) {
			return s.store.ListRequestsByOwner(ctx, caller.UserID)
		})
	default:
		return []store.Request{}, nil
	}
}

// Get returns one record if the caller may see it. Records outside the
// caller's scope behave exactly like absent ones.
func (s *Service) Get(ctx context.Context, caller identity.Identity, requestID string) (store.Request, error) {
	if authz.ReadScope(caller) == authz.ScopeNone {
		return store.Request{}, errNotFound()
	}
	record, err := s.getRequest(ctx, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Request{}, errNotFound()
	}
	if err != nil {
		return store.Request{}, err
	}
	if !authz.CanRead(caller, record.OwnerID) {
		return store.Request{}, errNotFound()
	}
	return record, nil
}

const transientRetries = 3

// retryTransient re-runs fn on transient store errors with a short backoff.
// Used on read and allocator-sequence paths only; writes are never replayed.
func (s *Service) retryTransient(ctx context.Context, fn func() error) error {
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < transientRetries; attempt++ {
		err = fn()
		if err == nil || !store.IsTransient(err) {
			return err
		}
		if attempt == transientRetries-1 {
			break
		}
		s.logger.Warn("store: transient error, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *Service) getRequest(ctx context.Context, requestID string) (store.Request, error) {
	var record store.Request
	err := s.retryTransient(ctx, func() error {
		var err error
		record, err = s.store.GetRequest(ctx, requestID)
		return err
	})
	return record, err
}

func (s *Service) listRequests(ctx context.Context, fetch func(context.Context) ([]store.Request, error)) ([]store.Request, error) {
	var items []store.Request
	err := s.retryTransient(ctx, func() error {
		var err error
		items, err = fetch(ctx)
		return err
	})
	return items, err
}

// UpdateStatus replaces the status. Idempotent: re-applying the same value
// still bumps updatedAt and publishes one refresh.
func (s *Service) UpdateStatus(ctx context.Context, caller identity.Identity, requestID, status string) (store.Request, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if _, ok := allowedStatuses[status]; !ok {
		return store.Request{}, errValidation("invalid status", map[string]any{"status": status})
	}
	return s.mutate(ctx, caller, requestID, func(ctx context.Context) (bool, error) {
		return s.store.SetStatus(ctx, requestID, status)
	})
}

func (s *Service) UpdatePriority(ctx context.Context, caller identity.Identity, requestID, priority string) (store.Request, error) {
	priority = strings.ToLower(strings.TrimSpace(priority))
	if _, ok := allowedPriorities[priority]; !ok {
		return store.Request{}, errValidation("invalid priority", map[string]any{"priority": priority})
	}
	return s.mutate(ctx, caller, requestID, func(ctx context.Context) (bool, error) {
		return s.store.SetPriority(ctx, requestID, priority)
	})
}

// UpdateNotes replaces the admin notes; an empty string clears them.
func (s *Service) UpdateNotes(ctx context.Context, caller identity.Identity, requestID, notes string) (store.Request, error) {
	return s.mutate(ctx, caller, requestID, func(ctx context.Context) (bool, error) {
		return s.store.SetAdminNotes(ctx, requestID, strings.TrimSpace(notes))
	})
}

func (s *Service) mutate(ctx context.Context, caller identity.Identity, requestID string, apply func(context.Context) (bool, error)) (store.Request, error) {
	if !authz.CanMutateState(caller) {
		return store.Request{}, errPermissionDenied()
	}
	changed, err := apply(ctx)
	if err != nil {
		return store.Request{}, err
	}
	if !changed {
		return store.Request{}, errNotFound()
	}
	// the write committed: announce it before the re-read, so a failing
	// re-read cannot swallow the refresh
	s.notifier.Publish()
	record, err := s.getRequest(ctx, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Request{}, errNotFound()
	}
	if err != nil {
		return store.Request{}, err
	}
	s.indexRequest(record)
	return record, nil
}

// Delete is an administrative override. The handle sequence is never reset,
// so deleting a guest record cannot cause handle reuse.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, requestID string) error {
	if !authz.CanMutateState(caller) {
		return errPermissionDenied()
	}
	deleted, err := s.store.DeleteRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound()
	}
	s.notifier.Publish()
	if s.search != nil {
		s.search.DeleteRequest(requestID)
	}
	return nil
}

// Search runs an admin search over all requests.
func (s *Service) Search(ctx context.Context, caller identity.Identity, query search.Query) (search.Response, error) {
	if !caller.IsAdmin() {
		return search.Response{}, errPermissionDenied()
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}, nil
	}
	return s.search.Search(ctx, query), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexRequest(record store.Request) {
	if s.search == nil {
		return
	}
	s.search.IndexRequest(search.RequestRecord{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Category:    record.Category,
		Location:    record.Location,
		Status:      record.Status,
		Priority:    record.Priority,
		DisplayName: record.DisplayName,
		SubmittedAt: record.SubmittedAt.Unix(),
	})
}

func defaultPriority(category string) string {
	if category == categoryEmergency {
		return PriorityHigh
	}
	return PriorityMedium
}

// residentName picks the display name for an owned record. Candidates that
// match the anonymous handle grammar are skipped: only ownerless records may
// carry handle-shaped names, and the guest uniqueness index only covers
// ownerless rows.
func residentName(caller identity.Identity) string {
	for _, candidate := range []string{caller.DisplayName, caller.Email} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || handle.Matches(candidate) {
			continue
		}
		return candidate
	}
	return "Resident"
}
