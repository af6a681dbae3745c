// Package app is the collaboration service: it accepts edits of stored documents,
// merges concurrent edits automatically when they do not overlap, records the ones
// that do as conflicts and applies their resolutions.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/reconcile/internal/conflict"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/metrics"
	"github.com/raysh454/reconcile/internal/store"
	"github.com/raysh454/reconcile/internal/textdiff"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrVersionNotFound  = errors.New("version not found")
	ErrConflictNotFound = errors.New("conflict not found")
	ErrInvalidEdit      = errors.New("invalid edit")
)

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	CreateDocument(ctx context.Context, title, content, authorID, authorName string) (*store.Document, *store.Version, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	Commit(ctx context.Context, req store.CommitRequest) (*store.Version, error)
	GetVersion(ctx context.Context, id string) (*store.Version, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.Version, error)
	SaveConflict(ctx context.Context, rec *store.ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*store.ConflictRecord, error)
	ListConflicts(ctx context.Context, documentID string, openOnly bool) ([]store.ConflictRecord, error)
	AttachResolution(ctx context.Context, id string, res *conflict.Resolution) (*store.ConflictRecord, error)
	ReopenConflict(ctx context.Context, id string) error
}

type EditStatus string

const (
	EditCommitted EditStatus = "committed"
	EditMerged    EditStatus = "merged"
	EditConflict  EditStatus = "conflict"
	EditNoop      EditStatus = "noop"
)

// EditRequest proposes Content as the new text of a document. BaseVersionID is the
// version the author started from; empty means the current head.
type EditRequest struct {
	BaseVersionID string `json:"base_version_id"`
	UserID        string `json:"user_id" validate:"required"`
	UserName      string `json:"user_name"`
	Content       string `json:"content"`
	Message       string `json:"message"`
}

// EditOutcome reports what SubmitEdit did. Version is the new head for committed and
// merged edits and the unchanged head for noop; Conflict is set for conflicts.
type EditOutcome struct {
	Status   EditStatus            `json:"status"`
	Version  *store.Version        `json:"version,omitempty"`
	Conflict *store.ConflictRecord `json:"conflict,omitempty"`
}

// EditPreview is what SubmitEdit would do right now.
type EditPreview struct {
	Status        EditStatus        `json:"status"`
	BaseVersionID string            `json:"base_version_id"`
	HeadVersionID string            `json:"head_version_id"`
	Content       string            `json:"content"`
	Regions       []conflict.Region `json:"regions,omitempty"`
}

// ResolveOutcome is the resolved conflict and the edit that applied the chosen content.
type ResolveOutcome struct {
	Conflict *store.ConflictRecord `json:"conflict"`
	Edit     *EditOutcome          `json:"edit,omitempty"`
}

// DocumentView is a document with its head version, content included.
type DocumentView struct {
	store.Document
	Head *store.Version `json:"head"`
}

// DiffOptions override the configured differ for one diff.
type DiffOptions struct {
	Granularity textdiff.Granularity `json:"granularity"`
	// StripHTML diffs the visible text of HTML inputs instead of their markup.
	StripHTML bool `json:"strip_html"`
}

// VersionDiff is a diff between two stored versions.
type VersionDiff struct {
	DocumentID    string `json:"document_id"`
	BaseVersionID string `json:"base_version_id,omitempty"`
	HeadVersionID string `json:"head_version_id"`
	textdiff.Result
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for edit snapshots, conflicts and resolutions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records service activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is safe for concurrent use. Writers of the same document race on the head
// in the store; the loser re-merges against the new head.
type Service struct {
	cfg     *Config
	store   Store
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	differ *textdiff.Differ
	engine *conflict.Engine
	hub    *Hub
}

func NewService(cfg *Config, st Store, logger logging.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("app: nil store provided")
	}
	if logger == nil {
		return nil, errors.New("app: nil logger provided")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CommitAttempts < 1 {
		cfg.CommitAttempts = 1
	}

	s := &Service{
		cfg:    cfg,
		store:  st,
		logger: logger.With(logging.Field{Key: "component", Value: "service"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.differ = textdiff.NewDiffer(cfg.Diff)
	s.engine = conflict.NewEngine(
		conflict.WithDiffer(s.differ),
		conflict.WithClock(func() time.Time { return s.now().UTC() }),
	)
	s.hub = NewHub(cfg.EventBuffer, s.metrics)
	return s, nil
}

// Hub returns the hub the service publishes document events on.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Close closes every event subscription.
func (s *Service) Close() {
	s.hub.Close()
}

// ─── Documents ─────────────────────────────────────────────────────────

func (s *Service) CreateDocument(ctx context.Context, title, content, userID, userName string) (*DocumentView, error) {
	doc, ver, err := s.store.CreateDocument(ctx, title, content, userID, userName)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.logger.Info("document created",
		logging.Field{Key: "document_id", Value: doc.ID},
		logging.Field{Key: "user_id", Value: userID})
	return &DocumentView{Document: *doc, Head: ver}, nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := s.document(ctx, id)
	if err != nil {
		return nil, err
	}
	head, err := s.version(ctx, doc.HeadVersionID)
	if err != nil {
		return nil, err
	}
	return &DocumentView{Document: *doc, Head: head}, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// ListVersions returns the history of a document, newest first.
func (s *Service) ListVersions(ctx context.Context, documentID string, limit int) ([]store.Version, error) {
	if _, err := s.document(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, documentID, limit)
}

// GetVersion returns a version of documentID with its content.
func (s *Service) GetVersion(ctx context.Context, documentID, versionID string) (*store.Version, error) {
	v, err := s.version(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.DocumentID != documentID {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return v, nil
}

func (s *Service) ListConflicts(ctx context.Context, documentID string, openOnly bool) ([]store.ConflictRecord, error) {
	if _, err := s.document(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListConflicts(ctx, documentID, openOnly)
}

func (s *Service) GetConflict(ctx context.Context, id string) (*store.ConflictRecord, error) {
	rec, err := s.store.GetConflict(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return rec, err
}

func (s *Service) document(ctx context.Context, id string) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, err
}

func (s *Service) version(ctx context.Context, id string) (*store.Version, error) {
	v, err := s.store.GetVersion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	return v, err
}

// ─── Edits ─────────────────────────────────────────────────────────────

// editPlan is the decision for one edit against the head read at planning time.
type editPlan struct {
	status   EditStatus
	base     *store.Version
	head     *store.Version
	content  string
	conflict *conflict.Conflict
}

func (s *Service) plan(ctx context.Context, documentID string, req EditRequest) (*editPlan, error) {
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	head, err := s.version(ctx, doc.HeadVersionID)
	if err != nil {
		return nil, err
	}

	base := head
	if req.BaseVersionID != "" && req.BaseVersionID != head.ID {
		if base, err = s.version(ctx, req.BaseVersionID); err != nil {
			return nil, err
		}
		if base.DocumentID != documentID {
			return nil, fmt.Errorf("%w: base version %s belongs to another document", ErrInvalidEdit, base.ID)
		}
	}

	p := &editPlan{base: base, head: head}
	switch {
	case req.Content == head.Content, req.Content == base.Content:
		p.status = EditNoop
		p.content = head.Content
		return p, nil
	case base.ID == head.ID:
		p.status = EditCommitted
		p.content = req.Content
		return p, nil
	}

	incoming := conflict.EditSnapshot{
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: s.now().UTC(),
	}
	current := conflict.EditSnapshot{
		UserID:    head.AuthorID,
		UserName:  head.AuthorName,
		Content:   head.Content,
		Timestamp: head.CreatedAt,
	}

	start := time.Now()
	c := s.engine.Detect(base.Content, incoming, current)
	if c != nil {
		s.metrics.ObserveDiff(string(s.differ.Config().Granularity), time.Since(start))
		p.status = EditConflict
		p.conflict = c
		p.content = s.engine.Merge(base.Content, incoming, current).Content
		return p, nil
	}
	merged := s.engine.Merge(base.Content, incoming, current)
	s.metrics.ObserveDiff(string(s.differ.Config().Granularity), time.Since(start))

	p.content = merged.Content
	p.status = EditMerged
	if merged.Content == head.Content {
		p.status = EditNoop
	}
	return p, nil
}

// PreviewEdit reports what SubmitEdit would do with req without changing anything.
// For conflicts Content is the merge with conflict markers.
func (s *Service) PreviewEdit(ctx context.Context, documentID string, req EditRequest) (*EditPreview, error) {
	p, err := s.plan(ctx, documentID, req)
	if err != nil {
		return nil, err
	}
	prev := &EditPreview{
		Status:        p.status,
		BaseVersionID: p.base.ID,
		HeadVersionID: p.head.ID,
		Content:       p.content,
	}
	if p.conflict != nil {
		prev.Regions = p.conflict.Regions
	}
	return prev, nil
}

// SubmitEdit applies req to a document:
//   - based on the head: committed as is;
//   - based on an older version and disjoint from what changed since: merged onto
//     the head and committed;
//   - overlapping what changed since: recorded as a conflict between the incoming
//     edit (user A) and the head (user B), nothing committed;
//   - no change relative to the head or to its base: noop.
func (s *Service) SubmitEdit(ctx context.Context, documentID string, req EditRequest) (*EditOutcome, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.plan(ctx, documentID, req)
		if err != nil {
			return nil, err
		}
		// Later attempts merge against the head we saw first, not whatever is current.
		req.BaseVersionID = p.base.ID

		switch p.status {
		case EditNoop:
			s.metrics.EditOutcome(string(EditNoop))
			return &EditOutcome{Status: EditNoop, Version: p.head}, nil
		case EditConflict:
			return s.recordConflict(ctx, documentID, p)
		}

		msg := req.Message
		if msg == "" && p.status == EditMerged {
			msg = fmt.Sprintf("merge onto version %d", p.head.Seq)
		}
		ver, err := s.store.Commit(ctx, store.CommitRequest{
			DocumentID: documentID,
			ParentID:   p.head.ID,
			AuthorID:   req.UserID,
			AuthorName: req.UserName,
			Message:    msg,
			Content:    p.content,
		})
		if errors.Is(err, store.ErrStaleParent) && attempt < s.cfg.CommitAttempts {
			s.logger.Debug("head moved during commit, retrying",
				logging.Field{Key: "document_id", Value: documentID},
				logging.Field{Key: "attempt", Value: attempt})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit edit: %w", err)
		}

		s.metrics.EditOutcome(string(p.status))
		s.logger.Info("edit committed",
			logging.Field{Key: "document_id", Value: documentID},
			logging.Field{Key: "version_id", Value: ver.ID},
			logging.Field{Key: "status", Value: string(p.status)},
			logging.Field{Key: "user_id", Value: req.UserID})
		s.hub.Publish(Event{
			Type:       EventVersion,
			DocumentID: documentID,
			Status:     p.status,
			Version:    ver,
			Time:       ver.CreatedAt,
		})
		return &EditOutcome{Status: p.status, Version: ver}, nil
	}
}

func (s *Service) recordConflict(ctx context.Context, documentID string, p *editPlan) (*EditOutcome, error) {
	rec := &store.ConflictRecord{
		Conflict:      *p.conflict,
		DocumentID:    documentID,
		BaseVersionID: p.base.ID,
		HeadVersionID: p.head.ID,
	}
	if err := s.store.SaveConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("save conflict: %w", err)
	}

	s.metrics.EditOutcome(string(EditConflict))
	s.metrics.ConflictDetected()
	s.logger.Info("conflict detected",
		logging.Field{Key: "document_id", Value: documentID},
		logging.Field{Key: "conflict_id", Value: rec.ID},
		logging.Field{Key: "regions", Value: len(rec.Regions)},
		logging.Field{Key: "user_a", Value: rec.UserA.UserID},
		logging.Field{Key: "user_b", Value: rec.UserB.UserID})
	s.hub.Publish(Event{
		Type:       EventConflict,
		DocumentID: documentID,
		Status:     EditConflict,
		Conflict:   rec,
		Time:       rec.Timestamp,
	})
	return &EditOutcome{Status: EditConflict, Conflict: rec}, nil
}

// ResolveConflict resolves a detected conflict, records the resolution and submits the
// chosen content as an edit based on the head the conflict was detected against. If the
// document moved on since, that edit is merged like any other and may itself conflict.
func (s *Service) ResolveConflict(ctx context.Context, id string, req conflict.ResolveRequest) (*ResolveOutcome, error) {
	rec, err := s.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Resolution != nil {
		return nil, fmt.Errorf("conflict %s: %w", id, store.ErrAlreadyResolved)
	}

	res, err := s.engine.Resolve(&rec.Conflict, req)
	if err != nil {
		return nil, err
	}
	// Only the resolver whose attach wins applies content. A failed apply reopens.
	updated, err := s.store.AttachResolution(ctx, id, res)
	if err != nil {
		return nil, err
	}

	edit, err := s.SubmitEdit(ctx, rec.DocumentID, EditRequest{
		BaseVersionID: rec.HeadVersionID,
		UserID:        res.ResolvedBy,
		Content:       res.ChosenContent,
		Message:       fmt.Sprintf("resolve conflict %s (%s)", id, res.Strategy),
	})
	if err != nil {
		err = fmt.Errorf("apply resolution: %w", err)
		if rerr := s.store.ReopenConflict(context.WithoutCancel(ctx), id); rerr != nil {
			s.logger.Error("reopening conflict after failed apply",
				logging.Field{Key: "conflict_id", Value: id},
				logging.Field{Key: "error", Value: rerr.Error()})
			return nil, errors.Join(err, rerr)
		}
		s.logger.Warn("resolution not applied, conflict reopened",
			logging.Field{Key: "conflict_id", Value: id},
			logging.Field{Key: "error", Value: err.Error()})
		return nil, err
	}

	s.metrics.Resolution(string(res.Strategy))
	s.logger.Info("conflict resolved",
		logging.Field{Key: "conflict_id", Value: id},
		logging.Field{Key: "strategy", Value: string(res.Strategy)},
		logging.Field{Key: "resolved_by", Value: res.ResolvedBy})

	ev := Event{
		Type:       EventResolved,
		DocumentID: rec.DocumentID,
		Status:     edit.Status,
		Version:    edit.Version,
		Conflict:   updated,
		Time:       res.ResolvedAt,
	}
	s.hub.Publish(ev)
	return &ResolveOutcome{Conflict: updated, Edit: edit}, nil
}

// ─── Diffs and stateless merges ────────────────────────────────────────

// DiffText diffs two texts. The differ's granularity is overridden by opts when set.
func (s *Service) DiffText(oldText, newText string, opts DiffOptions) (textdiff.Result, error) {
	if opts.StripHTML {
		var err error
		if oldText, err = textdiff.ExtractText(oldText); err != nil {
			return textdiff.Result{}, err
		}
		if newText, err = textdiff.ExtractText(newText); err != nil {
			return textdiff.Result{}, err
		}
	}

	d := s.differ
	if opts.Granularity != "" && opts.Granularity != d.Config().Granularity {
		cfg := d.Config()
		cfg.Granularity = opts.Granularity
		d = textdiff.NewDiffer(cfg)
	}

	start := time.Now()
	res := d.Compare(oldText, newText)
	s.metrics.ObserveDiff(string(res.Granularity), time.Since(start))
	return res, nil
}

// Diff compares two versions of a document. An empty headVersionID selects the head
// and an empty baseVersionID the parent of the compared head; the first version is
// compared against the empty text.
func (s *Service) Diff(ctx context.Context, documentID, baseVersionID, headVersionID string, opts DiffOptions) (*VersionDiff, error) {
	if headVersionID == "" {
		doc, err := s.document(ctx, documentID)
		if err != nil {
			return nil, err
		}
		headVersionID = doc.HeadVersionID
	}
	head, err := s.GetVersion(ctx, documentID, headVersionID)
	if err != nil {
		return nil, err
	}

	if baseVersionID == "" {
		baseVersionID = head.ParentID
	}
	var baseContent string
	if baseVersionID != "" {
		base, err := s.GetVersion(ctx, documentID, baseVersionID)
		if err != nil {
			return nil, err
		}
		baseContent = base.Content
	}

	res, err := s.DiffText(baseContent, head.Content, opts)
	if err != nil {
		return nil, err
	}
	return &VersionDiff{
		DocumentID:    documentID,
		BaseVersionID: baseVersionID,
		HeadVersionID: head.ID,
		Result:        res,
	}, nil
}

// Merge merges two edits of base without touching any document. The conflict is nil
// when the edits merge cleanly.
func (s *Service) Merge(base string, a, b conflict.EditSnapshot) (conflict.MergeResult, *conflict.Conflict) {
	return s.engine.Merge(base, a, b), s.engine.Detect(base, a, b)
}
