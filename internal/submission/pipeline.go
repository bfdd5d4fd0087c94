package submission

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"livecheck/internal/events"
	"livecheck/internal/evidence"
	"livecheck/internal/submission/metrics"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
	"livecheck/pkg/platform/sentinel"
)

// Boundary is the external review service.
type Boundary interface {
	Submit(ctx context.Context, bundle *Bundle) (*BoundaryResponse, error)
}

// ReceiptStore remembers the receipt issued for each session.
type ReceiptStore interface {
	// Get returns sentinel.ErrNotFound when the session has no receipt.
	Get(ctx context.Context, sessionID id.SessionID) (*Receipt, error)
	// SaveIfAbsent stores r unless a receipt exists for the session, and
	// returns whichever receipt is stored afterwards.
	SaveIfAbsent(ctx context.Context, r *Receipt) (*Receipt, error)
}

// Archive keeps a durable copy of submitted decision records.
type Archive interface {
	Archive(ctx context.Context, record *Record, receipt *Receipt) error
}

const (
	uploadConcurrency   = 4
	receiptSaveAttempts = 3
)

// Pipeline submits decided sessions to the review boundary exactly once.
type Pipeline struct {
	boundary  Boundary
	receipts  ReceiptStore
	store     evidence.Store
	archive   Archive
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	group     singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEvidenceStore uploads evidence frames before the record is sent.
func WithEvidenceStore(s evidence.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

func WithArchive(a Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a pipeline. The boundary and receipt store are required.
func New(boundary Boundary, receipts ReceiptStore, opts ...Option) (*Pipeline, error) {
	if boundary == nil {
		return nil, errors.New("submission boundary is required")
	}
	if receipts == nil {
		return nil, errors.New("receipt store is required")
	}
	p := &Pipeline{
		boundary:  boundary,
		receipts:  receipts,
		publisher: events.Nop{},
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Submit sends the package to the review boundary and returns the receipt.
// A session that already has a receipt gets it back without a new call.
// The receipt is saved with retries once the boundary accepts the record.
// Failures carry CodeSubmissionNetwork (retry the same package) or
// CodeSubmissionValidation (the session cannot be submitted).
func (p *Pipeline) Submit(ctx context.Context, pkg *Package) (*Receipt, error) {
	if err := pkg.Validate(); err != nil {
		p.metrics.IncrementOutcome("validation_error")
		return nil, err
	}
	sessionID := pkg.Applicant.SessionID

	v, err, _ := p.group.Do(sessionID.String(), func() (any, error) {
		return p.submit(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Receipt), nil
}

// Receipt returns the stored receipt for a session.
func (p *Pipeline) Receipt(ctx context.Context, sessionID id.SessionID) (*Receipt, error) {
	r, err := p.receipts.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no submission for session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load receipt")
	}
	return r, nil
}

func (p *Pipeline) submit(ctx context.Context, pkg *Package) (*Receipt, error) {
	sessionID := pkg.Applicant.SessionID

	prior, err := p.receipts.Get(ctx, sessionID)
	switch {
	case err == nil:
		p.metrics.IncrementOutcome("replayed")
		return prior, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "failed to read prior receipt")
	}

	selfie, frames, err := p.storeEvidence(ctx, pkg)
	if err != nil {
		p.metrics.IncrementOutcome("network_error")
		return nil, err
	}
	bundle := buildBundle(pkg, selfie, frames)
	p.metrics.ObserveEvidenceBytes(bundleSize(bundle))

	start := p.clock.Now()
	resp, err := p.boundary.Submit(ctx, bundle)
	p.metrics.ObserveBoundaryLatency(p.clock.Since(start))
	if err != nil {
		err = classify(err)
		if dErrors.HasCode(err, dErrors.CodeSubmissionValidation) {
			p.metrics.IncrementOutcome("validation_error")
		} else {
			p.metrics.IncrementOutcome("network_error")
		}
		p.logger.WarnContext(ctx, "submission failed",
			"session_id", sessionID.String(),
			"code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		return nil, err
	}

	receipt := &Receipt{
		ID:             id.NewReceiptID(),
		SessionID:      sessionID,
		Accepted:       resp.Accepted,
		ReviewETA:      resp.ReviewETA,
		SubmittedAt:    p.clock.Now(),
		EvidenceDigest: bundle.Record.EvidenceDigest,
	}
	stored := p.saveReceipt(ctx, receipt)

	if p.archive != nil {
		if err := p.archive.Archive(ctx, &bundle.Record, stored); err != nil {
			p.logger.ErrorContext(ctx, "failed to archive decision record",
				"session_id", sessionID.String(),
				"error", err,
			)
		}
	}

	outcome, eventType := "accepted", events.SubmissionAccepted
	if !stored.Accepted {
		outcome, eventType = "rejected", events.SubmissionRejected
	}
	p.metrics.IncrementOutcome(outcome)
	ev := events.New(eventType, sessionID.String(), stored.SubmittedAt, map[string]any{
		"receipt_id": stored.ID.String(),
		"passed":     pkg.Decision.Passed,
	})
	ev.UserID = pkg.Applicant.UserID.String()
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "failed to publish submission event", "error", err)
	}

	p.logger.InfoContext(ctx, "session submitted",
		"session_id", sessionID.String(),
		"receipt_id", stored.ID.String(),
		"accepted", stored.Accepted,
		"evidence_frames", len(frames),
	)
	return stored, nil
}

// saveReceipt persists the receipt for a record the boundary already holds.
// It outlives the caller's context and retries, since a lost receipt means
// the next Submit calls the boundary again. When every attempt fails the
// boundary's Idempotency-Key dedupe on the session ID is the last guard.
func (p *Pipeline) saveReceipt(ctx context.Context, receipt *Receipt) *Receipt {
	saveCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= receiptSaveAttempts; attempt++ {
		var stored *Receipt
		stored, err = p.receipts.SaveIfAbsent(saveCtx, receipt)
		if err == nil {
			return stored
		}
		p.logger.WarnContext(ctx, "failed to store submission receipt",
			"session_id", receipt.SessionID.String(),
			"attempt", attempt,
			"error", err,
		)
	}
	p.logger.ErrorContext(ctx, "submission receipt not stored",
		"session_id", receipt.SessionID.String(),
		"error", err,
	)
	return receipt
}

// storeEvidence uploads the selfie and evidence frames and returns copies
// that point at the stored blobs.
func (p *Pipeline) storeEvidence(ctx context.Context, pkg *Package) (*evidence.CaptureFrame, []evidence.CaptureFrame, error) {
	frames := make([]evidence.CaptureFrame, len(pkg.Evidence))
	copy(frames, pkg.Evidence)
	var selfie *evidence.CaptureFrame
	if pkg.Selfie != nil {
		s := *pkg.Selfie
		selfie = &s
	}
	if p.store == nil {
		return selfie, frames, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	put := func(key string, f *evidence.CaptureFrame) {
		if len(f.Data()) == 0 {
			return
		}
		g.Go(func() error {
			ref, err := p.store.Put(gctx, key, f.ContentType, f.Data())
			if err != nil {
				return err
			}
			*f = f.WithRef(ref)
			return nil
		})
	}
	if selfie != nil {
		put(selfieKey(pkg, *selfie), selfie)
	}
	for i := range frames {
		put(evidenceKey(pkg, i, frames[i]), &frames[i])
	}
	if err := g.Wait(); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "failed to store evidence")
	}
	return selfie, frames, nil
}

// classify makes sure every boundary failure carries a submission code.
// Anything unrecognised is treated as transient.
func classify(err error) error {
	if dErrors.HasCode(err, dErrors.CodeSubmissionValidation) || dErrors.HasCode(err, dErrors.CodeSubmissionNetwork) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "submission cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "submission timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "submission boundary unreachable")
}

func bundleSize(b *Bundle) int {
	n := 0
	for _, f := range b.Files {
		n += len(f.Data)
	}
	return n
}
