package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"livecheck/internal/capture"
	"livecheck/internal/events"
	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
	"livecheck/internal/platform/tracing"
	"livecheck/internal/scoring"
	"livecheck/internal/submission"
	"livecheck/internal/verification/metrics"
	"livecheck/internal/verification/ports"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
	"livecheck/pkg/platform/sentinel"
)

// run is a background capture run that owns the session's current phase.
type run struct {
	phase  Phase
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the run and waits until it has released the device.
func (r *run) stop() {
	r.cancel()
	<-r.done
}

// Service drives verification sessions through their phases. Capture runs
// execute in the background, one per session, and are the only writers of
// the session while they own its phase.
type Service struct {
	store       Store
	devices     *capture.Registry
	sequencer   ports.ChallengeRunner
	scanner     ports.ScanRunner
	submitter   ports.Submitter
	documents   ports.DocumentChecker
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	clock       capture.Clock
	thresholds  scoring.Thresholds
	challengeD  time.Duration
	scanSteps   []facescan.Step
	sessionTTL  time.Duration
	constraints capture.Constraints

	// maxFrameSide of zero means capture.DefaultMaxFrameSide.
	maxFrameSide int

	mu   sync.Mutex
	runs map[id.SessionID]*run
	wg   sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithDocumentChecker enables the document phase.
func WithDocumentChecker(c ports.DocumentChecker) Option {
	return func(s *Service) { s.documents = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(c capture.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithThresholds sets the pass thresholds used by Decide.
func WithThresholds(t scoring.Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// WithChallengeDuration sets MaxDuration for the default challenge list.
func WithChallengeDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.challengeD = d
		}
	}
}

func WithScanSteps(steps []facescan.Step) Option {
	return func(s *Service) {
		if len(steps) > 0 {
			s.scanSteps = steps
		}
	}
}

// WithSessionTTL sets how long a session may stay unfinished.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.sessionTTL = ttl }
}

func WithConstraints(c capture.Constraints) Option {
	return func(s *Service) { s.constraints = c }
}

// WithMaxFrameSide caps the pixel width and height of pushed frames.
func WithMaxFrameSide(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFrameSide = n
		}
	}
}

// New creates the verification service.
func New(
	store Store,
	devices *capture.Registry,
	sequencer ports.ChallengeRunner,
	scanner ports.ScanRunner,
	submitter ports.Submitter,
	opts ...Option,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if devices == nil {
		return nil, errors.New("device registry is required")
	}
	if sequencer == nil {
		return nil, errors.New("challenge sequencer is required")
	}
	if scanner == nil {
		return nil, errors.New("face scanner is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	s := &Service{
		store:       store,
		devices:     devices,
		sequencer:   sequencer,
		scanner:     scanner,
		submitter:   submitter,
		publisher:   events.Nop{},
		logger:      slog.Default(),
		tracer:      tracing.Tracer("verification"),
		clock:       capture.RealClock(),
		thresholds:  scoring.DefaultThresholds(),
		challengeD:  5 * time.Second,
		scanSteps:   facescan.DefaultSteps(),
		sessionTTL:  15 * time.Minute,
		constraints: capture.Constraints{Facing: capture.FacingUser},
		runs:        make(map[id.SessionID]*run),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// deviceKey names the user's camera. Every session of the user shares it, so
// a run still holding it blocks the next session with device_busy.
func deviceKey(userID id.UserID) string {
	return userID.String()
}

// Start opens a new session for the user. A user has at most one live
// session; a stale one is expired first.
func (s *Service) Start(ctx context.Context, userID id.UserID, client submission.ClientInfo) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.Start")
	defer func() { tracing.End(span, err) }()

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := s.expireActive(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &Session{
		ID:        id.NewSessionID(),
		UserID:    userID,
		StartedAt: now,
		UpdatedAt: now,
		Phase:     PhaseIdle,
		Client:    client,
	}
	if err := s.store.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "user already has an active verification session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	span.SetAttributes(tracing.Session(session.ID))
	s.metrics.IncrementSessionsStarted()
	s.logger.InfoContext(ctx, "verification session started",
		"session_id", session.ID.String(),
		"user_id", userID.String(),
		"browser", client.Browser,
		"mobile", client.Mobile,
	)
	return session, nil
}

// Get returns a snapshot of the caller's session.
func (s *Service) Get(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*Session, error) {
	return s.load(ctx, userID, sessionID)
}

// Status reports phase, instruction and progress without changing anything.
func (s *Service) Status(ctx context.Context, userID id.UserID, sessionID id.SessionID) (Status, error) {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(session), nil
}

// AttachDevice grants the session's capture feed. Frames pushed afterwards
// become visible to capture runs.
func (s *Service) AttachDevice(ctx context.Context, userID id.UserID, sessionID id.SessionID, facing string) (*Session, error) {
	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeConflict, "session is finished")
	}
	if session.Running {
		return nil, dErrors.New(dErrors.CodeDeviceBusy, "capture device is in use by a running phase")
	}
	s.devices.Attach(deviceKey(userID), capture.NewFeedDevice(facing, capture.WithMaxFrameSide(s.maxFrameSide)))
	s.logger.InfoContext(ctx, "capture device attached",
		"session_id", sessionID.String(),
		"facing", facing,
	)
	return session, nil
}

// PushFrame hands an encoded frame to the session's feed.
func (s *Service) PushFrame(ctx context.Context, userID id.UserID, sessionID id.SessionID, data []byte, ts time.Time) (*capture.Frame, error) {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeConflict, "session is finished")
	}
	device, ok := s.devices.Device(deviceKey(userID))
	if !ok {
		return nil, dErrors.New(dErrors.CodeDeviceUnavailable, "no capture device has been granted")
	}
	return device.Push(data, ts)
}

// CheckDocument runs the document check and moves an idle session into
// the document phase.
func (s *Service) CheckDocument(ctx context.Context, userID id.UserID, sessionID id.SessionID, images []submission.Image) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.CheckDocument", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	if s.documents == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "document checks are not configured")
	}
	if len(images) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one document image is required")
	}
	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := documentAllowed(session); err != nil {
		return nil, err
	}

	result, err := s.documents.Check(ctx, images)
	if err != nil {
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "document check failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err = s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := documentAllowed(session); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if session.Phase == PhaseIdle {
		if err := session.Advance(PhaseDocument, now); err != nil {
			return nil, err
		}
	}
	session.Document = &submission.DocumentOutcome{IsValid: result.IsValid, Confidence: result.Confidence}
	session.DocumentImages = append([]submission.Image(nil), images...)
	session.UpdatedAt = now
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "document checked",
		"session_id", sessionID.String(),
		"is_valid", result.IsValid,
		"confidence", result.Confidence,
	)
	return session, nil
}

func documentAllowed(session *Session) error {
	if session.Running {
		return dErrors.New(dErrors.CodeConflict, "a capture run is in progress")
	}
	if session.Phase != PhaseIdle && session.Phase != PhaseDocument {
		return dErrors.New(dErrors.CodeConflict, "document check is only possible before liveness")
	}
	return nil
}

// BeginLiveness acquires the capture device and starts the challenge
// sequence in the background. Device errors are returned immediately and
// leave the session where it was. An empty list uses the default challenges.
func (s *Service) BeginLiveness(ctx context.Context, userID id.UserID, sessionID id.SessionID, challenges []liveness.Challenge) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.BeginLiveness", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	if len(challenges) == 0 {
		challenges = liveness.DefaultChallenges(s.challengeD)
	}
	if err := liveness.ValidateChallenges(challenges); err != nil {
		return nil, err
	}
	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Running {
		return nil, dErrors.New(dErrors.CodeConflict, "a capture run is already in progress")
	}
	if !session.Phase.CanAdvanceTo(PhaseLiveness) {
		return nil, dErrors.New(dErrors.CodeConflict, "liveness cannot start from phase "+string(session.Phase))
	}

	handle, err := s.devices.Open(ctx, deviceKey(userID), s.constraints)
	if err != nil {
		s.logger.WarnContext(ctx, "capture device not acquired",
			"session_id", sessionID.String(),
			"error", err,
		)
		return nil, err
	}

	now := s.clock.Now()
	if err := session.Advance(PhaseLiveness, now); err != nil {
		_ = handle.Close()
		return nil, err
	}
	session.Challenges = append([]liveness.Challenge(nil), challenges...)
	session.Running = true
	session.Progress = Progress{Instruction: challenges[0].Instruction, Total: len(challenges)}
	if err := s.save(ctx, session); err != nil {
		_ = handle.Close()
		return nil, err
	}

	s.startRun(ctx, sessionID, PhaseLiveness, handle, func(runCtx context.Context, src capture.FrameSource, r *run) (func(*Session), error) {
		outcome, err := s.sequencer.Run(runCtx, sessionID.String(), src, challenges, func(u liveness.Update) {
			s.setProgress(runCtx, sessionID, r, Progress{
				Instruction: u.Challenge.Instruction,
				Index:       finishedIndex(u.Index, u.Status == liveness.StatusCompleted || u.Status == liveness.StatusTimedOut),
				Total:       u.Total,
				Step:        string(u.Challenge.Kind),
			})
		})
		if err != nil {
			return nil, err
		}
		return func(sess *Session) {
			sess.Results = outcome.Results
			sess.Selfie = outcome.Selfie
		}, nil
	})
	s.logger.InfoContext(ctx, "liveness started",
		"session_id", sessionID.String(),
		"challenges", len(challenges),
	)
	return session, nil
}

// BeginFaceScan acquires the device and starts the head-pose scan once the
// liveness run has finished.
func (s *Service) BeginFaceScan(ctx context.Context, userID id.UserID, sessionID id.SessionID) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.BeginFaceScan", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Running {
		return nil, dErrors.New(dErrors.CodeConflict, "a capture run is already in progress")
	}
	if session.Phase != PhaseLiveness || len(session.Results) == 0 {
		return nil, dErrors.New(dErrors.CodeConflict, "face scan requires a finished liveness phase")
	}

	handle, err := s.devices.Open(ctx, deviceKey(userID), s.constraints)
	if err != nil {
		return nil, err
	}

	steps := s.scanSteps
	now := s.clock.Now()
	if err := session.Advance(PhaseFaceScan, now); err != nil {
		_ = handle.Close()
		return nil, err
	}
	session.Running = true
	session.Progress = Progress{Instruction: steps[0].Instruction(), Total: len(steps)}
	if err := s.save(ctx, session); err != nil {
		_ = handle.Close()
		return nil, err
	}

	s.startRun(ctx, sessionID, PhaseFaceScan, handle, func(runCtx context.Context, src capture.FrameSource, r *run) (func(*Session), error) {
		result, err := s.scanner.Run(runCtx, sessionID.String(), src, steps, func(u facescan.Update) {
			s.setProgress(runCtx, sessionID, r, Progress{
				Instruction: u.Step.Instruction(),
				Index:       u.Index,
				Total:       u.Total,
				Step:        string(u.Step),
			})
		})
		if err != nil {
			return nil, err
		}
		return func(sess *Session) {
			sess.Scan = result
		}, nil
	})
	s.logger.InfoContext(ctx, "face scan started",
		"session_id", sessionID.String(),
		"steps", len(steps),
	)
	return session, nil
}

func finishedIndex(i int, finished bool) int {
	if finished {
		return i + 1
	}
	return i
}

// Wait blocks until the session's running phase finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*Session, error) {
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	r := s.runs[sessionID]
	s.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "capture run still in progress")
		}
	}
	return s.load(ctx, userID, sessionID)
}

// Decide scores the finished capture phases and moves the session to review.
// Threshold failures are reported on the decision, not as errors.
func (s *Service) Decide(ctx context.Context, userID id.UserID, sessionID id.SessionID) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.Decide", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if session.Running {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, "a capture run is still in progress")
	}
	if session.Phase == PhaseReview && session.Decision != nil {
		s.mu.Unlock()
		return session, nil
	}
	if (session.Phase != PhaseLiveness && session.Phase != PhaseFaceScan) || len(session.Results) == 0 {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, "nothing to decide before the liveness phase has finished")
	}

	now := s.clock.Now()
	decision := scoring.Aggregate(session.Results, session.Scan, s.thresholds, now)
	if err := session.Advance(PhaseReview, now); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	session.Decision = &decision
	if err := s.save(ctx, session); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.devices.Detach(deviceKey(session.UserID))
	s.mu.Unlock()

	reasons := make([]string, len(decision.FailureReasons))
	for i, r := range decision.FailureReasons {
		reasons[i] = string(r)
	}
	s.metrics.IncrementDecision(decision.Passed, reasons)
	s.publish(ctx, session, events.DecisionMade, map[string]any{
		"passed":          decision.Passed,
		"liveness_score":  decision.LivenessScore,
		"quality_score":   decision.QualityScore,
		"failure_reasons": reasons,
	})
	s.logger.InfoContext(ctx, "verification decided",
		"session_id", sessionID.String(),
		"passed", decision.Passed,
		"liveness_score", decision.LivenessScore,
		"quality_score", decision.QualityScore,
	)
	return session, nil
}

// Submit sends the decided session to the review boundary. Network failures
// leave the session in review for a retry; validation failures fail it.
func (s *Service) Submit(ctx context.Context, userID id.UserID, sessionID id.SessionID) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.Submit", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	if err := s.expireIfStale(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase == PhaseComplete && session.Receipt != nil {
		return session, nil
	}
	if session.Phase != PhaseReview || session.Decision == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "only a decided session can be submitted")
	}

	receipt, subErr := s.submitter.Submit(ctx, packageOf(session))

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err = s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase == PhaseComplete && session.Receipt != nil {
		return session, nil
	}
	if session.Phase != PhaseReview {
		return nil, dErrors.New(dErrors.CodeConflict, "session left review during submission")
	}

	now := s.clock.Now()
	if subErr != nil {
		if dErrors.HasCode(subErr, dErrors.CodeSubmissionValidation) {
			if err := session.Fail(ReasonSubmissionRejected, now); err != nil {
				return nil, err
			}
			session.LastError = errorMessage(subErr)
			if err := s.save(ctx, session); err != nil {
				return nil, err
			}
			s.metrics.IncrementSessionsEnded(string(PhaseFailed), ReasonSubmissionRejected)
			return nil, subErr
		}
		session.LastError = errorMessage(subErr)
		session.UpdatedAt = now
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
		return nil, subErr
	}

	if err := session.Advance(PhaseComplete, now); err != nil {
		return nil, err
	}
	session.Receipt = receipt
	session.LastError = ""
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	s.metrics.IncrementSessionsEnded(string(PhaseComplete), "")
	return session, nil
}

func errorMessage(err error) string {
	if msg := dErrors.MessageOf(err); msg != "" {
		return msg
	}
	return err.Error()
}

func packageOf(session *Session) *submission.Package {
	pkg := &submission.Package{
		Applicant: submission.Applicant{
			UserID:    session.UserID,
			SessionID: session.ID,
			StartedAt: session.StartedAt,
			Client:    session.Client,
		},
		Decision:       *session.Decision,
		Challenges:     session.Results,
		Scan:           session.Scan,
		Document:       session.Document,
		DocumentImages: session.DocumentImages,
		Selfie:         session.Selfie,
	}
	if session.Scan != nil {
		pkg.Evidence = session.Scan.EvidenceFrames
	}
	return pkg
}

// Cancel stops the session. Any running capture is cancelled and its device
// released before Cancel returns; partial results are discarded.
func (s *Service) Cancel(ctx context.Context, userID id.UserID, sessionID id.SessionID) (_ *Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "verification.Cancel", tracing.Session(sessionID))
	defer func() { tracing.End(span, err) }()

	s.mu.Lock()
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if session.Phase.IsTerminal() {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, "session is already finished")
	}
	r, err := s.failLocked(ctx, session, ReasonCancelled)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if r != nil {
		r.stop()
	}

	s.publish(ctx, session, events.SessionCancelled, nil)
	s.logger.InfoContext(ctx, "verification session cancelled", "session_id", sessionID.String())
	return session, nil
}

// Sweep fails every live session older than the session TTL.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	expired := 0
	for _, candidate := range active {
		if !candidate.Expired(s.clock.Now(), s.sessionTTL) {
			continue
		}
		if s.expire(ctx, candidate.ID) {
			expired++
		}
	}
	return expired, nil
}

// RunSweeper calls Sweep every interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "expired verification sessions", "count", n)
			}
		}
	}
}

// Shutdown cancels every running capture and waits for them to release
// their devices.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load reads the session and hides sessions owned by someone else.
func (s *Service) load(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if session.UserID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return session, nil
}

func (s *Service) save(ctx context.Context, session *Session) error {
	if err := s.store.Update(ctx, session); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	return nil
}

// expireIfStale fails the session when it outlived its TTL and reports
// that to the caller.
func (s *Service) expireIfStale(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !session.Expired(s.clock.Now(), s.sessionTTL) {
		return nil
	}
	s.expire(ctx, sessionID)
	return dErrors.New(dErrors.CodeConflict, "session expired")
}

// expireActive clears the user's live session if it is stale.
func (s *Service) expireActive(ctx context.Context, userID id.UserID) error {
	active, err := s.store.ActiveForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active session")
	}
	if active.Expired(s.clock.Now(), s.sessionTTL) {
		s.expire(ctx, active.ID)
	}
	return nil
}

func (s *Service) expire(ctx context.Context, sessionID id.SessionID) bool {
	s.mu.Lock()
	session, err := s.store.Get(ctx, sessionID)
	if err != nil || !session.Expired(s.clock.Now(), s.sessionTTL) {
		s.mu.Unlock()
		return false
	}
	r, err := s.failLocked(ctx, session, ReasonSessionExpired)
	s.mu.Unlock()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to expire session", "session_id", sessionID.String(), "error", err)
		return false
	}
	if r != nil {
		r.stop()
	}
	s.publish(ctx, session, events.SessionExpired, nil)
	return true
}

// failLocked fails the session, drops undecided capture state and revokes
// the device grant. The caller must stop the returned run after unlocking.
func (s *Service) failLocked(ctx context.Context, session *Session, reason string) (*run, error) {
	if err := session.Fail(reason, s.clock.Now()); err != nil {
		return nil, err
	}
	if session.Decision == nil {
		session.Results = nil
		session.Selfie = nil
		session.Scan = nil
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	s.devices.Detach(deviceKey(session.UserID))
	s.metrics.IncrementSessionsEnded(string(PhaseFailed), reason)
	return s.runs[session.ID], nil
}

// startRun launches body in the background with the device handle. The
// handle is closed before the run is marked done.
func (s *Service) startRun(
	ctx context.Context,
	sessionID id.SessionID,
	phase Phase,
	handle *capture.Handle,
	body func(ctx context.Context, src capture.FrameSource, r *run) (func(*Session), error),
) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{phase: phase, cancel: cancel, done: make(chan struct{})}
	s.runs[sessionID] = r
	s.metrics.RunStarted()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()

		spanCtx, span := tracing.Start(runCtx, s.tracer, "verification.run."+string(phase), tracing.Session(sessionID))
		apply, err := func() (func(*Session), error) {
			defer handle.Close()
			return body(spanCtx, handle, r)
		}()
		tracing.End(span, err)
		s.finishRun(runCtx, sessionID, r, apply, err)
	}()
}

func (s *Service) finishRun(ctx context.Context, sessionID id.SessionID, r *run, apply func(*Session), runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[sessionID] == r {
		delete(s.runs, sessionID)
	}
	s.metrics.RunFinished()

	if ctx.Err() != nil {
		return
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil || session.Phase.IsTerminal() || session.Phase != r.phase {
		return
	}
	session.Running = false
	session.UpdatedAt = s.clock.Now()
	if runErr != nil {
		session.LastError = runErr.Error()
		s.logger.ErrorContext(ctx, "capture run failed",
			"session_id", sessionID.String(),
			"phase", string(r.phase),
			"error", runErr,
		)
	} else if apply != nil {
		apply(session)
		session.Progress.Index = session.Progress.Total
	}
	if err := s.store.Update(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to record capture run", "session_id", sessionID.String(), "error", err)
	}
}

// setProgress records run progress while r still owns the phase.
func (s *Service) setProgress(ctx context.Context, sessionID id.SessionID, r *run, p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[sessionID] != r || ctx.Err() != nil {
		return
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil || session.Phase != r.phase {
		return
	}
	session.Progress = p
	if err := s.store.Update(ctx, session); err != nil {
		s.logger.WarnContext(ctx, "failed to record progress", "session_id", sessionID.String(), "error", err)
	}
}

func (s *Service) publish(ctx context.Context, session *Session, t events.Type, attrs map[string]any) {
	ev := events.New(t, session.ID.String(), s.clock.Now(), attrs)
	ev.UserID = session.UserID.String()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "type", string(t), "error", err)
	}
}
