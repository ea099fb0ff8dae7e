package lead

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"iwitness/internal/ledger"
	"iwitness/internal/platform/config"
	"iwitness/internal/platform/logger"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/sentinel"
	"iwitness/pkg/requestcontext"
)

type recordingAppender struct {
	events []ledger.EventType
}

func (r *recordingAppender) Append(_ context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, _ string) (ledger.Event, error) {
	r.events = append(r.events, typ)
	return ledger.Event{SubjectID: subjectID, Type: typ, Payload: payload}, nil
}

const deviceHashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const deviceHashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

type ReconcilerSuite struct {
	suite.Suite

	store    *InMemoryStore
	cache    *InMemoryCache
	appender *recordingAppender
	rec      *Reconciler

	base time.Time
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore()
	s.cache = NewInMemoryCache().WithClock(func() time.Time { return s.base })
	s.appender = &recordingAppender{}
	s.rec = NewReconciler(s.store, s.cache, s.appender, logger.Discard(), metrics.NewForTest())
}

func (s *ReconcilerSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ReconcilerSuite) touch(ctx context.Context, url string) Outcome {
	outcome, err := s.rec.CreateOrUpdate(ctx, TouchParams{
		Attribution: Attribution{ReferralCode: "ref-1", UTMSource: "newsletter"},
		URL:         url,
		DeviceHash:  deviceHashA,
	})
	s.Require().NoError(err)
	return outcome
}

func (s *ReconcilerSuite) TestFirstTouchCreatesLead() {
	outcome := s.touch(s.at(s.base), "https://example.com/?ref=ref-1&utm_source=newsletter")

	s.True(outcome.Created)
	s.Equal(StatusNew, outcome.Lead.Status)
	s.Equal("ref-1", outcome.Lead.Attribution.ReferralCode)
	s.Equal(outcome.Lead.FirstTouchURL, outcome.Lead.LastTouchURL)
	s.Len(outcome.Lead.LeadHash, 64)
	s.Equal([]ledger.EventType{ledger.EventLeadCreated}, s.appender.events)

	// Both cache slots are filled.
	id, ok, err := s.cache.LeadID(context.Background(), deviceHashA)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(outcome.Lead.LeadID, id)
	attribution, ok, err := s.cache.Attribution(context.Background(), deviceHashA)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("ref-1", attribution.ReferralCode)
}

func (s *ReconcilerSuite) TestSecondTouchInsideWindowMerges() {
	first := s.touch(s.at(s.base), "https://example.com/landing")
	second := s.touch(s.at(s.base.Add(23*time.Hour+59*time.Minute)), "https://example.com/pricing")

	s.False(second.Created)
	s.Equal(first.Lead.LeadID, second.Lead.LeadID)
	s.Equal("https://example.com/landing", second.Lead.FirstTouchURL)
	s.Equal("https://example.com/pricing", second.Lead.LastTouchURL)
	s.Equal(first.Lead.LeadHash, second.Lead.LeadHash)
	s.Equal([]ledger.EventType{ledger.EventLeadCreated, ledger.EventTouchUpdated}, s.appender.events)
}

func (s *ReconcilerSuite) TestTouchAtExactWindowCreatesNewLead() {
	first := s.touch(s.at(s.base), "https://example.com/landing")
	second := s.touch(s.at(s.base.Add(config.MergeWindow)), "https://example.com/pricing")

	s.True(second.Created)
	s.NotEqual(first.Lead.LeadID, second.Lead.LeadID)
}

func (s *ReconcilerSuite) TestTouchPastWindowCreatesNewLead() {
	first := s.touch(s.at(s.base), "https://example.com/landing")
	second := s.touch(s.at(s.base.Add(24*time.Hour+time.Minute)), "https://example.com/pricing")

	s.True(second.Created)
	s.NotEqual(first.Lead.LeadID, second.Lead.LeadID)
}

func (s *ReconcilerSuite) TestDeviceChangeCreatesNewLead() {
	first := s.touch(s.at(s.base), "https://example.com/landing")

	// Same cached lead id, different device: the cache entry alone must not
	// authorize a merge.
	s.Require().NoError(s.cache.SetLeadID(context.Background(), deviceHashB, first.Lead.LeadID, config.MergeWindow))

	outcome, err := s.rec.CreateOrUpdate(s.at(s.base.Add(time.Hour)), TouchParams{
		URL:        "https://example.com/pricing",
		DeviceHash: deviceHashB,
	})
	s.Require().NoError(err)
	s.True(outcome.Created)
	s.NotEqual(first.Lead.LeadID, outcome.Lead.LeadID)
}

func (s *ReconcilerSuite) TestVanishedRecordFallsThroughToCreation() {
	s.Require().NoError(s.cache.SetLeadID(context.Background(), deviceHashA, uuid.New(), config.MergeWindow))

	outcome := s.touch(s.at(s.base), "https://example.com/landing")
	s.True(outcome.Created)
}

func (s *ReconcilerSuite) TestConcurrentDeviceChangeSurfacesConflict() {
	first := s.touch(s.at(s.base), "https://example.com/landing")

	// Simulate a concurrent device-hash change between the read and the
	// conditional write: the store copy no longer matches what tryMerge saw.
	stored, err := s.store.FindByID(context.Background(), first.Lead.LeadID)
	s.Require().NoError(err)
	stored.DeviceHash = deviceHashB
	s.Require().NoError(s.store.Update(context.Background(), stored))

	// Re-point the reconciler at a store wrapper that reports the stale hash
	// on read so the merge path is taken.
	rec := NewReconciler(staleReadStore{inner: s.store, staleHash: deviceHashA}, s.cache, s.appender, logger.Discard(), metrics.NewForTest())

	_, err = rec.CreateOrUpdate(s.at(s.base.Add(time.Hour)), TouchParams{
		URL:        "https://example.com/pricing",
		DeviceHash: deviceHashA,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// staleReadStore returns leads whose device hash appears unchanged, while the
// underlying conditional write still sees the real value.
type staleReadStore struct {
	inner     *InMemoryStore
	staleHash string
}

func (s staleReadStore) Save(ctx context.Context, lead Lead) error {
	return s.inner.Save(ctx, lead)
}

func (s staleReadStore) FindByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	lead, err := s.inner.FindByID(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	lead.DeviceHash = s.staleHash
	return lead, nil
}

func (s staleReadStore) MergeTouch(ctx context.Context, leadID uuid.UUID, deviceHash, touchURL string, at time.Time) (Lead, error) {
	return s.inner.MergeTouch(ctx, leadID, deviceHash, touchURL, at)
}

func (s staleReadStore) Update(ctx context.Context, lead Lead) error {
	return s.inner.Update(ctx, lead)
}

func (s *ReconcilerSuite) TestCacheFailureDegradesToCreation() {
	rec := NewReconciler(s.store, failingCache{}, s.appender, logger.Discard(), metrics.NewForTest())

	outcome, err := rec.CreateOrUpdate(s.at(s.base), TouchParams{
		URL:        "https://example.com/landing",
		DeviceHash: deviceHashA,
	})
	s.Require().NoError(err)
	s.True(outcome.Created)
}

type failingCache struct{}

func (failingCache) LeadID(context.Context, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, context.DeadlineExceeded
}

func (failingCache) SetLeadID(context.Context, string, uuid.UUID, time.Duration) error {
	return context.DeadlineExceeded
}

func (failingCache) Attribution(context.Context, string) (Attribution, bool, error) {
	return Attribution{}, false, context.DeadlineExceeded
}

func (failingCache) SetAttribution(context.Context, string, Attribution, time.Duration) error {
	return context.DeadlineExceeded
}

func (failingCache) Clear(context.Context, string) error {
	return context.DeadlineExceeded
}

func (s *ReconcilerSuite) TestLinkToSession() {
	created := s.touch(s.at(s.base), "https://example.com/landing")

	linked, err := s.rec.LinkToSession(s.at(s.base.Add(time.Minute)), created.Lead.LeadID, "session-1", "user-1")
	s.Require().NoError(err)
	s.Equal("session-1", linked.SessionID)
	s.Equal("user-1", linked.UserID)
	s.Equal(ledger.EventLeadLinked, s.appender.events[len(s.appender.events)-1])
}

func (s *ReconcilerSuite) TestUpdateStatus() {
	created := s.touch(s.at(s.base), "https://example.com/landing")

	updated, err := s.rec.UpdateStatus(s.at(s.base.Add(time.Minute)), created.Lead.LeadID, StatusContacted, "admin-1")
	s.Require().NoError(err)
	s.Equal(StatusContacted, updated.Status)
	s.Equal(ledger.EventStatusUpdated, s.appender.events[len(s.appender.events)-1])

	_, err = s.rec.UpdateStatus(s.at(s.base), created.Lead.LeadID, Status("bogus"), "admin-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ReconcilerSuite) TestUpdateStatusUnknownLead() {
	_, err := s.rec.UpdateStatus(s.at(s.base), uuid.New(), StatusContacted, "admin-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ReconcilerSuite) TestLeadHashStableAcrossMerges() {
	first := s.touch(s.at(s.base), "https://example.com/landing")
	second := s.touch(s.at(s.base.Add(time.Hour)), "https://example.com/pricing")

	stored, err := s.store.FindByID(context.Background(), first.Lead.LeadID)
	s.Require().NoError(err)
	s.Equal(first.Lead.LeadHash, stored.LeadHash)
	s.Equal(second.Lead.LeadHash, stored.LeadHash)
}

func TestMergeTouchConditionalWrite(t *testing.T) {
	store := NewInMemoryStore()
	id := uuid.New()
	ctx := context.Background()

	if _, err := store.MergeTouch(ctx, id, deviceHashA, "u", time.Now()); err != sentinel.ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing lead, got %v", err)
	}

	if err := store.Save(ctx, Lead{LeadID: id, DeviceHash: deviceHashA}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.MergeTouch(ctx, id, deviceHashB, "u", time.Now()); err != sentinel.ErrMergeConflict {
		t.Fatalf("expected ErrMergeConflict on hash mismatch, got %v", err)
	}
	if _, err := store.MergeTouch(ctx, id, deviceHashA, "u", time.Now()); err != nil {
		t.Fatalf("expected merge to succeed, got %v", err)
	}
}
