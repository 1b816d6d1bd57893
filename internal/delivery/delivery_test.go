package delivery

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
	"github.com/dedysaragih123/TubesFutureMessage/internal/mailer"
)

// mockStore is an in-memory ledger with the conditional mark-sent guard.
type mockStore struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]domain.Document
	recipients map[uuid.UUID][]string
	attempts   []domain.SendAttempt

	getErr        error
	listErr       error
	markSentErr   error
	insertAttErr  error
	markSentCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		docs:       make(map[uuid.UUID]domain.Document),
		recipients: make(map[uuid.UUID][]string),
	}
}

func (s *mockStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Document{}, s.getErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (s *mockStore) ListRecipients(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.recipients[documentID], nil
}

func (s *mockStore) MarkSent(ctx context.Context, documentID uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markSentCalls++
	if s.markSentErr != nil {
		return s.markSentErr
	}
	doc, ok := s.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	if doc.IsSent {
		return ErrAlreadySent
	}
	doc.IsSent = true
	doc.SentAt = &sentAt
	s.docs[documentID] = doc
	return nil
}

func (s *mockStore) InsertSendAttempt(ctx context.Context, attempt domain.SendAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertAttErr != nil {
		return s.insertAttErr
	}
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *mockStore) addDocument(doc domain.Document, recipients []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.recipients[doc.ID] = recipients
}

func (s *mockStore) document(id uuid.UUID) domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *mockStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *mockStore) recordedAttempts() []domain.SendAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SendAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// mockSender records sends and fails for recipients listed in failWith.
type mockSender struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]int // recipient -> status code to fail with
}

func (m *mockSender) Send(ctx context.Context, recipient, subject, body string) mailer.SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, recipient)
	if code, ok := m.failWith[recipient]; ok {
		return mailer.SendResult{StatusCode: code, Error: errors.New("provider rejected")}
	}
	return mailer.SendResult{StatusCode: 200}
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockAnalytics records wave outcomes.
type mockAnalytics struct {
	mu       sync.Mutex
	outcomes []domain.WaveOutcome
}

func (m *mockAnalytics) Record(ctx context.Context, documentID uuid.UUID, outcome domain.WaveOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockAnalytics) last() domain.WaveOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) == 0 {
		return ""
	}
	return m.outcomes[len(m.outcomes)-1]
}

func pendingDocument(deliveryDate time.Time) domain.Document {
	now := time.Now().UTC()
	return domain.Document{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		Title:        "farewell note",
		Content:      "open when I am gone",
		DeliveryDate: deliveryDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testRequest(docID uuid.UUID) domain.DeliveryRequest {
	return domain.DeliveryRequest{
		DocumentID: docID,
		FiredAt:    time.Now().UTC(),
		Source:     domain.SourceTrigger,
	}
}

// TestWorker_Deliver_AttemptTimesUseClock verifies that attempt records
// take their timestamps from the worker's clock, so a wave's whole audit
// trail shares one time source with the sent_at it produces.
func TestWorker_Deliver_AttemptTimesUseClock(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	doc := pendingDocument(fixed.Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})

	worker := New(store, sender)
	worker.clock = func() time.Time { return fixed }

	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	attempts := store.recordedAttempts()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", len(attempts))
	}
	if !attempts[0].StartedAt.Equal(fixed) || !attempts[0].FinishedAt.Equal(fixed) {
		t.Errorf("expected attempt times %s, got started=%s finished=%s",
			fixed, attempts[0].StartedAt, attempts[0].FinishedAt)
	}
	if got := store.document(doc.ID); got.SentAt == nil || !got.SentAt.Equal(fixed) {
		t.Errorf("expected sent_at %s, got %v", fixed, got.SentAt)
	}
}

// TestWorker_Deliver_SendsAndClosesLatch verifies the happy path: every
// recipient gets the email, attempts are recorded, and the latch closes.
func TestWorker_Deliver_SendsAndClosesLatch(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com", "b@example.com"})

	worker := New(store, sender)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if sender.sentCount() != 2 {
		t.Errorf("expected 2 sends, got %d", sender.sentCount())
	}
	if store.attemptCount() != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", store.attemptCount())
	}

	got := store.document(doc.ID)
	if !got.IsSent {
		t.Error("expected is_sent latch closed")
	}
	if got.SentAt == nil {
		t.Error("expected sent_at to be set")
	}
}

// TestWorker_Deliver_Idempotent verifies that a second wave for an already
// sent document is a no-op: no sends, no error.
func TestWorker_Deliver_Idempotent(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})

	worker := New(store, sender)
	ctx := context.Background()

	if err := worker.Deliver(ctx, testRequest(doc.ID)); err != nil {
		t.Fatalf("first deliver failed: %v", err)
	}
	if err := worker.Deliver(ctx, testRequest(doc.ID)); err != nil {
		t.Fatalf("second deliver failed: %v", err)
	}

	if sender.sentCount() != 1 {
		t.Errorf("expected 1 send across both waves, got %d", sender.sentCount())
	}
}

// TestWorker_Deliver_PartialFailureStillClosesLatch verifies that a
// recipient failure neither blocks the other recipients nor reopens the
// wave: the latch closes and the outcome is partial.
func TestWorker_Deliver_PartialFailureStillClosesLatch(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{failWith: map[string]int{"b@example.com": 500}}
	analytics := &mockAnalytics{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com", "b@example.com", "c@example.com"})

	worker := New(store, sender).WithAnalytics(analytics)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if sender.sentCount() != 3 {
		t.Errorf("expected all 3 recipients attempted, got %d", sender.sentCount())
	}
	if !store.document(doc.ID).IsSent {
		t.Error("expected latch closed despite partial failure")
	}
	if analytics.last() != domain.WaveOutcomePartial {
		t.Errorf("expected outcome %q, got %q", domain.WaveOutcomePartial, analytics.last())
	}
}

// TestWorker_Deliver_NotFoundIsTerminal verifies that a deleted document is
// skipped without error, so the sweep never retries it.
func TestWorker_Deliver_NotFoundIsTerminal(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	worker := New(store, sender)
	if err := worker.Deliver(context.Background(), testRequest(uuid.New())); err != nil {
		t.Fatalf("expected nil for missing document, got %v", err)
	}
	if sender.sentCount() != 0 {
		t.Errorf("expected no sends, got %d", sender.sentCount())
	}
}

// TestWorker_Deliver_NotYetDueSkips verifies the due re-check: a document
// whose delivery date is still ahead stays pending and untouched.
func TestWorker_Deliver_NotYetDueSkips(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(time.Hour))
	store.addDocument(doc, []string{"a@example.com"})

	worker := New(store, sender)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if sender.sentCount() != 0 {
		t.Errorf("expected no sends for not-yet-due document, got %d", sender.sentCount())
	}
	if store.document(doc.ID).IsSent {
		t.Error("expected latch to stay open")
	}
}

// TestWorker_Deliver_NoRecipientsLeavesPending verifies that a document
// without collaborators keeps its latch open for a later sweep.
func TestWorker_Deliver_NoRecipientsLeavesPending(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, nil)

	worker := New(store, sender)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if store.document(doc.ID).IsSent {
		t.Error("expected latch open with zero recipients")
	}
	if store.markSentCalls != 0 {
		t.Errorf("expected no mark-sent attempts, got %d", store.markSentCalls)
	}
}

// TestWorker_Deliver_RecipientListErrorDefers verifies that an
// infrastructure failure before any send defers the whole wave.
func TestWorker_Deliver_RecipientListErrorDefers(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})
	store.listErr = errors.New("connection reset")

	worker := New(store, sender)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err == nil {
		t.Fatal("expected error for recipient list failure")
	}
	if sender.sentCount() != 0 {
		t.Errorf("expected no sends, got %d", sender.sentCount())
	}
}

// TestWorker_Deliver_MarkSentInfraErrorDefers verifies that a ledger
// failure closing the latch surfaces as an error so the sweep retries.
func TestWorker_Deliver_MarkSentInfraErrorDefers(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	analytics := &mockAnalytics{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})
	store.markSentErr = errors.New("connection reset")

	worker := New(store, sender).WithAnalytics(analytics)
	if err := worker.Deliver(context.Background(), testRequest(doc.ID)); err == nil {
		t.Fatal("expected error for mark-sent failure")
	}
	if analytics.last() != domain.WaveOutcomeDeferred {
		t.Errorf("expected outcome %q, got %q", domain.WaveOutcomeDeferred, analytics.last())
	}
}

// TestWorker_Deliver_ConcurrentWavesCloseLatchOnce verifies that two waves
// racing on the same document both settle cleanly and the latch closes
// exactly once.
func TestWorker_Deliver_ConcurrentWavesCloseLatchOnce(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})

	worker := New(store, sender)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = worker.Deliver(ctx, testRequest(doc.ID))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("wave %d returned error: %v", i, err)
		}
	}
	if !store.document(doc.ID).IsSent {
		t.Error("expected latch closed")
	}
}

// TestWorker_Run_DrainsBufferedRequests verifies that requests buffered at
// shutdown are still processed within the drain window.
func TestWorker_Run_DrainsBufferedRequests(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}

	doc := pendingDocument(time.Now().UTC().Add(-time.Minute))
	store.addDocument(doc, []string{"a@example.com"})

	ch := make(chan domain.DeliveryRequest, 1)
	ch <- testRequest(doc.ID)

	worker := New(store, sender).WithDrainTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after drain")
	}

	if sender.sentCount() != 1 {
		t.Errorf("expected buffered request delivered during drain, got %d sends", sender.sentCount())
	}
}
