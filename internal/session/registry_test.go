package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tandem/pkg/types"
)

// recordedEvent is one broadcaster call captured by the mock.
type recordedEvent struct {
	SessionID    string // broadcast target, empty for direct sends
	ConnectionID string // direct send target, empty for broadcasts
	Event        string
	Payload      interface{}
}

// mockBroadcaster records every delivery for assertion.
type mockBroadcaster struct {
	mu        sync.Mutex
	events    []recordedEvent
	disbanded []string
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{}
}

func (m *mockBroadcaster) Broadcast(sessionID, event string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{SessionID: sessionID, Event: event, Payload: payload})
}

func (m *mockBroadcaster) SendTo(connectionID, event string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{ConnectionID: connectionID, Event: event, Payload: payload})
}

func (m *mockBroadcaster) DisbandGroup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disbanded = append(m.disbanded, sessionID)
}

// countEvents returns how many recorded events match the given name.
func (m *mockBroadcaster) countEvents(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if e.Event == event {
			count++
		}
	}
	return count
}

// lastEvent returns the most recent event with the given name.
func (m *mockBroadcaster) lastEvent(event string) (recordedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Event == event {
			return m.events[i], true
		}
	}
	return recordedEvent{}, false
}

func (m *mockBroadcaster) disbandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disbanded)
}

// waitFor polls until the condition holds or the deadline passes. Finalize
// runs on its own goroutine, so outcome assertions need to wait for it.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// mockPipeline returns a scripted result per delivery attempt. When gate is
// set every delivery blocks until the channel is closed, simulating a slow
// external generator.
type mockPipeline struct {
	mu       sync.Mutex
	failures int // fail this many deliveries before succeeding
	reports  []*types.CombinedReport
	gate     chan struct{}
}

func (m *mockPipeline) Deliver(ctx context.Context, report *types.CombinedReport) error {
	m.mu.Lock()
	m.reports = append(m.reports, report)
	fail := false
	if m.failures > 0 {
		m.failures--
		fail = true
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return errors.New("pipeline unavailable")
	}
	return nil
}

func (m *mockPipeline) HealthCheck(ctx context.Context) error { return nil }

func (m *mockPipeline) deliveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

func (m *mockPipeline) report(i int) *types.CombinedReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[i]
}

// mockArchive records delivery records in memory.
type mockArchive struct {
	mu      sync.Mutex
	records []*types.DeliveryRecord
}

func (m *mockArchive) RecordDelivery(ctx context.Context, record *types.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockArchive) ListDeliveries(ctx context.Context, limit int) ([]*types.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.DeliveryRecord{}, m.records...), nil
}

func (m *mockArchive) HealthCheck(ctx context.Context) error { return nil }
func (m *mockArchive) Close() error                          { return nil }

func (m *mockArchive) recorded() []*types.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.DeliveryRecord{}, m.records...)
}

func newTestRegistry() (*Registry, *mockBroadcaster, *mockPipeline, *mockArchive) {
	broadcaster := newMockBroadcaster()
	pipeline := &mockPipeline{}
	archive := &mockArchive{}
	registry := NewRegistry(broadcaster, pipeline, archive, DefaultConfig())
	return registry, broadcaster, pipeline, archive
}

// TestRegistry_JoinAssignsRolesInOrder tests first-come-first-served slot
// assignment: A, then B, then nothing.
func TestRegistry_JoinAssignsRolesInOrder(t *testing.T) {
	registry, _, _, _ := newTestRegistry()

	if role := registry.Join("s1", "conn-1"); role != types.RoleA {
		t.Errorf("Expected first joiner to get A, got %q", role)
	}
	if role := registry.Join("s1", "conn-2"); role != types.RoleB {
		t.Errorf("Expected second joiner to get B, got %q", role)
	}
	if role := registry.Join("s1", "conn-3"); role != "" {
		t.Errorf("Expected third joiner to get no role, got %q", role)
	}
}

// TestRegistry_JoinNotifiesParticipants tests role-assigned, peer-joined
// and status broadcast delivery on join.
func TestRegistry_JoinNotifiesParticipants(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")

	assigned, ok := broadcaster.lastEvent(types.EventRoleAssigned)
	if !ok || assigned.ConnectionID != "conn-1" {
		t.Fatal("Expected role-assigned sent to the joiner")
	}
	payload := assigned.Payload.(*types.RoleAssignedPayload)
	if payload.Role == nil || *payload.Role != types.RoleA {
		t.Error("Expected role A in role-assigned payload")
	}
	if broadcaster.countEvents(types.EventPeerJoined) != 0 {
		t.Error("First joiner has no peer to notify")
	}

	registry.Join("s1", "conn-2")

	peerJoined, ok := broadcaster.lastEvent(types.EventPeerJoined)
	if !ok || peerJoined.ConnectionID != "conn-1" {
		t.Error("Expected peer-joined sent to the existing participant")
	}
	if broadcaster.countEvents(types.EventPeerStatusUpdate) != 2 {
		t.Errorf("Expected a status broadcast per join, got %d", broadcaster.countEvents(types.EventPeerStatusUpdate))
	}
}

// TestRegistry_ThirdJoinerGetsNullRole tests the wire shape of a full
// session's role assignment.
func TestRegistry_ThirdJoinerGetsNullRole(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.Join("s1", "conn-3")

	assigned, ok := broadcaster.lastEvent(types.EventRoleAssigned)
	if !ok || assigned.ConnectionID != "conn-3" {
		t.Fatal("Expected role-assigned sent to the third joiner")
	}
	payload := assigned.Payload.(*types.RoleAssignedPayload)
	if payload.Role != nil {
		t.Errorf("Expected null role for third joiner, got %q", *payload.Role)
	}
}

// TestRegistry_ProgressUpdatesBroadcast tests that progress payloads
// overwrite slot data and reach the group.
func TestRegistry_ProgressUpdatesBroadcast(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.ReportProgress("s1", types.RoleA, map[string]interface{}{"name": "first"})
	registry.ReportProgress("s1", types.RoleA, map[string]interface{}{"name": "second"})

	snapshot, exists := registry.Snapshot("s1")
	if !exists {
		t.Fatal("Expected session to exist")
	}
	if snapshot.A.Data["name"] != "second" {
		t.Errorf("Expected last write to win, got %v", snapshot.A.Data["name"])
	}
	if snapshot.A.Completed {
		t.Error("Progress must not mark the slot completed")
	}
	if broadcaster.countEvents(types.EventPeerStatusUpdate) != 3 {
		t.Errorf("Expected 3 status broadcasts, got %d", broadcaster.countEvents(types.EventPeerStatusUpdate))
	}
}

// TestRegistry_UnknownSlotEventsIgnored tests that events for unoccupied
// slots or unknown sessions are silent no-ops.
func TestRegistry_UnknownSlotEventsIgnored(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	before := broadcaster.countEvents(types.EventPeerStatusUpdate)

	registry.ReportProgress("s1", types.RoleB, map[string]interface{}{"x": 1})
	registry.ReportCompleted("s1", types.RoleB, nil)
	registry.ReportConfirmed("s1", types.RoleB)
	registry.ReportProgress("missing", types.RoleA, nil)
	registry.Leave("missing", "conn-1")

	if broadcaster.countEvents(types.EventPeerStatusUpdate) != before {
		t.Error("Expected no broadcasts for unknown-slot events")
	}
	if _, exists := registry.Snapshot("s1"); !exists {
		t.Error("Session must survive unknown-slot events")
	}
}

// TestRegistry_ConfirmationReadyFiresOncePerTransition tests the latch:
// confirmation-ready fires exactly once when both slots complete, and
// resubmitting form-completed does not re-fire it.
func TestRegistry_ConfirmationReadyFiresOncePerTransition(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")

	registry.ReportCompleted("s1", types.RoleA, map[string]interface{}{"done": true})
	if broadcaster.countEvents(types.EventConfirmationReady) != 0 {
		t.Error("One completed slot must not fire confirmation-ready")
	}

	registry.ReportCompleted("s1", types.RoleB, map[string]interface{}{"done": true})
	if broadcaster.countEvents(types.EventConfirmationReady) != 1 {
		t.Errorf("Expected exactly one confirmation-ready, got %d", broadcaster.countEvents(types.EventConfirmationReady))
	}

	registry.ReportCompleted("s1", types.RoleA, map[string]interface{}{"done": true, "edited": true})
	registry.ReportCompleted("s1", types.RoleB, map[string]interface{}{"done": true})
	if broadcaster.countEvents(types.EventConfirmationReady) != 1 {
		t.Errorf("Resubmission must not re-fire confirmation-ready, got %d", broadcaster.countEvents(types.EventConfirmationReady))
	}
}

// TestRegistry_LeaveResetsReadyLatch tests that a departure clears the
// latch so a fresh pair completing re-fires confirmation-ready.
func TestRegistry_LeaveResetsReadyLatch(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, nil)
	registry.ReportCompleted("s1", types.RoleB, nil)

	registry.Leave("s1", "conn-2")
	if role := registry.Join("s1", "conn-3"); role != types.RoleB {
		t.Fatalf("Expected freed slot B reassigned, got %q", role)
	}

	registry.ReportCompleted("s1", types.RoleB, nil)
	if broadcaster.countEvents(types.EventConfirmationReady) != 2 {
		t.Errorf("Expected confirmation-ready to re-fire after slot turnover, got %d", broadcaster.countEvents(types.EventConfirmationReady))
	}
}

// TestRegistry_FinalizeDeliversOnce tests that dual confirmation triggers
// exactly one delivery, broadcasts pdf-sent and destroys the session.
func TestRegistry_FinalizeDeliversOnce(t *testing.T) {
	registry, broadcaster, pipeline, archive := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, map[string]interface{}{"insurerEmail": "ins@example.com"})
	registry.ReportCompleted("s1", types.RoleB, map[string]interface{}{"insuredEmail": "drv@example.com"})

	registry.ReportConfirmed("s1", types.RoleA)
	if pipeline.deliveries() != 0 {
		t.Fatal("Single confirmation must not trigger delivery")
	}

	registry.ReportConfirmed("s1", types.RoleB)

	if !waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventPDFSent) == 1 }) {
		t.Fatal("Expected pdf-sent broadcast after finalize")
	}
	if pipeline.deliveries() != 1 {
		t.Errorf("Expected exactly one delivery, got %d", pipeline.deliveries())
	}
	if _, exists := registry.Snapshot("s1"); exists {
		t.Error("Expected session destroyed after successful finalize")
	}
	if broadcaster.disbandCount() != 1 {
		t.Errorf("Expected group disbanded once, got %d", broadcaster.disbandCount())
	}

	report := pipeline.report(0)
	if report.SessionID != "s1" {
		t.Errorf("Expected report for s1, got %s", report.SessionID)
	}
	if len(report.Recipients) != 2 {
		t.Errorf("Expected 2 recipients, got %v", report.Recipients)
	}

	records := archive.recorded()
	if len(records) != 1 || records[0].Status != types.DeliveryStatusSent {
		t.Errorf("Expected one sent record, got %+v", records)
	}
}

// TestRegistry_DuplicateConfirmationsIgnored tests that repeated confirm
// events never cause a second delivery.
func TestRegistry_DuplicateConfirmationsIgnored(t *testing.T) {
	registry, broadcaster, pipeline, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, nil)
	registry.ReportCompleted("s1", types.RoleB, nil)

	registry.ReportConfirmed("s1", types.RoleA)
	registry.ReportConfirmed("s1", types.RoleA)
	registry.ReportConfirmed("s1", types.RoleB)
	registry.ReportConfirmed("s1", types.RoleB)

	waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventPDFSent) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if pipeline.deliveries() != 1 {
		t.Errorf("Expected exactly one delivery despite duplicate confirms, got %d", pipeline.deliveries())
	}
}

// TestRegistry_FinalizeFailureKeepsSession tests the failure path: the
// session survives, confirmations reset, and the pair can retry.
func TestRegistry_FinalizeFailureKeepsSession(t *testing.T) {
	registry, broadcaster, pipeline, archive := newTestRegistry()
	pipeline.failures = 1

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, nil)
	registry.ReportCompleted("s1", types.RoleB, nil)
	registry.ReportConfirmed("s1", types.RoleA)
	registry.ReportConfirmed("s1", types.RoleB)

	if !waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventPDFSendFailed) == 1 }) {
		t.Fatal("Expected pdf-send-failed broadcast")
	}

	failed, _ := broadcaster.lastEvent(types.EventPDFSendFailed)
	if failed.Payload.(*types.FailurePayload).Reason == "" {
		t.Error("Expected a failure reason in the payload")
	}

	snapshot, exists := registry.Snapshot("s1")
	if !exists {
		t.Fatal("Session must survive a failed finalize")
	}
	if snapshot.A.Confirmed || snapshot.B.Confirmed {
		t.Error("Expected confirmations reset after failure")
	}
	if !snapshot.A.Completed || !snapshot.B.Completed {
		t.Error("Completed flags must survive a failed finalize")
	}

	// Both parties confirm again; this time delivery succeeds
	registry.ReportConfirmed("s1", types.RoleA)
	registry.ReportConfirmed("s1", types.RoleB)

	if !waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventPDFSent) == 1 }) {
		t.Fatal("Expected successful retry after failure")
	}
	if pipeline.deliveries() != 2 {
		t.Errorf("Expected 2 delivery attempts, got %d", pipeline.deliveries())
	}

	records := archive.recorded()
	if len(records) != 2 {
		t.Fatalf("Expected 2 audit records, got %d", len(records))
	}
	if records[0].Status != types.DeliveryStatusFailed || records[0].Error == "" {
		t.Errorf("Expected first record failed with error, got %+v", records[0])
	}
	if records[1].Status != types.DeliveryStatusSent {
		t.Errorf("Expected second record sent, got %+v", records[1])
	}
}

// TestRegistry_StaleFinalizeIgnoresRebornSession tests a finalize still in
// flight after the pair abandons the session: a new pair that recreates the
// same session id must not be torn down or told pdf-sent by the old attempt.
func TestRegistry_StaleFinalizeIgnoresRebornSession(t *testing.T) {
	broadcaster := newMockBroadcaster()
	archive := &mockArchive{}
	pipeline := &mockPipeline{gate: make(chan struct{})}
	registry := NewRegistry(broadcaster, pipeline, archive, DefaultConfig())

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, nil)
	registry.ReportCompleted("s1", types.RoleB, nil)
	registry.ReportConfirmed("s1", types.RoleA)
	registry.ReportConfirmed("s1", types.RoleB)

	if !waitFor(t, time.Second, func() bool { return pipeline.deliveries() == 1 }) {
		t.Fatal("Expected delivery in flight")
	}

	// The pair gives up while delivery is blocked, then a new pair takes
	// over the same session id
	registry.Leave("s1", "conn-1")
	registry.Leave("s1", "conn-2")
	registry.Join("s1", "conn-3")
	registry.Join("s1", "conn-4")

	close(pipeline.gate)

	// The outcome still reaches the audit archive
	if !waitFor(t, time.Second, func() bool { return len(archive.recorded()) == 1 }) {
		t.Fatal("Expected the delivery outcome archived")
	}
	time.Sleep(20 * time.Millisecond)

	if _, exists := registry.Snapshot("s1"); !exists {
		t.Error("Reborn session must survive the stale finalize")
	}
	if broadcaster.countEvents(types.EventPDFSent) != 0 {
		t.Errorf("Expected no pdf-sent for a send the new pair never confirmed, got %d",
			broadcaster.countEvents(types.EventPDFSent))
	}
}

// TestRegistry_LeaveFreesSlotKeepsPeer tests that one departure leaves the
// remaining participant's state intact and frees the slot for reuse.
func TestRegistry_LeaveFreesSlotKeepsPeer(t *testing.T) {
	registry, _, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, map[string]interface{}{"kept": true})

	registry.Leave("s1", "conn-2")

	snapshot, exists := registry.Snapshot("s1")
	if !exists {
		t.Fatal("Session must survive a single departure")
	}
	if snapshot.A == nil || !snapshot.A.Completed {
		t.Error("Remaining participant's state must be intact")
	}
	if snapshot.B != nil {
		t.Error("Expected slot B freed")
	}

	if role := registry.Join("s1", "conn-3"); role != types.RoleB {
		t.Errorf("Expected freed slot B reassigned, got %q", role)
	}
}

// TestRegistry_LeaveByNonSlotHolderIgnored tests that a null-role member's
// departure releases nothing.
func TestRegistry_LeaveByNonSlotHolderIgnored(t *testing.T) {
	registry, _, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.Join("s1", "conn-3") // null role

	registry.Leave("s1", "conn-3")

	snapshot, exists := registry.Snapshot("s1")
	if !exists || snapshot.A == nil || snapshot.B == nil {
		t.Error("Slot holders must be unaffected by a null-role departure")
	}
}

// TestRegistry_SessionDeletedWhenEmpty tests that the session disappears
// once both slots are free and a rejoin starts fresh.
func TestRegistry_SessionDeletedWhenEmpty(t *testing.T) {
	registry, broadcaster, _, _ := newTestRegistry()

	registry.Join("s1", "conn-1")
	registry.Join("s1", "conn-2")
	registry.ReportCompleted("s1", types.RoleA, map[string]interface{}{"stale": true})

	registry.Leave("s1", "conn-1")
	registry.Leave("s1", "conn-2")

	if _, exists := registry.Snapshot("s1"); exists {
		t.Fatal("Expected session deleted once empty")
	}
	if broadcaster.disbandCount() != 1 {
		t.Errorf("Expected group disbanded, got %d", broadcaster.disbandCount())
	}

	// Same id joins again: no stale state from the previous pairing
	if role := registry.Join("s1", "conn-4"); role != types.RoleA {
		t.Errorf("Expected fresh session to assign A, got %q", role)
	}
	snapshot, _ := registry.Snapshot("s1")
	if snapshot.A.Completed || snapshot.A.Data != nil {
		t.Error("Expected fresh session state after rejoin")
	}
}

// TestRegistry_IdleSessionsExpire tests the sweeper: idle sessions are
// expired with a session-expired broadcast and the group disbanded.
func TestRegistry_IdleSessionsExpire(t *testing.T) {
	broadcaster := newMockBroadcaster()
	registry := NewRegistry(broadcaster, &mockPipeline{}, &mockArchive{}, Config{
		IdleTTL:       20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})

	if err := registry.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start registry: %v", err)
	}
	defer func() {
		if err := registry.Stop(); err != nil {
			t.Errorf("Failed to stop registry: %v", err)
		}
	}()

	registry.Join("s1", "conn-1")

	if !waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventSessionExpired) == 1 }) {
		t.Fatal("Expected session-expired broadcast")
	}
	if _, exists := registry.Snapshot("s1"); exists {
		t.Error("Expected idle session deleted")
	}
	if broadcaster.disbandCount() != 1 {
		t.Errorf("Expected group disbanded on expiry, got %d", broadcaster.disbandCount())
	}
}

// TestRegistry_ActiveSessionsSurviveSweep tests that recent activity keeps
// a session alive across sweeps.
func TestRegistry_ActiveSessionsSurviveSweep(t *testing.T) {
	broadcaster := newMockBroadcaster()
	registry := NewRegistry(broadcaster, &mockPipeline{}, &mockArchive{}, Config{
		IdleTTL:       time.Hour,
		SweepInterval: 10 * time.Millisecond,
	})

	if err := registry.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start registry: %v", err)
	}
	defer func() { _ = registry.Stop() }()

	registry.Join("s1", "conn-1")
	time.Sleep(50 * time.Millisecond)

	if _, exists := registry.Snapshot("s1"); !exists {
		t.Error("Active session must survive sweeps within the TTL")
	}
	if broadcaster.countEvents(types.EventSessionExpired) != 0 {
		t.Error("Expected no expiry broadcasts")
	}
}

// TestRegistry_StartStop tests sweeper lifecycle management
func TestRegistry_StartStop(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := registry.Start(ctx); err != nil {
		t.Errorf("Expected no error starting registry, got %v", err)
	}
	if err := registry.Start(ctx); err != ErrRegistryAlreadyRunning {
		t.Errorf("Expected ErrRegistryAlreadyRunning, got %v", err)
	}
	if err := registry.Stop(); err != nil {
		t.Errorf("Expected no error stopping registry, got %v", err)
	}
	if err := registry.Stop(); err != ErrRegistryNotRunning {
		t.Errorf("Expected ErrRegistryNotRunning, got %v", err)
	}
}

// TestRegistry_Summaries tests the operational session listing.
func TestRegistry_Summaries(t *testing.T) {
	registry, _, _, _ := newTestRegistry()

	registry.Join("old", "conn-1")
	registry.Join("new", "conn-2")
	registry.Join("new", "conn-3")
	registry.ReportCompleted("new", types.RoleA, nil)

	summaries := registry.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != "new" {
		t.Errorf("Expected most recently active session first, got %s", summaries[0].ID)
	}
	if summaries[0].Participants != 2 || summaries[0].Completed != 1 {
		t.Errorf("Unexpected summary counters: %+v", summaries[0])
	}
}

// TestRegistry_FullScenario walks the complete happy path end to end.
func TestRegistry_FullScenario(t *testing.T) {
	registry, broadcaster, pipeline, _ := newTestRegistry()

	if role := registry.Join("crash-42", "phone-1"); role != types.RoleA {
		t.Fatalf("Expected A, got %q", role)
	}
	if role := registry.Join("crash-42", "phone-2"); role != types.RoleB {
		t.Fatalf("Expected B, got %q", role)
	}

	registry.ReportProgress("crash-42", types.RoleA, map[string]interface{}{"plate": "AB-12-CD"})
	registry.ReportProgress("crash-42", types.RoleB, map[string]interface{}{"plate": "EF-34-GH"})

	registry.ReportCompleted("crash-42", types.RoleA, map[string]interface{}{
		"plate":        "AB-12-CD",
		"insurerEmail": "claims@insurer-a.example",
	})
	registry.ReportCompleted("crash-42", types.RoleB, map[string]interface{}{
		"plate":        "EF-34-GH",
		"insuredEmail": "driver-b@example.com",
	})

	if broadcaster.countEvents(types.EventConfirmationReady) != 1 {
		t.Fatal("Expected confirmation-ready after both completed")
	}

	registry.ReportConfirmed("crash-42", types.RoleA)
	registry.ReportConfirmed("crash-42", types.RoleB)

	if !waitFor(t, time.Second, func() bool { return broadcaster.countEvents(types.EventPDFSent) == 1 }) {
		t.Fatal("Expected pdf-sent after dual confirmation")
	}

	report := pipeline.report(0)
	if report.A["plate"] != "AB-12-CD" || report.B["plate"] != "EF-34-GH" {
		t.Errorf("Combined report holds wrong slot data: %+v", report)
	}
	if len(report.Recipients) != 2 {
		t.Errorf("Expected both recipient addresses, got %v", report.Recipients)
	}

	if _, exists := registry.Snapshot("crash-42"); exists {
		t.Error("Expected session gone after finalize")
	}
}
