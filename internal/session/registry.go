package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"tandem/pkg/interfaces"
	"tandem/pkg/types"
)

// Config controls session lifecycle housekeeping.
type Config struct {
	IdleTTL        time.Duration // sessions idle beyond this are expired
	SweepInterval  time.Duration // how often the idle sweep runs
	DeliverTimeout time.Duration // upper bound for one pipeline delivery
}

// DefaultConfig returns housekeeping defaults sized for a pair of people
// filling out an accident form, which can take a while.
func DefaultConfig() Config {
	return Config{
		IdleTTL:        2 * time.Hour,
		SweepInterval:  5 * time.Minute,
		DeliverTimeout: 30 * time.Second,
	}
}

// participant is the state of one occupied slot. The connection id records
// slot ownership; it is never exposed to clients.
type participant struct {
	connectionID string
	completed    bool
	confirmed    bool
	data         map[string]interface{}
}

func (p *participant) view() *types.ParticipantView {
	return &types.ParticipantView{
		Completed: p.completed,
		Confirmed: p.confirmed,
		Data:      p.data,
	}
}

// liveSession holds the pairing state for one session id.
// ready latches the confirmation-ready notification: it is set on the
// transition into the all-completed state and cleared when a slot empties,
// so resubmitting form-completed never re-fires the notification.
type liveSession struct {
	id           string
	slotA        *participant
	slotB        *participant
	ready        bool
	finalizing   bool
	lastActivity time.Time
}

func (s *liveSession) slot(role string) *participant {
	switch role {
	case types.RoleA:
		return s.slotA
	case types.RoleB:
		return s.slotB
	default:
		return nil
	}
}

func (s *liveSession) allCompleted() bool {
	return s.slotA != nil && s.slotB != nil && s.slotA.completed && s.slotB.completed
}

func (s *liveSession) allConfirmed() bool {
	return s.slotA != nil && s.slotB != nil && s.slotA.confirmed && s.slotB.confirmed
}

func (s *liveSession) snapshot() *types.StatusSnapshot {
	snapshot := &types.StatusSnapshot{}
	if s.slotA != nil {
		snapshot.A = s.slotA.view()
	}
	if s.slotB != nil {
		snapshot.B = s.slotB.view()
	}
	return snapshot
}

// Registry implements the SessionCoordinator interface. It is the single
// source of truth for session state; every mutation is broadcast to the
// session's group through the injected Broadcaster.
//
// Mutating calls arrive pre-serialized through the hub's event goroutine.
// The mutex exists because the idle sweeper, the finalize goroutine and the
// HTTP status API also touch the table.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*liveSession
	broadcaster interfaces.Broadcaster
	pipeline    interfaces.ReportPipeline
	archive     interfaces.DeliveryArchive
	config      Config

	running  bool
	shutdown chan struct{}
	stateMu  sync.Mutex // protects running/shutdown
	wg       sync.WaitGroup
}

// NewRegistry creates a session registry. The archive may be nil; delivery
// attempts are then not recorded.
func NewRegistry(broadcaster interfaces.Broadcaster, pipeline interfaces.ReportPipeline, archive interfaces.DeliveryArchive, config Config) *Registry {
	defaults := DefaultConfig()
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = defaults.DeliverTimeout
	}

	return &Registry{
		sessions:    make(map[string]*liveSession),
		broadcaster: broadcaster,
		pipeline:    pipeline,
		archive:     archive,
		config:      config,
	}
}

// Start launches the idle session sweeper.
func (r *Registry) Start(ctx context.Context) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.running {
		return ErrRegistryAlreadyRunning
	}
	r.running = true
	r.shutdown = make(chan struct{})

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	return nil
}

// Stop shuts down the sweeper. Live sessions are discarded with the
// process; session state is in-memory only.
func (r *Registry) Stop() error {
	r.stateMu.Lock()
	if !r.running {
		r.stateMu.Unlock()
		return ErrRegistryNotRunning
	}
	r.running = false
	close(r.shutdown)
	r.stateMu.Unlock()

	r.wg.Wait()
	return nil
}

// Join assigns a slot first-come-first-served: "A" to the first joiner,
// "B" to the second, nothing beyond two. A full session yields "" without
// error; the connection still receives broadcasts as a group member.
func (r *Registry) Join(sessionID, connectionID string) string {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		s = &liveSession{id: sessionID}
		r.sessions[sessionID] = s
		log.Printf("Created session: id=%s", sessionID)
	}
	s.lastActivity = time.Now()

	var role string
	var peerConnID string
	switch {
	case s.slotA == nil:
		s.slotA = &participant{connectionID: connectionID}
		role = types.RoleA
		if s.slotB != nil {
			peerConnID = s.slotB.connectionID
		}
	case s.slotB == nil:
		s.slotB = &participant{connectionID: connectionID}
		role = types.RoleB
		peerConnID = s.slotA.connectionID
	default:
		// Session full - the joiner gets a null role and stays in limbo
	}
	snapshot := s.snapshot()
	r.mu.Unlock()

	assigned := &types.RoleAssignedPayload{}
	if role != "" {
		assigned.Role = &role
	}
	r.broadcaster.SendTo(connectionID, types.EventRoleAssigned, assigned)

	if peerConnID != "" {
		r.broadcaster.SendTo(peerConnID, types.EventPeerJoined, nil)
	}
	r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)

	log.Printf("Join: session=%s connection=%s role=%q", sessionID, connectionID, role)
	return role
}

// ReportProgress overwrites the slot's payload without completing it.
// Last write wins; there are no merge semantics.
func (r *Registry) ReportProgress(sessionID, role string, data map[string]interface{}) {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	p := s.slot(role)
	if p == nil {
		// Stale client state after a peer disconnect - ignore
		r.mu.Unlock()
		return
	}
	p.data = data
	s.lastActivity = time.Now()
	snapshot := s.snapshot()
	r.mu.Unlock()

	r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)
}

// ReportCompleted stores the slot's final payload and marks it completed.
func (r *Registry) ReportCompleted(sessionID, role string, data map[string]interface{}) {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	p := s.slot(role)
	if p == nil {
		r.mu.Unlock()
		return
	}
	p.data = data
	p.completed = true
	s.lastActivity = time.Now()

	fireReady := s.allCompleted() && !s.ready
	if fireReady {
		s.ready = true
	}
	snapshot := s.snapshot()
	r.mu.Unlock()

	r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)
	if fireReady {
		r.broadcaster.Broadcast(sessionID, types.EventConfirmationReady, nil)
		log.Printf("Session ready to confirm: id=%s", sessionID)
	}
}

// ReportConfirmed marks the slot confirmed and triggers finalize once both
// slots agree. Finalize runs asynchronously so the event loop never blocks
// on the external pipeline.
func (r *Registry) ReportConfirmed(sessionID, role string) {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	p := s.slot(role)
	if p == nil {
		r.mu.Unlock()
		return
	}
	p.confirmed = true
	s.lastActivity = time.Now()

	if s.allConfirmed() && !s.finalizing {
		s.finalizing = true
		report := &types.CombinedReport{
			SessionID:  sessionID,
			A:          s.slotA.data,
			B:          s.slotB.data,
			Recipients: types.RecipientAddresses(s.slotA.data, s.slotB.data),
		}
		r.mu.Unlock()

		log.Printf("Finalizing session: id=%s recipients=%d", sessionID, len(report.Recipients))
		go r.finalize(s, report)
		return
	}
	snapshot := s.snapshot()
	r.mu.Unlock()

	r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)
}

// Leave releases the slot owned by connectionID, if any. Once both slots
// are empty the session is deleted; a later join with the same id starts a
// fresh session.
func (r *Registry) Leave(sessionID, connectionID string) {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}

	switch {
	case s.slotA != nil && s.slotA.connectionID == connectionID:
		s.slotA = nil
	case s.slotB != nil && s.slotB.connectionID == connectionID:
		s.slotB = nil
	default:
		// Connection held no slot (null-role member) - nothing to release
		r.mu.Unlock()
		return
	}

	if s.slotA == nil && s.slotB == nil {
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		log.Printf("Session abandoned: id=%s", sessionID)
		r.broadcaster.DisbandGroup(sessionID)
		return
	}

	// The all-completed state no longer holds with an empty slot, so a
	// future pair completing again must re-fire confirmation-ready.
	s.ready = false
	s.lastActivity = time.Now()
	snapshot := s.snapshot()
	r.mu.Unlock()

	r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)
	log.Printf("Participant left: session=%s connection=%s", sessionID, connectionID)
}

// Snapshot returns the client-facing status of a session.
func (r *Registry) Snapshot(sessionID string) (*types.StatusSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return s.snapshot(), true
}

// Summaries lists all live sessions, most recently active first.
func (r *Registry) Summaries() []*types.SessionSummary {
	r.mu.Lock()
	summaries := make([]*types.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		summary := &types.SessionSummary{
			ID:           s.id,
			Ready:        s.ready,
			LastActivity: s.lastActivity,
		}
		for _, p := range []*participant{s.slotA, s.slotB} {
			if p == nil {
				continue
			}
			summary.Participants++
			if p.completed {
				summary.Completed++
			}
			if p.confirmed {
				summary.Confirmed++
			}
		}
		summaries = append(summaries, summary)
	}
	r.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})
	return summaries
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"live_sessions": len(r.sessions),
	}
}

// finalize delivers the combined report to the external pipeline. Failure
// must not crash the event loop: it is recorded, broadcast to the session
// members, and the session is kept so the pair can confirm again. Only a
// successful delivery tears the session down.
//
// The delivery can take up to DeliverTimeout, long enough for the pair to
// abandon the session and for a new pair to recreate it under the same id.
// Every mutation therefore checks that the table still holds the exact
// instance that triggered the finalize.
func (r *Registry) finalize(s *liveSession, report *types.CombinedReport) {
	sessionID := s.id

	ctx, cancel := context.WithTimeout(context.Background(), r.config.DeliverTimeout)
	defer cancel()

	err := r.pipeline.Deliver(ctx, report)
	r.recordDelivery(sessionID, report.Recipients, err)

	if err != nil {
		log.Printf("Report delivery failed for session %s: %v", sessionID, err)

		r.mu.Lock()
		if r.sessions[sessionID] != s {
			// The pair disconnected while delivery was in flight; a new
			// pair may own the id now and must not see this outcome
			r.mu.Unlock()
			return
		}
		s.finalizing = false
		// Reset confirmations so both parties can retry the send decision
		if s.slotA != nil {
			s.slotA.confirmed = false
		}
		if s.slotB != nil {
			s.slotB.confirmed = false
		}
		s.lastActivity = time.Now()
		snapshot := s.snapshot()
		r.mu.Unlock()

		r.broadcaster.Broadcast(sessionID, types.EventPDFSendFailed, &types.FailurePayload{Reason: err.Error()})
		r.broadcaster.Broadcast(sessionID, types.EventPeerStatusUpdate, snapshot)
		return
	}

	r.mu.Lock()
	if r.sessions[sessionID] != s {
		r.mu.Unlock()
		log.Printf("Session replaced during delivery, outcome archived only: id=%s", sessionID)
		return
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.broadcaster.Broadcast(sessionID, types.EventPDFSent, nil)
	r.broadcaster.DisbandGroup(sessionID)

	log.Printf("Session finalized: id=%s", sessionID)
}

// recordDelivery appends the attempt to the audit archive. Archive errors
// are logged, never surfaced - the delivery outcome already happened.
func (r *Registry) recordDelivery(sessionID string, recipients []string, deliveryErr error) {
	if r.archive == nil {
		return
	}

	record := &types.DeliveryRecord{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Recipients: recipients,
		Status:     types.DeliveryStatusSent,
		Timestamp:  time.Now(),
	}
	if deliveryErr != nil {
		record.Status = types.DeliveryStatusFailed
		record.Error = deliveryErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.archive.RecordDelivery(ctx, record); err != nil {
		log.Printf("Failed to archive delivery record for session %s: %v", sessionID, err)
	}
}

// sweepLoop periodically expires idle sessions.
func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweepIdle deletes sessions idle beyond the TTL, notifying members first.
// Sessions with an in-flight finalize are skipped.
func (r *Registry) sweepIdle() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if s.finalizing {
			continue
		}
		if now.Sub(s.lastActivity) > r.config.IdleTTL {
			expired = append(expired, id)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.broadcaster.Broadcast(id, types.EventSessionExpired, nil)
		r.broadcaster.DisbandGroup(id)
		log.Printf("Session expired after %s idle: id=%s", r.config.IdleTTL, id)
	}
}
