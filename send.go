package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultSendGap is the minimum interval between wire emissions.
const DefaultSendGap = 300 * time.Millisecond

// DefaultAckTimeout bounds how long a sent message may stay in "sending"
// before it is marked failed.
const DefaultAckTimeout = 8 * time.Second

// SendOptions carries the optional parts of an outgoing message.
type SendOptions struct {
	Attachment string
	MimeType   string
	DurationMs int
	ReplyTo    string
	Tagged     []TaggedUser
}

// pendingSend is the per-send state machine: pending → acked | timed-out.
// Only the first resolution applies.
type pendingSend struct {
	requestID string
	tempID    string
	threadID  string
	timer     *time.Timer
	resolved  bool
}

// sendPipeline builds an optimistic local message, rate-limits emission and
// reconciles the server-assigned identifier via ack or inferred echo.
type sendPipeline struct {
	conn       *Conn
	store      *Store
	log        *slog.Logger
	limiter    *rate.Limiter
	ackTimeout time.Duration

	// emitMu serializes the gap wait and the write so deferred sends go
	// out in submission order.
	emitMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingSend
	byThread map[string][]*pendingSend
}

func newSendPipeline(conn *Conn, store *Store, gap, ackTimeout time.Duration, log *slog.Logger) *sendPipeline {
	if gap <= 0 {
		gap = DefaultSendGap
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &sendPipeline{
		conn:       conn,
		store:      store,
		log:        log,
		limiter:    rate.NewLimiter(rate.Every(gap), 1),
		ackTimeout: ackTimeout,
		pending:    make(map[string]*pendingSend),
		byThread:   make(map[string][]*pendingSend),
	}
}

// newTempID synthesizes a locally-unique placeholder identifier. The
// timestamp keeps it sortable; the random suffix keeps it collision-free
// and disjoint from any server identifier.
func newTempID() string {
	return fmt.Sprintf("tmp-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Send inserts an optimistic message into the target thread and emits it.
// It returns the temporary message id; once the server confirms, the store
// entry is re-keyed to the server id. Sending while disconnected fails the
// message immediately without a wire emission.
func (p *sendPipeline) Send(ctx context.Context, threadID string, kind ThreadKind, text string, opts SendOptions) (string, error) {
	identity := p.conn.Identity()
	tagged := DedupeTagged(opts.Tagged)
	tempID := newTempID()

	p.store.EnsureThread(threadID, kind, "", "")
	p.store.AddMessage(threadID, kind, Message{
		ID:         tempID,
		Temp:       true,
		Text:       text,
		CreatedAt:  time.Now(),
		SenderID:   identity,
		Status:     StatusSending,
		MediaURI:   opts.Attachment,
		MimeType:   opts.MimeType,
		DurationMs: opts.DurationMs,
		ReplyTo:    opts.ReplyTo,
		Tagged:     tagged,
	})

	if !p.conn.Connected() {
		p.store.SetStatus(tempID, StatusFailed)
		return tempID, ErrNotConnected
	}

	requestID := uuid.NewString()
	ps := &pendingSend{requestID: requestID, tempID: tempID, threadID: threadID}
	p.mu.Lock()
	p.pending[requestID] = ps
	p.byThread[threadID] = append(p.byThread[threadID], ps)
	p.mu.Unlock()

	var cmd Command
	if kind == KindCommunity {
		ids := make([]string, 0, len(tagged))
		for _, tu := range tagged {
			ids = append(ids, tu.ID)
		}
		cmd = SendRoomMessage{
			SenderID:      identity,
			RoomID:        threadID,
			Message:       text,
			Attachment:    opts.Attachment,
			TaggedUserIDs: ids,
		}
	} else {
		cmd = SendDirectMessage{
			SenderID:   identity,
			ReceiverID: threadID,
			Message:    text,
		}
	}

	p.emitMu.Lock()
	err := p.limiter.Wait(ctx)
	if err == nil {
		err = p.conn.Emit(ctx, cmd, requestID)
	}
	p.emitMu.Unlock()

	if err != nil {
		p.remove(ps)
		p.store.TransitionStatus(tempID, StatusSending, StatusFailed)
		return tempID, err
	}

	ps.timer = time.AfterFunc(p.ackTimeout, func() { p.timeout(requestID) })
	return tempID, nil
}

// HandleAck reconciles an acknowledgment with its pending send. A duplicate
// or late ack is a no-op.
func (p *sendPipeline) HandleAck(ev *AckEvent) {
	p.mu.Lock()
	ps, ok := p.pending[ev.RequestID]
	if !ok || ps.resolved {
		p.mu.Unlock()
		return
	}
	p.resolveLocked(ps)
	p.mu.Unlock()

	p.reconcile(ps, ev.ID, ev.Read)
}

// ResolveInferred consumes a server echo of the local user's own direct
// message: the oldest unresolved pending send for the thread is reconciled
// against the echoed server id. Returns false when nothing was pending, in
// which case the caller should treat the event as a regular insert.
func (p *sendPipeline) ResolveInferred(threadID, serverID string, read bool) bool {
	p.mu.Lock()
	var ps *pendingSend
	for _, cand := range p.byThread[threadID] {
		if !cand.resolved {
			ps = cand
			break
		}
	}
	if ps == nil {
		p.mu.Unlock()
		return false
	}
	p.resolveLocked(ps)
	p.mu.Unlock()

	p.reconcile(ps, serverID, read)
	return true
}

func (p *sendPipeline) reconcile(ps *pendingSend, serverID string, read bool) {
	if !p.store.ReplaceTempID(ps.tempID, serverID) {
		return
	}
	status := StatusDelivered
	if read {
		status = StatusSeen
		p.store.MarkReadBulk([]string{serverID})
	}
	p.store.SetStatus(serverID, status)
}

func (p *sendPipeline) timeout(requestID string) {
	p.mu.Lock()
	ps, ok := p.pending[requestID]
	if !ok || ps.resolved {
		p.mu.Unlock()
		return
	}
	p.resolveLocked(ps)
	p.mu.Unlock()

	// Recheck before writing: an ack may have landed between the timer
	// firing and this mutation.
	if p.store.TransitionStatus(ps.tempID, StatusSending, StatusFailed) {
		p.log.Debug("send timed out", "thread", ps.threadID, "tempId", ps.tempID)
	}
}

// resolveLocked marks ps resolved and detaches it. Callers hold p.mu.
func (p *sendPipeline) resolveLocked(ps *pendingSend) {
	ps.resolved = true
	if ps.timer != nil {
		ps.timer.Stop()
	}
	delete(p.pending, ps.requestID)
	p.detachLocked(ps)
}

func (p *sendPipeline) remove(ps *pendingSend) {
	p.mu.Lock()
	delete(p.pending, ps.requestID)
	p.detachLocked(ps)
	p.mu.Unlock()
}

func (p *sendPipeline) detachLocked(ps *pendingSend) {
	list := p.byThread[ps.threadID]
	for i, cand := range list {
		if cand == ps {
			p.byThread[ps.threadID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.byThread[ps.threadID]) == 0 {
		delete(p.byThread, ps.threadID)
	}
}
