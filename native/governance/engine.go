package governance

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"apxpool/core/events"
	nativecommon "apxpool/native/common"
)

const moduleName = "governance"

var (
	proposalPrefix   = []byte("governance/proposal/")
	proposalIndexKey = []byte("governance/proposals")
	nonceKey         = []byte("governance/nonce")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// RoleView answers governor membership questions for approval checks.
type RoleView interface {
	IsGovernor(addr [20]byte) (bool, error)
}

// ExecutionTarget applies approved payloads. The facility implements it;
// the engine stays ignorant of the parameter semantics behind each key.
type ExecutionTarget interface {
	ApproveBorrower(borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) error
	SetParam(key string, value *big.Int) error
}

// Engine runs the multi-approver timelock for borrower approvals and
// parameter updates. Proposals collect one approval per governor; at quorum
// the timelock starts, and once it expires anyone may execute.
type Engine struct {
	state           engineState
	roles           RoleView
	target          ExecutionTarget
	emitter         events.Emitter
	pauses          nativecommon.PauseView
	nowFn           func() time.Time
	quorum          uint64
	minDelaySeconds uint64
	allowedParams   map[string]struct{}
}

// NewEngine constructs a governance engine with the default policy.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	e.SetPolicy(DefaultPolicy())
	return e
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRoles wires the governor membership view.
func (e *Engine) SetRoles(roles RoleView) { e.roles = roles }

// SetTarget wires the execution sink applied at the end of the timelock.
func (e *Engine) SetTarget(target ExecutionTarget) { e.target = target }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used to stamp proposals. Nil
// restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetPolicy updates the runtime policy. A zero quorum collapses to one.
func (e *Engine) SetPolicy(policy Policy) {
	if e == nil {
		return
	}
	if policy.Quorum == 0 {
		policy.Quorum = 1
	}
	e.quorum = policy.Quorum
	e.minDelaySeconds = policy.MinDelaySeconds
	e.allowedParams = make(map[string]struct{}, len(policy.AllowedParams))
	for _, key := range policy.AllowedParams {
		e.allowedParams[key] = struct{}{}
	}
}

// Quorum returns the configured approval threshold.
func (e *Engine) Quorum() uint64 { return e.quorum }

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func proposalKey(id string) []byte {
	buf := make([]byte, 0, len(proposalPrefix)+len(id))
	buf = append(buf, proposalPrefix...)
	return append(buf, id...)
}

func (e *Engine) nextNonce() (uint64, error) {
	var nonce uint64
	if _, err := e.state.KVGet(nonceKey, &nonce); err != nil {
		return 0, err
	}
	nonce++
	if err := e.state.KVPut(nonceKey, nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// proposalDigest derives the hex proposal id from the kind, its canonical
// payload bytes and the facility-scoped nonce.
func proposalDigest(kind string, payload []byte, nonce uint64) string {
	buf := make([]byte, 0, len(kind)+len(payload)+8)
	buf = append(buf, kind...)
	buf = append(buf, payload...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	return hex.EncodeToString(crypto.Keccak256(buf))
}

func encodeBorrowerPayload(borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) []byte {
	limitBytes := limit.Bytes()
	buf := make([]byte, 0, 20+4+len(limitBytes)+16)
	buf = append(buf, borrower[:]...)
	var width [4]byte
	binary.BigEndian.PutUint32(width[:], uint32(len(limitBytes)))
	buf = append(buf, width[:]...)
	buf = append(buf, limitBytes...)
	var bps [8]byte
	binary.BigEndian.PutUint64(bps[:], lpYieldBps)
	buf = append(buf, bps[:]...)
	binary.BigEndian.PutUint64(bps[:], protocolFeeBps)
	return append(buf, bps[:]...)
}

func encodeParamPayload(key string, value *big.Int) []byte {
	valueBytes := value.Bytes()
	buf := make([]byte, 0, len(key)+1+len(valueBytes))
	buf = append(buf, key...)
	buf = append(buf, 0)
	return append(buf, valueBytes...)
}

func (e *Engine) loadProposal(id string) (*Proposal, bool, error) {
	proposal := new(Proposal)
	ok, err := e.state.KVGet(proposalKey(id), proposal)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	proposal.Normalize()
	return proposal, true, nil
}

func (e *Engine) putProposal(p *Proposal) error {
	p.Normalize()
	return e.state.KVPut(proposalKey(p.ID), p)
}

func (e *Engine) requireGovernor(addr [20]byte) error {
	if e.roles == nil {
		return errNilRoles
	}
	ok, err := e.roles.IsGovernor(addr)
	if err != nil {
		return err
	}
	if !ok {
		return errNotGovernor
	}
	return nil
}

// admit stores a fresh proposal, auto-approving for the proposer and
// scheduling right away when the quorum is one.
func (e *Engine) admit(p *Proposal, proposer [20]byte) (*Proposal, error) {
	now := e.now()
	p.SubmitTime = now
	p.Status = StatusProposed
	p.addApproval(proposer)

	scheduled := false
	if uint64(len(p.Approvals)) >= e.quorum {
		p.Status = StatusScheduled
		p.ScheduledAt = now + e.minDelaySeconds
		scheduled = true
	}
	if err := e.putProposal(p); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(proposalIndexKey, []byte(p.ID)); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.GovernanceProposed{
		ProposalID: p.ID,
		Kind:       p.Kind,
		Proposer:   proposer,
	})
	if scheduled {
		e.emitter.Emit(events.GovernanceScheduled{
			ProposalID:  p.ID,
			ScheduledAt: p.ScheduledAt,
		})
	}
	return p.Clone(), nil
}

// ProposeBorrower submits a borrower credit-line change for approval.
func (e *Engine) ProposeBorrower(proposer, borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireGovernor(proposer); err != nil {
		return nil, err
	}
	if limit == nil || limit.Sign() < 0 {
		return nil, errInvalidProposal
	}
	if lpYieldBps > 10_000 || protocolFeeBps > 10_000 {
		return nil, errInvalidProposal
	}

	nonce, err := e.nextNonce()
	if err != nil {
		return nil, err
	}
	payload := encodeBorrowerPayload(borrower, limit, lpYieldBps, protocolFeeBps)
	p := &Proposal{
		ID:             proposalDigest(ProposalKindBorrowerApprove, payload, nonce),
		Kind:           ProposalKindBorrowerApprove,
		Proposer:       proposer,
		Borrower:       borrower,
		BorrowLimit:    new(big.Int).Set(limit),
		LPYieldBps:     lpYieldBps,
		ProtocolFeeBps: protocolFeeBps,
	}
	return e.admit(p, proposer)
}

// ProposeParamUpdate submits an allow-listed parameter change for approval.
func (e *Engine) ProposeParamUpdate(proposer [20]byte, key string, value *big.Int) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireGovernor(proposer); err != nil {
		return nil, err
	}
	if _, ok := e.allowedParams[key]; !ok {
		return nil, errParamNotAllowed
	}
	if value == nil || value.Sign() < 0 {
		return nil, errInvalidProposal
	}

	nonce, err := e.nextNonce()
	if err != nil {
		return nil, err
	}
	payload := encodeParamPayload(key, value)
	p := &Proposal{
		ID:         proposalDigest(ProposalKindParamUpdate, payload, nonce),
		Kind:       ProposalKindParamUpdate,
		Proposer:   proposer,
		ParamKey:   key,
		ParamValue: new(big.Int).Set(value),
	}
	return e.admit(p, proposer)
}

// Approve records one governor approval. Approvals close once the proposal
// is scheduled: past quorum the timelock is the only remaining gate.
func (e *Engine) Approve(approver [20]byte, id string) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireGovernor(approver); err != nil {
		return nil, err
	}
	p, ok, err := e.loadProposal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errProposalNotFound
	}
	switch p.Status {
	case StatusExecuted:
		return nil, errAlreadyExecuted
	case StatusScheduled:
		return nil, errAlreadyScheduled
	}
	if p.HasApproval(approver) {
		return nil, errAlreadyApproved
	}

	p.addApproval(approver)
	scheduled := false
	if uint64(len(p.Approvals)) >= e.quorum {
		p.Status = StatusScheduled
		p.ScheduledAt = e.now() + e.minDelaySeconds
		scheduled = true
	}
	if err := e.putProposal(p); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.GovernanceApproved{
		ProposalID: p.ID,
		Approver:   approver,
		Approvals:  uint64(len(p.Approvals)),
		Quorum:     e.quorum,
	})
	if scheduled {
		e.emitter.Emit(events.GovernanceScheduled{
			ProposalID:  p.ID,
			ScheduledAt: p.ScheduledAt,
		})
	}
	return p.Clone(), nil
}

// Execute applies a scheduled proposal once the timelock expires. The
// caller needs no role: quorum plus the delay is the security boundary.
// Exactly-once: a second call fails with ErrAlreadyExecuted.
func (e *Engine) Execute(executor [20]byte, id string) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.target == nil {
		return nil, errNilTarget
	}
	p, ok, err := e.loadProposal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errProposalNotFound
	}
	switch p.Status {
	case StatusExecuted:
		return nil, errAlreadyExecuted
	case StatusProposed:
		return nil, errNotScheduled
	}
	now := e.now()
	if now < p.ScheduledAt {
		return nil, errTimelockActive
	}

	switch p.Kind {
	case ProposalKindBorrowerApprove:
		err = e.target.ApproveBorrower(p.Borrower, p.BorrowLimit, p.LPYieldBps, p.ProtocolFeeBps)
	case ProposalKindParamUpdate:
		err = e.target.SetParam(p.ParamKey, p.ParamValue)
	default:
		return nil, errInvalidProposal
	}
	if err != nil {
		return nil, err
	}

	p.Status = StatusExecuted
	p.ExecutedAt = now
	if err := e.putProposal(p); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.GovernanceExecuted{
		ProposalID: p.ID,
		Executor:   executor,
	})
	return p.Clone(), nil
}

// GetProposal returns the stored proposal.
func (e *Engine) GetProposal(id string) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, ok, err := e.loadProposal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errProposalNotFound
	}
	return p.Clone(), nil
}

// Proposals returns every proposal in submission order.
func (e *Engine) Proposals() ([]*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(proposalIndexKey, &raw); err != nil {
		return nil, err
	}
	proposals := make([]*Proposal, 0, len(raw))
	for _, encoded := range raw {
		p, ok, err := e.loadProposal(string(encoded))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		proposals = append(proposals, p.Clone())
	}
	return proposals, nil
}
