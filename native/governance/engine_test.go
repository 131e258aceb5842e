package governance

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"apxpool/core/events"
	nativecommon "apxpool/native/common"
)

type mockEngineState struct {
	kv map[string][]byte
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{kv: make(map[string][]byte)}
}

func (m *mockEngineState) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockEngineState) KVPut(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = data
	return nil
}

func (m *mockEngineState) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if data, ok := m.kv[string(key)]; ok {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if string(existing) == string(value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

func (m *mockEngineState) KVGetList(key []byte, out interface{}) error {
	data, ok := m.kv[string(key)]
	if !ok {
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

type stubRoles struct {
	governors map[[20]byte]bool
}

func (s *stubRoles) IsGovernor(addr [20]byte) (bool, error) {
	return s.governors[addr], nil
}

type borrowerCall struct {
	borrower       [20]byte
	limit          *big.Int
	lpYieldBps     uint64
	protocolFeeBps uint64
}

type paramCall struct {
	key   string
	value *big.Int
}

// recordingTarget captures executed payloads and can fail the next call to
// exercise the retry path.
type recordingTarget struct {
	borrowers []borrowerCall
	params    []paramCall
	failNext  error
}

func (r *recordingTarget) ApproveBorrower(borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.borrowers = append(r.borrowers, borrowerCall{
		borrower:       borrower,
		limit:          new(big.Int).Set(limit),
		lpYieldBps:     lpYieldBps,
		protocolFeeBps: protocolFeeBps,
	})
	return nil
}

func (r *recordingTarget) SetParam(key string, value *big.Int) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.params = append(r.params, paramCall{key: key, value: new(big.Int).Set(value)})
	return nil
}

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[len(addr)-1] = suffix
	return addr
}

const testStart = uint64(1_700_000_000)

func newTestEngine(t *testing.T, governors ...[20]byte) (*Engine, *recordingTarget, *captureEmitter, *uint64) {
	t.Helper()
	engine := NewEngine()
	engine.SetState(newMockEngineState())
	roles := &stubRoles{governors: make(map[[20]byte]bool)}
	for _, governor := range governors {
		roles.governors[governor] = true
	}
	engine.SetRoles(roles)
	target := &recordingTarget{}
	engine.SetTarget(target)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	now := testStart
	engine.SetNowFunc(func() time.Time { return time.Unix(int64(now), 0).UTC() })
	return engine, target, emitter, &now
}

func TestProposeSchedulesAtQuorumOne(t *testing.T) {
	governor := makeAddress(1)
	engine, _, emitter, _ := newTestEngine(t, governor)

	proposal, err := engine.ProposeBorrower(governor, makeAddress(2), big.NewInt(500_000_000_000), 200, 80)
	if err != nil {
		t.Fatalf("propose borrower: %v", err)
	}
	if proposal.Status != StatusScheduled {
		t.Fatalf("expected scheduled at quorum one, got %s", proposal.Status)
	}
	if proposal.ScheduledAt != testStart+86_400 {
		t.Fatalf("unexpected schedule time %d", proposal.ScheduledAt)
	}
	if !proposal.HasApproval(governor) {
		t.Fatalf("proposer approval not recorded")
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected proposed and scheduled events, got %d", len(emitter.events))
	}
	if _, ok := emitter.events[0].(events.GovernanceProposed); !ok {
		t.Fatalf("expected GovernanceProposed first, got %T", emitter.events[0])
	}
	scheduled, ok := emitter.events[1].(events.GovernanceScheduled)
	if !ok {
		t.Fatalf("expected GovernanceScheduled second, got %T", emitter.events[1])
	}
	if scheduled.ScheduledAt != proposal.ScheduledAt {
		t.Fatalf("scheduled event time %d, want %d", scheduled.ScheduledAt, proposal.ScheduledAt)
	}
}

func TestBorrowerLifecycleQuorumTwo(t *testing.T) {
	proposer := makeAddress(1)
	second := makeAddress(2)
	borrower := makeAddress(3)
	engine, target, emitter, now := newTestEngine(t, proposer, second)
	engine.SetPolicy(Policy{Quorum: 2, MinDelaySeconds: 3600, AllowedParams: DefaultPolicy().AllowedParams})

	limit := big.NewInt(250_000_000_000)
	proposal, err := engine.ProposeBorrower(proposer, borrower, limit, 300, 120)
	if err != nil {
		t.Fatalf("propose borrower: %v", err)
	}
	if proposal.Status != StatusProposed {
		t.Fatalf("expected proposed below quorum, got %s", proposal.Status)
	}
	if len(proposal.Approvals) != 1 {
		t.Fatalf("expected proposer auto-approval, got %d", len(proposal.Approvals))
	}

	if _, err := engine.Execute(second, proposal.ID); !errors.Is(err, errNotScheduled) {
		t.Fatalf("expected not-scheduled error before quorum, got %v", err)
	}

	emitter.events = nil
	approved, err := engine.Approve(second, proposal.ID)
	if err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if approved.Status != StatusScheduled {
		t.Fatalf("expected scheduled after quorum, got %s", approved.Status)
	}
	if approved.ScheduledAt != testStart+3600 {
		t.Fatalf("unexpected schedule time %d", approved.ScheduledAt)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected approved and scheduled events, got %d", len(emitter.events))
	}
	approvedEvt, ok := emitter.events[0].(events.GovernanceApproved)
	if !ok {
		t.Fatalf("expected GovernanceApproved, got %T", emitter.events[0])
	}
	if approvedEvt.Approvals != 2 || approvedEvt.Quorum != 2 {
		t.Fatalf("unexpected approval tally %d/%d", approvedEvt.Approvals, approvedEvt.Quorum)
	}

	if _, err := engine.Execute(second, proposal.ID); !errors.Is(err, errTimelockActive) {
		t.Fatalf("expected timelock rejection, got %v", err)
	}

	*now += 3600
	executed, err := engine.Execute(makeAddress(9), proposal.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if executed.Status != StatusExecuted {
		t.Fatalf("expected executed status, got %s", executed.Status)
	}
	if executed.ExecutedAt != testStart+3600 {
		t.Fatalf("unexpected execution time %d", executed.ExecutedAt)
	}
	if len(target.borrowers) != 1 {
		t.Fatalf("expected one borrower call, got %d", len(target.borrowers))
	}
	call := target.borrowers[0]
	if call.borrower != borrower || call.limit.Cmp(limit) != 0 || call.lpYieldBps != 300 || call.protocolFeeBps != 120 {
		t.Fatalf("unexpected borrower call %+v", call)
	}

	if _, err := engine.Execute(second, proposal.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("expected already-executed error, got %v", err)
	}
}

func TestParamUpdateLifecycle(t *testing.T) {
	governor := makeAddress(1)
	engine, target, _, now := newTestEngine(t, governor)

	proposal, err := engine.ProposeParamUpdate(governor, ParamVaultLiquidityBufferBps, big.NewInt(750))
	if err != nil {
		t.Fatalf("propose param: %v", err)
	}
	if proposal.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", proposal.Status)
	}

	*now += 86_400
	if _, err := engine.Execute(governor, proposal.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(target.params) != 1 {
		t.Fatalf("expected one param call, got %d", len(target.params))
	}
	if target.params[0].key != ParamVaultLiquidityBufferBps || target.params[0].value.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected param call %+v", target.params[0])
	}
}

func TestProposeValidation(t *testing.T) {
	governor := makeAddress(1)
	outsider := makeAddress(7)
	engine, _, _, _ := newTestEngine(t, governor)

	if _, err := engine.ProposeBorrower(outsider, makeAddress(2), big.NewInt(1), 100, 40); !errors.Is(err, ErrNotGovernor) {
		t.Fatalf("expected governor gate, got %v", err)
	}
	if _, err := engine.ProposeBorrower(governor, makeAddress(2), nil, 100, 40); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected nil-limit rejection, got %v", err)
	}
	if _, err := engine.ProposeBorrower(governor, makeAddress(2), big.NewInt(-1), 100, 40); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected negative-limit rejection, got %v", err)
	}
	if _, err := engine.ProposeBorrower(governor, makeAddress(2), big.NewInt(1), 10_001, 40); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected bps rejection, got %v", err)
	}
	if _, err := engine.ProposeParamUpdate(governor, "vault.bogus", big.NewInt(1)); !errors.Is(err, errParamNotAllowed) {
		t.Fatalf("expected allow-list rejection, got %v", err)
	}
	if _, err := engine.ProposeParamUpdate(governor, ParamCreditAppexRate, big.NewInt(-5)); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected negative-value rejection, got %v", err)
	}

	if proposals, err := engine.Proposals(); err != nil || len(proposals) != 0 {
		t.Fatalf("expected empty proposal list after rejections, got %d (%v)", len(proposals), err)
	}
}

func TestApproveRejections(t *testing.T) {
	proposer := makeAddress(1)
	second := makeAddress(2)
	third := makeAddress(3)
	outsider := makeAddress(7)
	engine, _, _, _ := newTestEngine(t, proposer, second, third)
	engine.SetPolicy(Policy{Quorum: 2, MinDelaySeconds: 3600, AllowedParams: DefaultPolicy().AllowedParams})

	if _, err := engine.Approve(second, "feedbeef"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	proposal, err := engine.ProposeBorrower(proposer, makeAddress(4), big.NewInt(1_000_000), 100, 40)
	if err != nil {
		t.Fatalf("propose borrower: %v", err)
	}

	if _, err := engine.Approve(outsider, proposal.ID); !errors.Is(err, ErrNotGovernor) {
		t.Fatalf("expected governor gate, got %v", err)
	}
	if _, err := engine.Approve(proposer, proposal.ID); !errors.Is(err, errAlreadyApproved) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	if _, err := engine.Approve(second, proposal.ID); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if _, err := engine.Approve(third, proposal.ID); !errors.Is(err, errAlreadyScheduled) {
		t.Fatalf("expected post-schedule rejection, got %v", err)
	}
}

func TestExecuteFailureLeavesProposalRetryable(t *testing.T) {
	governor := makeAddress(1)
	engine, target, _, now := newTestEngine(t, governor)

	proposal, err := engine.ProposeParamUpdate(governor, ParamVaultStakingMultiplier, big.NewInt(4))
	if err != nil {
		t.Fatalf("propose param: %v", err)
	}
	*now += 86_400

	target.failNext = errors.New("facility rejected value")
	if _, err := engine.Execute(governor, proposal.ID); err == nil {
		t.Fatalf("expected execution failure")
	}

	stored, err := engine.GetProposal(proposal.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if stored.Status != StatusScheduled {
		t.Fatalf("expected proposal to stay scheduled, got %s", stored.Status)
	}

	executed, err := engine.Execute(governor, proposal.ID)
	if err != nil {
		t.Fatalf("retry execute: %v", err)
	}
	if executed.Status != StatusExecuted {
		t.Fatalf("expected executed after retry, got %s", executed.Status)
	}
	if len(target.params) != 1 {
		t.Fatalf("expected one applied call, got %d", len(target.params))
	}
}

func TestIdenticalPayloadsGetDistinctIDs(t *testing.T) {
	governor := makeAddress(1)
	engine, _, _, _ := newTestEngine(t, governor)

	first, err := engine.ProposeBorrower(governor, makeAddress(2), big.NewInt(9_000_000), 150, 60)
	if err != nil {
		t.Fatalf("first propose: %v", err)
	}
	second, err := engine.ProposeBorrower(governor, makeAddress(2), big.NewInt(9_000_000), 150, 60)
	if err != nil {
		t.Fatalf("second propose: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids for identical payloads")
	}

	proposals, err := engine.Proposals()
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected two proposals, got %d", len(proposals))
	}
	if proposals[0].ID != first.ID || proposals[1].ID != second.ID {
		t.Fatalf("proposals out of submission order")
	}
}

func TestPausedGovernanceRejectsMutations(t *testing.T) {
	governor := makeAddress(1)
	engine, _, _, _ := newTestEngine(t, governor)

	proposal, err := engine.ProposeParamUpdate(governor, ParamCreditMinTermDays, big.NewInt(14))
	if err != nil {
		t.Fatalf("propose param: %v", err)
	}

	engine.SetPauses(pauseSet{moduleName: true})
	if _, err := engine.ProposeParamUpdate(governor, ParamCreditMaxTermDays, big.NewInt(365)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection on propose, got %v", err)
	}
	if _, err := engine.Approve(governor, proposal.ID); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection on approve, got %v", err)
	}
	if _, err := engine.Execute(governor, proposal.ID); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection on execute, got %v", err)
	}

	engine.SetPauses(nil)
	if _, err := engine.GetProposal(proposal.ID); err != nil {
		t.Fatalf("reads survive pause toggling: %v", err)
	}
}
