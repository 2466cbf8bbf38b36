package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
)

// Memory 进程内处理方，未配置 base_url 的开发环境和测试使用。
// 行为确定：默认全部成功，可按目标账户注入拒绝或超时。
type Memory struct {
	mu        sync.Mutex
	seq       int
	accounts  map[string]*domain.AccountStatus
	transfers map[string]*domain.Transfer
	payouts   map[string][]domain.ProcessorPayout
	faults    map[string][]fault
	calls     int
}

type fault struct {
	reject  *domain.RejectionError
	timeout bool
	applied bool
	hold    bool
}

// NewMemory 创建内存处理方
func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]*domain.AccountStatus),
		transfers: make(map[string]*domain.Transfer),
		payouts:   make(map[string][]domain.ProcessorPayout),
		faults:    make(map[string][]fault),
	}
}

// RejectNext 下一次转到该账户的请求被拒绝
func (m *Memory) RejectNext(accountID, code string, terminal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[accountID] = append(m.faults[accountID], fault{
		reject: &domain.RejectionError{Code: code, Message: "rejected by test processor", Terminal: terminal},
	})
}

// TimeoutNext 下一次转账超时。applied 为 true 时处理方实际已执行转账。
func (m *Memory) TimeoutNext(accountID string, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[accountID] = append(m.faults[accountID], fault{timeout: true, applied: applied})
}

// HoldNext 下一次转账被受理但停留在 pending，直到 SettleHeld
func (m *Memory) HoldNext(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[accountID] = append(m.faults[accountID], fault{hold: true})
}

// SettleHeld 把该幂等键上 pending 的转账推进到 succeeded
func (m *Memory) SettleHeld(idempotencyKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[idempotencyKey]
	if !ok || t.Status != domain.TransferPending {
		return false
	}
	t.Status = domain.TransferSucceeded
	return true
}

// SetAccountStatus 修改账户状态
func (m *Memory) SetAccountStatus(st domain.AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st
	m.accounts[st.AccountID] = &cp
}

// AddPayout 记录一笔出款，供 ListPayouts 查询
func (m *Memory) AddPayout(accountID string, p domain.ProcessorPayout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[accountID] = append(m.payouts[accountID], p)
}

// TransferCalls CreateTransfer 被调用的次数
func (m *Memory) TransferCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Transfers 已执行的转账，按幂等键去重
func (m *Memory) Transfers() []domain.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		if t.Status == domain.TransferSucceeded {
			out = append(out, *t)
		}
	}
	return out
}

func (m *Memory) CreateConnectedAccount(_ context.Context, in domain.CreateAccountInput) (*domain.AccountStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	st := &domain.AccountStatus{
		AccountID:       fmt.Sprintf("acct_%04d", m.seq),
		ChargesEnabled:  true,
		PayoutsEnabled:  true,
		RequirementsDue: []string{},
	}
	m.accounts[st.AccountID] = st
	cp := *st
	return &cp, nil
}

func (m *Memory) GetAccountStatus(_ context.Context, accountID string) (*domain.AccountStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.accounts[accountID]
	if !ok {
		return nil, &domain.RejectionError{Code: "account_invalid", Message: "no such account", Terminal: true}
	}
	cp := *st
	return &cp, nil
}

func (m *Memory) CreateTransfer(_ context.Context, in domain.TransferInput) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if t, ok := m.transfers[in.IdempotencyKey]; ok {
		switch t.Status {
		case domain.TransferSucceeded:
			cp := *t
			return &cp, nil
		case domain.TransferPending:
			return nil, fmt.Errorf("%w: transfer %s still pending", domain.ErrTransferUnknown, t.ID)
		}
	}
	if fs := m.faults[in.Destination]; len(fs) > 0 {
		f := fs[0]
		m.faults[in.Destination] = fs[1:]
		switch {
		case f.reject != nil:
			m.transfers[in.IdempotencyKey] = m.newTransfer(in, domain.TransferFailed, f.reject.Code)
			return nil, f.reject
		case f.hold:
			t := m.newTransfer(in, domain.TransferPending, "")
			m.transfers[in.IdempotencyKey] = t
			return nil, fmt.Errorf("%w: transfer %s pending", domain.ErrTransferUnknown, t.ID)
		case f.timeout:
			if f.applied {
				m.transfers[in.IdempotencyKey] = m.newTransfer(in, domain.TransferSucceeded, "")
			}
			return nil, fmt.Errorf("%w: context deadline exceeded", domain.ErrTransferUnknown)
		}
	}
	if st, ok := m.accounts[in.Destination]; !ok || !st.PayoutsEnabled {
		return nil, &domain.RejectionError{Code: "account_invalid", Message: "destination cannot receive transfers", Terminal: true}
	}

	t := m.newTransfer(in, domain.TransferSucceeded, "")
	m.transfers[in.IdempotencyKey] = t
	cp := *t
	return &cp, nil
}

func (m *Memory) newTransfer(in domain.TransferInput, status domain.TransferStatus, failureCode string) *domain.Transfer {
	m.seq++
	return &domain.Transfer{
		ID:             fmt.Sprintf("tr_%06d", m.seq),
		Status:         status,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Destination:    in.Destination,
		IdempotencyKey: in.IdempotencyKey,
		FailureCode:    failureCode,
	}
}

func (m *Memory) FindTransfer(_ context.Context, idempotencyKey string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[idempotencyKey]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListPayouts(_ context.Context, accountID string, limit int) ([]domain.ProcessorPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.payouts[accountID]
	if limit > 0 && len(ps) > limit {
		ps = ps[len(ps)-limit:]
	}
	out := make([]domain.ProcessorPayout, len(ps))
	copy(out, ps)
	return out, nil
}
