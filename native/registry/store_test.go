package registry

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[len(addr)-1] = suffix
	return addr
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "registry.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPartnerLifecycle(t *testing.T) {
	store := newTestStore(t)
	addr := makeAddress(1)
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.MutatePartner(addr, false, func(*Partner) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)

	created, err := store.MutatePartner(addr, true, func(p *Partner) error {
		p.Name = "Acme Media"
		p.BorrowLimit = big.NewInt(500_000_000_000)
		p.LPYieldBps = 200
		p.ProtocolFeeBps = 80
		p.Approved = true
		p.UpdatedAt = now
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Acme Media", created.Name)
	require.NotEmpty(t, created.Address)

	got, ok, err := store.GetPartner(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Approved)
	require.Zero(t, got.BorrowLimit.Cmp(big.NewInt(500_000_000_000)))

	mutateErr := errors.New("abort")
	_, err = store.MutatePartner(addr, false, func(p *Partner) error {
		p.Approved = false
		return mutateErr
	})
	require.ErrorIs(t, err, mutateErr)

	got, ok, err = store.GetPartner(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Approved, "failed mutation must not persist")

	updated, err := store.MutatePartner(addr, false, func(p *Partner) error {
		p.Approved = false
		p.UpdatedAt = now.Add(time.Hour)
		return nil
	})
	require.NoError(t, err)
	require.False(t, updated.Approved)

	_, ok, err = store.GetPartner(makeAddress(9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListPartnersStableOrder(t *testing.T) {
	store := newTestStore(t)
	for _, suffix := range []byte{3, 1, 2} {
		_, err := store.MutatePartner(makeAddress(suffix), true, func(p *Partner) error {
			p.Name = string('a' + rune(suffix))
			return nil
		})
		require.NoError(t, err)
	}

	partners, err := store.ListPartners()
	require.NoError(t, err)
	require.Len(t, partners, 3)
	require.Equal(t, "b", partners[0].Name)
	require.Equal(t, "c", partners[1].Name)
	require.Equal(t, "d", partners[2].Name)
}

func TestPaymentRequestLifecycle(t *testing.T) {
	store := newTestStore(t)
	publisher := makeAddress(1)
	borrower := makeAddress(2)
	now := time.Unix(1_700_000_000, 0).UTC()

	created, err := store.CreatePaymentRequest(publisher, borrower, big.NewInt(1_000_000_000), 400, "august invoice", now)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, RequestStatusPending, created.Status)
	require.Equal(t, "august invoice", created.Note)

	got, ok, err := store.GetPaymentRequest(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, got.AmountUSDC.Cmp(big.NewInt(1_000_000_000)))
	require.True(t, got.CreatedAt.Equal(now))

	_, err = store.ResolvePaymentRequest(created.ID, "settled", now)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = store.ResolvePaymentRequest("missing", RequestStatusFunded, now)
	require.ErrorIs(t, err, ErrNotFound)

	resolved, err := store.ResolvePaymentRequest(created.ID, RequestStatusFunded, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, RequestStatusFunded, resolved.Status)
	require.True(t, resolved.UpdatedAt.Equal(now.Add(time.Minute)))

	_, err = store.ResolvePaymentRequest(created.ID, RequestStatusRejected, now)
	require.ErrorIs(t, err, ErrRequestClosed)
}

func TestCreatePaymentRequestValidation(t *testing.T) {
	store := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.CreatePaymentRequest(makeAddress(1), makeAddress(2), nil, 100, "", now)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = store.CreatePaymentRequest(makeAddress(1), makeAddress(2), big.NewInt(0), 100, "", now)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = store.CreatePaymentRequest(makeAddress(1), makeAddress(2), big.NewInt(1), 10_001, "", now)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestListPaymentRequestsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	base := time.Unix(1_700_000_000, 0).UTC()

	first, err := store.CreatePaymentRequest(makeAddress(1), makeAddress(2), big.NewInt(100), 0, "", base)
	require.NoError(t, err)
	second, err := store.CreatePaymentRequest(makeAddress(1), makeAddress(2), big.NewInt(200), 0, "", base.Add(time.Second))
	require.NoError(t, err)
	third, err := store.CreatePaymentRequest(makeAddress(3), makeAddress(2), big.NewInt(300), 0, "", base.Add(2*time.Second))
	require.NoError(t, err)

	_, err = store.ResolvePaymentRequest(second.ID, RequestStatusRejected, base.Add(time.Minute))
	require.NoError(t, err)

	all, err := store.ListPaymentRequests("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, first.ID, all[0].ID)
	require.Equal(t, second.ID, all[1].ID)
	require.Equal(t, third.ID, all[2].ID)

	pending, err := store.ListPaymentRequests(RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	rejected, err := store.ListPaymentRequests(RequestStatusRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, second.ID, rejected[0].ID)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	now := time.Unix(1_700_000_000, 0).UTC()

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	_, err = store.MutatePartner(makeAddress(1), true, func(p *Partner) error {
		p.Name = "persisted"
		return nil
	})
	require.NoError(t, err)
	request, err := store.CreatePaymentRequest(makeAddress(1), makeAddress(2), big.NewInt(42), 0, "", now)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	partner, ok, err := reopened.GetPartner(makeAddress(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", partner.Name)

	got, ok, err := reopened.GetPaymentRequest(request.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, got.AmountUSDC.Cmp(big.NewInt(42)))
}
