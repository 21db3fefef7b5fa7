package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/events"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
	"golang.org/x/sync/errgroup"
)

var externalSeq atomic.Int64

func init() {
	externalSeq.Store(time.Now().UnixNano() % 1_000_000_000)
}

func nextExternalID() int64 {
	return externalSeq.Add(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	ctx       context.Context
	svc       *Service
	publisher *recordingPublisher
	chat      int64
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	publisher := &recordingPublisher{}
	return &harness{
		ctx:       context.Background(),
		svc:       NewService(database.TestTx(t), publisher, opts),
		publisher: publisher,
		chat:      -nextExternalID(),
	}
}

// join registers a new member named username and returns their Telegram ID.
func (h *harness) join(t *testing.T, username string) int64 {
	t.Helper()
	id := nextExternalID()
	require.NoError(t, h.svc.EnsureMember(h.ctx, h.chat, id, models.Profile{Username: username, FirstName: username}))
	return id
}

func (h *harness) balances(t *testing.T) map[int64]string {
	t.Helper()
	views, err := h.svc.ListBalances(h.ctx, h.chat)
	require.NoError(t, err)
	out := make(map[int64]string, len(views))
	for _, v := range views {
		out[v.UserID] = v.Amount.StringFixed(2)
	}
	return out
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, nextExternalID())
}

func TestService_ThreeMemberScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{CheckInvariants: true})

	a := h.join(t, uniqueName("a"))
	b := h.join(t, uniqueName("b"))
	c := h.join(t, uniqueName("c"))

	_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("90"), "dinner", "")
	require.NoError(t, err)
	require.Equal(t, map[int64]string{a: "60.00", b: "-30.00", c: "-30.00"}, h.balances(t))

	_, err = h.svc.RecordPayment(h.ctx, h.chat, b, a, dec("30"))
	require.NoError(t, err)
	require.Equal(t, map[int64]string{a: "30.00", b: "0.00", c: "-30.00"}, h.balances(t))

	suggestions, err := h.svc.SuggestSettlement(h.ctx, h.chat)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, c, suggestions[0].FromUserID)
	require.Equal(t, a, suggestions[0].ToUserID)
	require.Equal(t, "30.00", suggestions[0].Amount.StringFixed(2))

	require.Equal(t, []string{
		events.TypeMemberJoined, events.TypeMemberJoined, events.TypeMemberJoined,
		events.TypeExpenseAdded, events.TypePaymentRecorded,
	}, h.publisher.types())
}

func TestService_AddExpense(t *testing.T) {
	t.Parallel()

	t.Run("mismatched exact split changes nothing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		aName, bName := uniqueName("a"), uniqueName("b")
		a := h.join(t, aName)
		b := h.join(t, bName)

		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("50"), "tickets", "@"+aName+"=20 @"+bName+"=20")
		require.ErrorIs(t, err, ErrAmountMismatch)
		require.Equal(t, map[int64]string{a: "0.00", b: "0.00"}, h.balances(t))

		expenses, err := h.svc.ListRecentExpenses(h.ctx, h.chat, 0)
		require.NoError(t, err)
		require.Empty(t, expenses)
	})

	t.Run("subset split by mention", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{CheckInvariants: true})
		bName := uniqueName("b")
		a := h.join(t, uniqueName("a"))
		b := h.join(t, bName)
		c := h.join(t, uniqueName("c"))

		id, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("10"), "  taxi   ride ", "@me @"+bName)
		require.NoError(t, err)
		require.Positive(t, id)
		require.Equal(t, map[int64]string{a: "5.00", b: "-5.00", c: "0.00"}, h.balances(t))

		expenses, err := h.svc.ListRecentExpenses(h.ctx, h.chat, 0)
		require.NoError(t, err)
		require.Len(t, expenses, 1)
		require.Equal(t, "taxi ride", expenses[0].Description)
		require.Len(t, expenses[0].Splits, 2)
	})

	t.Run("account id names a member without username", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{CheckInvariants: true})
		a := h.join(t, uniqueName("a"))
		d := nextExternalID()
		require.NoError(t, h.svc.EnsureMember(h.ctx, h.chat, d, models.Profile{FirstName: "Dana"}))

		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("10"), "snacks", fmt.Sprintf("@me @%d", d))
		require.NoError(t, err)
		require.Equal(t, map[int64]string{a: "5.00", d: "-5.00"}, h.balances(t))
	})

	t.Run("payer must be a member", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		h.join(t, uniqueName("a"))
		outsider := nextExternalID()
		require.NoError(t, h.svc.RegisterUser(h.ctx, outsider, models.Profile{FirstName: "Out"}))

		_, err := h.svc.AddExpense(h.ctx, h.chat, outsider, dec("10"), "", "")
		require.ErrorIs(t, err, ErrNotMember)

		_, err = h.svc.AddExpense(h.ctx, h.chat, nextExternalID(), dec("10"), "", "")
		require.ErrorIs(t, err, ErrUserNotRegistered)
	})

	t.Run("unknown chat", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		_, err := h.svc.AddExpense(h.ctx, h.chat, nextExternalID(), dec("10"), "", "")
		require.ErrorIs(t, err, ErrChatNotFound)
	})

	t.Run("invalid amount", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		a := h.join(t, uniqueName("a"))
		for _, amount := range []string{"0", "-3", "0.004", "10000000000"} {
			_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec(amount), "", "")
			require.ErrorIs(t, err, ErrInvalidAmount, amount)
		}
	})

	t.Run("unknown mention", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		a := h.join(t, uniqueName("a"))
		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("10"), "", "@nobody_here")
		require.ErrorIs(t, err, ErrUnknownMember)
	})
}

func TestService_RemoveExpense(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{CheckInvariants: true})
	a := h.join(t, uniqueName("a"))
	b := h.join(t, uniqueName("b"))

	id, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("25.01"), "groceries", "")
	require.NoError(t, err)
	require.Equal(t, map[int64]string{a: "12.50", b: "-12.50"}, h.balances(t))

	require.NoError(t, h.svc.RemoveExpense(h.ctx, h.chat, id))
	require.Equal(t, map[int64]string{a: "0.00", b: "0.00"}, h.balances(t))

	require.ErrorIs(t, h.svc.RemoveExpense(h.ctx, h.chat, id), ErrNotFound)
	require.ErrorIs(t, h.svc.RemoveExpense(h.ctx, h.chat, id+1_000_000), ErrNotFound)

	expenses, err := h.svc.ListRecentExpenses(h.ctx, h.chat, 5)
	require.NoError(t, err)
	require.Empty(t, expenses)
	require.Contains(t, h.publisher.types(), events.TypeExpenseReversed)
}

func TestService_RecordPayment(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{CheckInvariants: true})
	aName := uniqueName("a")
	a := h.join(t, aName)
	b := h.join(t, uniqueName("b"))

	_, err := h.svc.RecordPayment(h.ctx, h.chat, a, a, dec("5"))
	require.ErrorIs(t, err, ErrNotMember)

	_, err = h.svc.RecordPayment(h.ctx, h.chat, a, nextExternalID(), dec("5"))
	require.ErrorIs(t, err, ErrNotMember)

	_, err = h.svc.RecordPayment(h.ctx, h.chat, a, b, dec("0"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.svc.RecordPaymentToUsername(h.ctx, h.chat, b, "@"+aName, dec("7.5"))
	require.NoError(t, err)
	require.Equal(t, map[int64]string{a: "-7.50", b: "7.50"}, h.balances(t))

	_, err = h.svc.RecordPaymentToUsername(h.ctx, h.chat, b, "@ghost_user_zz", dec("1"))
	require.ErrorIs(t, err, ErrUnknownMember)

	payments, err := h.svc.ListRecentPayments(h.ctx, h.chat, 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "@"+aName, payments[0].To)
}

func TestService_Membership(t *testing.T) {
	t.Parallel()

	t.Run("ensure member is idempotent", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		id := nextExternalID()
		profile := models.Profile{Username: uniqueName("dup")}
		for range 3 {
			require.NoError(t, h.svc.EnsureMember(h.ctx, h.chat, id, profile))
		}
		members, err := h.svc.ListMembers(h.ctx, h.chat)
		require.NoError(t, err)
		require.Len(t, members, 1)
		require.Equal(t, []string{events.TypeMemberJoined}, h.publisher.types())
	})

	t.Run("leave and rejoin keeps the balance", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{CheckInvariants: true})
		aName, bName := uniqueName("a"), uniqueName("b")
		a := h.join(t, aName)
		b := h.join(t, bName)
		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("20"), "", "")
		require.NoError(t, err)

		left, err := h.svc.Leave(h.ctx, h.chat, b)
		require.NoError(t, err)
		require.True(t, left)

		left, err = h.svc.Leave(h.ctx, h.chat, b)
		require.NoError(t, err)
		require.False(t, left)

		views, err := h.svc.ListBalances(h.ctx, h.chat)
		require.NoError(t, err)
		require.Len(t, views, 2)
		for _, v := range views {
			require.Equal(t, v.UserID == a, v.Active)
		}

		suggestions, err := h.svc.SuggestSettlement(h.ctx, h.chat)
		require.NoError(t, err)
		require.Empty(t, suggestions)

		_, err = h.svc.AddExpense(h.ctx, h.chat, a, dec("5"), "", "@"+bName)
		require.ErrorIs(t, err, ErrUnknownMember)

		require.NoError(t, h.svc.EnsureMember(h.ctx, h.chat, b, models.Profile{Username: bName}))
		require.Equal(t, map[int64]string{a: "10.00", b: "-10.00"}, h.balances(t))
	})

	t.Run("departed member is left out of settlement", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{CheckInvariants: true})
		a := h.join(t, uniqueName("a"))
		b := h.join(t, uniqueName("b"))
		c := h.join(t, uniqueName("c"))
		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("30"), "", "")
		require.NoError(t, err)

		_, err = h.svc.Leave(h.ctx, h.chat, c)
		require.NoError(t, err)
		require.Equal(t, map[int64]string{a: "20.00", b: "-10.00", c: "-10.00"}, h.balances(t))

		suggestions, err := h.svc.SuggestSettlement(h.ctx, h.chat)
		require.NoError(t, err)
		require.Len(t, suggestions, 1)
		require.Equal(t, b, suggestions[0].FromUserID)
		require.Equal(t, a, suggestions[0].ToUserID)
		require.Equal(t, "10.00", suggestions[0].Amount.StringFixed(2))
		for _, s := range suggestions {
			require.NotEqual(t, c, s.FromUserID)
			require.NotEqual(t, c, s.ToUserID)
		}
	})

	t.Run("departed member with zero balance is hidden", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		a := h.join(t, uniqueName("a"))
		b := h.join(t, uniqueName("b"))
		_, err := h.svc.Leave(h.ctx, h.chat, b)
		require.NoError(t, err)
		require.Equal(t, map[int64]string{a: "0.00"}, h.balances(t))
	})

	t.Run("add and remove by username", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		h.join(t, uniqueName("a"))
		name := uniqueName("late")
		require.NoError(t, h.svc.RegisterUser(h.ctx, nextExternalID(), models.Profile{Username: name}))

		added, err := h.svc.AddMemberByUsername(h.ctx, h.chat, "@"+name)
		require.NoError(t, err)
		require.True(t, added)

		added, err = h.svc.AddMemberByUsername(h.ctx, h.chat, name)
		require.NoError(t, err)
		require.False(t, added)

		_, err = h.svc.AddMemberByUsername(h.ctx, h.chat, "@never_seen_zz")
		require.ErrorIs(t, err, ErrUserNotRegistered)

		removed, err := h.svc.RemoveMemberByUsername(h.ctx, h.chat, name)
		require.NoError(t, err)
		require.True(t, removed)

		members, err := h.svc.ListMembers(h.ctx, h.chat)
		require.NoError(t, err)
		require.Len(t, members, 1)
	})

	t.Run("leave unknown user", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Options{})
		h.join(t, uniqueName("a"))
		left, err := h.svc.Leave(h.ctx, h.chat, nextExternalID())
		require.NoError(t, err)
		require.False(t, left)
	})
}

func TestService_Reads(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{RecentLimit: 2})
	a := h.join(t, uniqueName("a"))

	_, err := h.svc.ListBalances(h.ctx, -nextExternalID())
	require.ErrorIs(t, err, ErrChatNotFound)

	for _, desc := range []string{"one", "two", "three"} {
		_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("1"), desc, "")
		require.NoError(t, err)
	}

	recent, err := h.svc.ListRecentExpenses(h.ctx, h.chat, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "three", recent[0].Description)

	all, err := h.svc.ExportExpenses(h.ctx, h.chat)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "one", all[0].Description)

	suggestions, err := h.svc.SuggestSettlement(h.ctx, h.chat)
	require.NoError(t, err)
	require.Empty(t, suggestions)
}

func TestService_PublishFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.publisher.err = errors.New("broker down")

	a := h.join(t, uniqueName("a"))
	_, err := h.svc.AddExpense(h.ctx, h.chat, a, dec("3"), "", "")
	require.NoError(t, err)
	require.Equal(t, map[int64]string{a: "0.00"}, h.balances(t))
}

func TestService_ConcurrentEnsureMember(t *testing.T) {
	pool := database.TestPool(t)
	ctx := context.Background()
	svc := NewService(pool, &recordingPublisher{}, Options{CheckInvariants: true})
	chat := -nextExternalID()

	ids := make([]int64, 8)
	for i := range ids {
		ids[i] = nextExternalID()
	}

	var g errgroup.Group
	for _, id := range ids {
		for range 3 {
			g.Go(func() error {
				return svc.EnsureMember(ctx, chat, id, models.Profile{FirstName: "Racer"})
			})
		}
	}
	require.NoError(t, g.Wait())

	members, err := svc.ListMembers(ctx, chat)
	require.NoError(t, err)
	require.Len(t, members, len(ids))

	g = errgroup.Group{}
	for _, payer := range ids {
		g.Go(func() error {
			_, err := svc.AddExpense(ctx, chat, payer, dec("8"), "", "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	balances, err := svc.ListBalances(ctx, chat)
	require.NoError(t, err)
	for _, b := range balances {
		require.Equal(t, "0.00", b.Amount.StringFixed(2))
	}
}
