// Package ledger is the group expense ledger: units of work over the store,
// the balance engine, and the settlement planner.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/events"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
	"gitlab.com/yelinaung/ledger-bot/internal/repository"
	"gitlab.com/yelinaung/ledger-bot/internal/split"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "gitlab.com/yelinaung/ledger-bot/internal/ledger"

// List limits.
const (
	DefaultRecentLimit = 10
	MaxListLimit       = 100
)

// Options tune a Service.
type Options struct {
	// CheckInvariants re-sums the chat after every balance change.
	CheckInvariants bool
	// RecentLimit is the page size used when a caller passes limit <= 0.
	RecentLimit int
}

// Service runs every ledger operation as one database transaction. Mutating
// operations lock the chat row first, so changes within a chat are applied
// one at a time while different chats proceed in parallel.
type Service struct {
	db        database.TxBeginner
	publisher events.Publisher
	engine    *BalanceEngine
	opts      Options
	now       func() time.Time

	tracer     trace.Tracer
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewService creates a Service. A nil publisher discards events.
func NewService(db database.TxBeginner, publisher events.Publisher, opts Options) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}

	meter := otel.Meter(instrumentationName)
	operations, err := meter.Int64Counter("ledger.operations",
		metric.WithDescription("Ledger operations by outcome"))
	if err != nil {
		otel.Handle(err)
	}
	duration, err := meter.Float64Histogram("ledger.operation.duration",
		metric.WithDescription("Ledger operation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		otel.Handle(err)
	}

	return &Service{
		db:         db,
		publisher:  publisher,
		engine:     NewBalanceEngine(opts.CheckInvariants),
		opts:       opts,
		now:        time.Now,
		tracer:     otel.Tracer(instrumentationName),
		operations: operations,
		duration:   duration,
	}
}

// inTx runs fn in a transaction and publishes the events it emitted after commit.
// Any error rolls the transaction back; non-domain errors come back as ErrServer.
func (s *Service) inTx(ctx context.Context, op string, chatExt int64, fn func(ctx context.Context, u *unit) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.chat", logger.HashChatID(chatExt)),
	))
	defer span.End()
	start := time.Now()

	err := s.runTx(ctx, fn)
	s.observe(ctx, span, op, start, err)
	return err
}

func (s *Service) runTx(ctx context.Context, fn func(ctx context.Context, u *unit) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	u := newUnit(tx)
	if err := fn(ctx, u); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	for _, event := range u.pending {
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.ForChat(event.ChatID).Warn().Err(err).Str("event", event.Type).Msg("Failed to publish ledger event")
		}
	}
	return nil
}

func (s *Service) observe(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsDomainError(err):
		outcome = "rejected"
		span.SetAttributes(attribute.String("ledger.rejection", err.Error()))
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	if s.operations != nil {
		s.operations.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
}

func (s *Service) event(eventType string, chatExt, userExt, refID int64, amount decimal.Decimal) events.Event {
	return events.Event{
		Type:      eventType,
		ChatID:    chatExt,
		UserID:    userExt,
		RefID:     refID,
		Amount:    amount,
		Timestamp: s.now().UTC(),
	}
}

// RegisterUser records or refreshes a Telegram user's profile.
func (s *Service) RegisterUser(ctx context.Context, userExt int64, profile models.Profile) error {
	return s.inTx(ctx, "register_user", 0, func(ctx context.Context, u *unit) error {
		_, err := u.users.GetOrCreate(ctx, userExt, profile)
		return err
	})
}

// EnsureMember provisions the chat, the user, the membership and a zero
// balance row. Calling it again for the same pair changes nothing.
func (s *Service) EnsureMember(ctx context.Context, chatExt, userExt int64, profile models.Profile) error {
	return s.inTx(ctx, "ensure_member", chatExt, func(ctx context.Context, u *unit) error {
		if _, err := u.chats.GetOrCreate(ctx, chatExt); err != nil {
			return err
		}
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		user, err := u.users.GetOrCreate(ctx, userExt, profile)
		if err != nil {
			return err
		}
		return s.join(ctx, u, chat, user)
	})
}

func (s *Service) join(ctx context.Context, u *unit, chat *models.Chat, user *models.User) error {
	added, err := u.members.Add(ctx, chat.ID, user.ID)
	if err != nil {
		return err
	}
	if err := u.balances.Ensure(ctx, chat.ID, user.ID); err != nil {
		return err
	}
	if added {
		balance, err := u.balances.Get(ctx, chat.ID, user.ID)
		if err != nil {
			return err
		}
		u.emit(s.event(events.TypeMemberJoined, chat.ExternalID, user.ExternalID, 0, balance))
	}
	return nil
}

// Leave ends the user's membership. The balance row stays, so a later
// rejoin continues from the same balance. It reports whether the user was a member.
func (s *Service) Leave(ctx context.Context, chatExt, userExt int64) (bool, error) {
	var removed bool
	err := s.inTx(ctx, "leave", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		user, err := u.users.GetByExternalID(ctx, userExt)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed, err = s.leave(ctx, u, chat, user)
		return err
	})
	return removed, err
}

func (s *Service) leave(ctx context.Context, u *unit, chat *models.Chat, user *models.User) (bool, error) {
	removed, err := u.members.Remove(ctx, chat.ID, user.ID)
	if err != nil || !removed {
		return false, err
	}
	balance, err := u.balances.Get(ctx, chat.ID, user.ID)
	if err != nil {
		return false, err
	}
	u.emit(s.event(events.TypeMemberLeft, chat.ExternalID, user.ExternalID, 0, balance))
	return true, nil
}

// AddMemberByUsername adds an already registered user to the chat.
func (s *Service) AddMemberByUsername(ctx context.Context, chatExt int64, username string) (bool, error) {
	var added bool
	err := s.inTx(ctx, "add_member", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		user, err := u.users.GetByUsername(ctx, username)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotRegistered
		}
		if err != nil {
			return err
		}
		wasMember, err := u.members.IsMember(ctx, chat.ID, user.ID)
		if err != nil {
			return err
		}
		added = !wasMember
		return s.join(ctx, u, chat, user)
	})
	return added, err
}

// RemoveMemberByUsername removes a member by username. Like Leave, the
// balance row is kept.
func (s *Service) RemoveMemberByUsername(ctx context.Context, chatExt int64, username string) (bool, error) {
	var removed bool
	err := s.inTx(ctx, "remove_member", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		user, err := u.users.GetByUsername(ctx, username)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotRegistered
		}
		if err != nil {
			return err
		}
		removed, err = s.leave(ctx, u, chat, user)
		return err
	})
	return removed, err
}

// AddExpense records an expense paid by payerExt and split per rawSplit
// among current members. An empty rawSplit splits equally across all of them.
func (s *Service) AddExpense(
	ctx context.Context,
	chatExt, payerExt int64,
	amount decimal.Decimal,
	description, rawSplit string,
) (int64, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return 0, err
	}
	description = normalizeDescription(description)

	var expenseID int64
	err = s.inTx(ctx, "add_expense", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		payer, err := u.member(ctx, chat, payerExt)
		if err != nil {
			return err
		}

		members, err := u.members.List(ctx, chat.ID)
		if err != nil {
			return err
		}
		candidates := make([]split.Member, len(members))
		for i, m := range members {
			candidates[i] = split.Member{UserID: m.User.ID, ExternalID: m.User.ExternalID, Username: m.User.Username}
		}

		plan, err := split.Parse(rawSplit, amount, payer.ID, candidates)
		if err != nil {
			return err
		}

		expense := &models.Expense{
			ChatID:      chat.ID,
			PayerID:     payer.ID,
			Amount:      amount,
			Description: description,
		}
		splits := make([]models.ExpenseSplit, len(plan.Allocations))
		for i, a := range plan.Allocations {
			splits[i] = models.ExpenseSplit{UserID: a.UserID, Amount: a.Amount}
		}
		if err := u.expenses.Append(ctx, expense, splits); err != nil {
			return err
		}
		if err := s.engine.ApplyExpense(ctx, u.tx, expense, Apply); err != nil {
			return err
		}

		expenseID = expense.ID
		u.emit(s.event(events.TypeExpenseAdded, chatExt, payerExt, expense.ID, amount))
		logger.ForChat(chatExt).Debug().
			Int64("expense_id", expense.ID).
			Str("mode", plan.Mode.String()).
			Str("description", logger.SanitizeDescription(description)).
			Msg("Expense added")
		return nil
	})
	return expenseID, err
}

// RemoveExpense reverses a live expense of the chat: the inverse balance
// change is applied and the expense is marked reversed, never deleted.
func (s *Service) RemoveExpense(ctx context.Context, chatExt, expenseID int64) error {
	return s.inTx(ctx, "remove_expense", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		expense, err := u.expenses.GetByID(ctx, chat.ID, expenseID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if expense.Reversed() {
			return ErrNotFound
		}

		ok, err := u.expenses.MarkReversed(ctx, chat.ID, expense.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if err := s.engine.ApplyExpense(ctx, u.tx, expense, Reverse); err != nil {
			return err
		}

		u.emit(s.event(events.TypeExpenseReversed, chatExt, expense.Payer.ExternalID, expense.ID, expense.Amount))
		return nil
	})
}

// RecordPayment records fromExt paying toExt directly. Both must be distinct
// current members and the amount must be positive.
func (s *Service) RecordPayment(ctx context.Context, chatExt, fromExt, toExt int64, amount decimal.Decimal) (int64, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return 0, err
	}

	var paymentID int64
	err = s.inTx(ctx, "record_payment", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		from, err := u.paymentParty(ctx, chat, fromExt)
		if err != nil {
			return err
		}
		to, err := u.paymentParty(ctx, chat, toExt)
		if err != nil {
			return err
		}
		paymentID, err = s.recordPayment(ctx, u, chat, from, to, amount)
		return err
	})
	return paymentID, err
}

// RecordPaymentToUsername is RecordPayment with the recipient given as "@username".
func (s *Service) RecordPaymentToUsername(
	ctx context.Context,
	chatExt, fromExt int64,
	toUsername string,
	amount decimal.Decimal,
) (int64, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return 0, err
	}

	var paymentID int64
	err = s.inTx(ctx, "record_payment", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.lockChat(ctx, chatExt)
		if err != nil {
			return err
		}
		from, err := u.paymentParty(ctx, chat, fromExt)
		if err != nil {
			return err
		}
		toUser, err := u.users.GetByUsername(ctx, toUsername)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownMember, toUsername)
		}
		if err != nil {
			return err
		}
		to, err := u.requireMember(ctx, chat, toUser)
		if err != nil {
			return err
		}
		paymentID, err = s.recordPayment(ctx, u, chat, from, to, amount)
		return err
	})
	return paymentID, err
}

func (s *Service) recordPayment(
	ctx context.Context,
	u *unit,
	chat *models.Chat,
	from, to *models.User,
	amount decimal.Decimal,
) (int64, error) {
	if from.ID == to.ID {
		return 0, fmt.Errorf("%w: cannot pay yourself", ErrNotMember)
	}

	payment := &models.Payment{
		ChatID:     chat.ID,
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     amount,
	}
	if err := u.payments.Append(ctx, payment); err != nil {
		return 0, err
	}
	if err := s.engine.ApplyPayment(ctx, u.tx, payment, Apply); err != nil {
		return 0, err
	}

	u.emit(s.event(events.TypePaymentRecorded, chat.ExternalID, from.ExternalID, payment.ID, amount))
	return payment.ID, nil
}

// ListMembers returns the chat's current members in join order.
func (s *Service) ListMembers(ctx context.Context, chatExt int64) ([]models.MemberView, error) {
	var views []models.MemberView
	err := s.inTx(ctx, "list_members", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		members, err := u.members.List(ctx, chat.ID)
		if err != nil {
			return err
		}
		views = make([]models.MemberView, len(members))
		for i, m := range members {
			views[i] = models.MemberView{UserID: m.User.ExternalID, Member: m.User.DisplayName(), JoinedAt: m.JoinedAt}
		}
		return nil
	})
	return views, err
}

// ListRecentExpenses returns the newest live expenses, newest first.
// A limit <= 0 uses the configured default.
func (s *Service) ListRecentExpenses(ctx context.Context, chatExt int64, limit int) ([]models.ExpenseView, error) {
	limit = s.pageSize(limit)

	var views []models.ExpenseView
	err := s.inTx(ctx, "list_expenses", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		expenses, err := u.expenses.ListByChat(ctx, chat.ID, limit)
		if err != nil {
			return err
		}
		views = expenseViews(expenses)
		return nil
	})
	return views, err
}

// ExportExpenses returns every live expense of the chat, oldest first.
func (s *Service) ExportExpenses(ctx context.Context, chatExt int64) ([]models.ExpenseView, error) {
	var views []models.ExpenseView
	err := s.inTx(ctx, "export_expenses", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		expenses, err := u.expenses.ListAllByChat(ctx, chat.ID)
		if err != nil {
			return err
		}
		views = expenseViews(expenses)
		return nil
	})
	return views, err
}

// ListRecentPayments returns the newest payments, newest first.
func (s *Service) ListRecentPayments(ctx context.Context, chatExt int64, limit int) ([]models.PaymentView, error) {
	limit = s.pageSize(limit)

	var views []models.PaymentView
	err := s.inTx(ctx, "list_payments", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		payments, err := u.payments.ListByChat(ctx, chat.ID, limit)
		if err != nil {
			return err
		}
		views = make([]models.PaymentView, len(payments))
		for i, p := range payments {
			views[i] = models.PaymentView{
				ID:        p.ID,
				From:      p.FromUser.DisplayName(),
				To:        p.ToUser.DisplayName(),
				Amount:    p.Amount,
				CreatedAt: p.CreatedAt,
			}
		}
		return nil
	})
	return views, err
}

// ListBalances returns every current member's balance plus departed members
// who still carry a non-zero balance, ordered by internal user ID.
func (s *Service) ListBalances(ctx context.Context, chatExt int64) ([]models.BalanceView, error) {
	var views []models.BalanceView
	err := s.inTx(ctx, "list_balances", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		balances, err := u.balances.ListByChat(ctx, chat.ID)
		if err != nil {
			return err
		}
		for _, b := range balances {
			if !b.Active && b.Amount.IsZero() {
				continue
			}
			views = append(views, models.BalanceView{
				UserID: b.User.ExternalID,
				Member: b.User.DisplayName(),
				Amount: b.Amount,
				Active: b.Active,
			})
		}
		return nil
	})
	return views, err
}

// SuggestSettlement plans the transfers that bring current members to zero.
// Departed members keep their balance for history but take no part in
// settlement.
func (s *Service) SuggestSettlement(ctx context.Context, chatExt int64) ([]models.TransferSuggestion, error) {
	var suggestions []models.TransferSuggestion
	err := s.inTx(ctx, "suggest_settlement", chatExt, func(ctx context.Context, u *unit) error {
		chat, err := u.findChat(ctx, chatExt)
		if err != nil {
			return err
		}
		balances, err := u.balances.ListByChat(ctx, chat.ID)
		if err != nil {
			return err
		}

		users := make(map[int64]*models.User, len(balances))
		input := make([]MemberBalance, 0, len(balances))
		for _, b := range balances {
			if !b.Active {
				continue
			}
			users[b.UserID] = b.User
			input = append(input, MemberBalance{UserID: b.UserID, Amount: b.Amount})
		}

		for _, t := range PlanSettlement(input) {
			from, to := users[t.FromUserID], users[t.ToUserID]
			suggestions = append(suggestions, models.TransferSuggestion{
				FromUserID: from.ExternalID,
				ToUserID:   to.ExternalID,
				From:       from.DisplayName(),
				To:         to.DisplayName(),
				Amount:     t.Amount,
			})
		}
		return nil
	})
	return suggestions, err
}

func (s *Service) pageSize(limit int) int {
	if limit <= 0 {
		limit = s.opts.RecentLimit
	}
	return min(limit, MaxListLimit)
}

func expenseViews(expenses []models.Expense) []models.ExpenseView {
	views := make([]models.ExpenseView, len(expenses))
	for i, e := range expenses {
		splits := make([]models.SplitView, len(e.Splits))
		for j, sp := range e.Splits {
			splits[j] = models.SplitView{Member: sp.User.DisplayName(), Amount: sp.Amount}
		}
		views[i] = models.ExpenseView{
			ID:          e.ID,
			PaidBy:      e.Payer.DisplayName(),
			Amount:      e.Amount,
			Description: e.Description,
			Splits:      splits,
			CreatedAt:   e.CreatedAt,
		}
	}
	return views
}

// normalizeAmount rounds to cents and requires a positive, storable value.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(models.MoneyPlaces)
	if !amount.IsPositive() || amount.GreaterThan(split.MaxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

func normalizeDescription(description string) string {
	description = strings.Join(strings.Fields(description), " ")
	if utf8.RuneCountInString(description) > models.MaxDescriptionLength {
		description = string([]rune(description)[:models.MaxDescriptionLength])
	}
	return description
}
