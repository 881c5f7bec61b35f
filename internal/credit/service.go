// AngelaMos | 2026
// service.go

package credit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storywork/storywork-api/internal/core"
)

type ServiceConfig struct {
	Repo    Repository
	Agents  AgentDirectory
	Unified UnifiedStore
	Remote  RemoteAuthority
	Logger  *slog.Logger
}

// Service is the credit ledger. It decides which pool pays for a spend and
// keeps a log row for every movement it makes.
type Service struct {
	repo    Repository
	agents  AgentDirectory
	unified UnifiedStore
	remote  RemoteAuthority
	logger  *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    cfg.Repo,
		agents:  cfg.Agents,
		unified: cfg.Unified,
		remote:  cfg.Remote,
		logger:  logger,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	_, balance, err := s.localBalance(ctx, userID)
	return balance, err
}

func (s *Service) localBalance(
	ctx context.Context,
	userID string,
) (*Account, *Balance, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	spent, err := s.repo.LifetimeSpent(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	return account, &Balance{
		Balance:        account.CreditBalance,
		LifetimeEarned: account.LifetimeCredits,
		LifetimeSpent:  spent,
	}, nil
}

// SpendCredits debits amount, trying the linked ASM Portal balance first
// and the local balance second. A portal that is down or short on funds
// never blocks the local spend.
func (s *Service) SpendCredits(
	ctx context.Context,
	userID string,
	amount int,
	txType TransactionType,
	description string,
) Result {
	ctx, span := core.StartSpan(ctx, "credit.SpendCredits",
		attribute.String("user.id", userID),
		attribute.Int("credit.amount", amount),
		attribute.String("credit.type", string(txType)),
	)
	defer span.End()

	if amount <= 0 {
		return failed(0, MsgInvalidAmount)
	}
	if !txType.Valid() {
		return failed(0, MsgInvalidType)
	}

	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return failed(0, MsgUserNotFound)
		}
		core.SetSpanError(ctx, err)
		s.logger.Error("load account for spend", "user_id", userID, "error", err)
		return failed(0, MsgUpdateFailed)
	}

	if agentID := account.agentID(); agentID != "" {
		if result, ok := s.spendRemote(ctx, account, agentID, amount, txType, description); ok {
			return result
		}
	}

	balance, err := s.repo.Deduct(ctx, userID, amount, Entry{
		Type:        txType,
		Description: description,
		Source:      SourceLocal,
	})
	switch {
	case err == nil:
		return Result{Success: true, NewBalance: balance, Source: SourceLocal}
	case errors.Is(err, ErrInsufficientCredits):
		return failed(balance, MsgInsufficientCredits)
	case errors.Is(err, core.ErrNotFound):
		return failed(0, MsgUserNotFound)
	default:
		core.SetSpanError(ctx, err)
		s.logger.Error("local credit debit failed",
			"user_id", userID,
			"amount", amount,
			"error", err,
		)
		return failed(account.CreditBalance, MsgUpdateFailed)
	}
}

// spendRemote reports ok=false when the cascade should fall through to the
// local pool.
func (s *Service) spendRemote(
	ctx context.Context,
	account *Account,
	agentID string,
	amount int,
	txType TransactionType,
	description string,
) (Result, bool) {
	outcome := s.remote.Spend(ctx, RemoteSpendRequest{
		AgentID:     agentID,
		Amount:      amount,
		Type:        txType,
		Description: description,
	})

	switch o := outcome.(type) {
	case RemoteDebited:
		s.mirror(ctx, account.ID, amount, Entry{
			Type:        txType,
			Description: description,
			Source:      SourceRemote,
		})
		return Result{Success: true, NewBalance: o.NewBalance, Source: SourceRemote}, true
	case RemoteInsufficientFunds:
		s.logger.Info("asm portal declined spend, using local credits",
			"user_id", account.ID,
			"agent_id", agentID,
			"reason", o.Message,
		)
	case RemoteUnavailable:
		if errors.Is(o.Err, ErrPortalNotConfigured) {
			s.logger.Debug("asm portal not configured, using local credits",
				"user_id", account.ID,
			)
			break
		}
		s.logger.Warn("asm portal unavailable, using local credits",
			"user_id", account.ID,
			"agent_id", agentID,
			"error", o.Err,
		)
	}

	return Result{}, false
}

// mirror logs a debit another pool already took. The spend has happened,
// so a failure here is logged and not reported.
func (s *Service) mirror(ctx context.Context, userID string, amount int, entry Entry) {
	if err := s.repo.RecordMirror(ctx, userID, amount, entry); err != nil {
		s.logger.Warn("failed to record mirrored debit",
			"user_id", userID,
			"amount", amount,
			"source", entry.Source,
			"error", err,
		)
	}
}

func (s *Service) AddCredits(
	ctx context.Context,
	userID string,
	amount int,
	txType TransactionType,
	description string,
) Result {
	ctx, span := core.StartSpan(ctx, "credit.AddCredits",
		attribute.String("user.id", userID),
		attribute.Int("credit.amount", amount),
		attribute.String("credit.type", string(txType)),
	)
	defer span.End()

	if amount <= 0 {
		return failed(0, MsgInvalidAmount)
	}
	if !txType.Valid() {
		return failed(0, MsgInvalidType)
	}

	balance, err := s.repo.Add(ctx, userID, amount, Entry{
		Type:        txType,
		Description: description,
		Source:      SourceSubscription,
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return failed(0, MsgUserNotFound)
		}
		core.SetSpanError(ctx, err)
		s.logger.Error("credit grant failed",
			"user_id", userID,
			"amount", amount,
			"error", err,
		)
		return failed(0, MsgUpdateFailed)
	}

	return Result{Success: true, NewBalance: balance, Source: SourceSubscription}
}

// LinkAsmAccount links the user to the ASM agent registered under
// asmEmail, then registers both in the unified system on a best-effort
// basis.
func (s *Service) LinkAsmAccount(
	ctx context.Context,
	userID, asmEmail string,
) LinkResult {
	ctx, span := core.StartSpan(ctx, "credit.LinkAsmAccount",
		attribute.String("user.id", userID),
	)
	defer span.End()

	agent, err := s.agents.FindByEmail(ctx, strings.TrimSpace(asmEmail))
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Error("agent lookup failed", "user_id", userID, "error", err)
		}
		return LinkResult{Error: MsgAgentNotFound}
	}

	if err := s.repo.SetAgentLink(ctx, userID, agent.ID); err != nil {
		core.SetSpanError(ctx, err)
		s.logger.Error("set agent link failed",
			"user_id", userID,
			"agent_id", agent.ID,
			"error", err,
		)
		return LinkResult{Error: MsgLinkFailed}
	}

	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		s.logger.Warn("skipping unified link", "user_id", userID, "error", err)
		return LinkResult{Success: true}
	}

	agentID := agent.ID
	unifiedID, err := s.unified.GetOrCreateUnifiedUser(ctx, LinkUnifiedParams{
		Email:            account.Email,
		AsmAgentID:       &agentID,
		StoryworkUserID:  &account.ID,
		StoryworkClerkID: account.ExternalID,
	})
	if err != nil {
		s.logger.Warn("failed to link unified user",
			"user_id", userID,
			"agent_id", agentID,
			"error", err,
		)
		return LinkResult{Success: true}
	}

	unified, err := s.unified.GetUnifiedUser(ctx, unifiedID)
	if err != nil {
		s.logger.Warn("linked unified user not readable",
			"user_id", userID,
			"unified_user_id", unifiedID,
			"error", err,
		)
		return LinkResult{Success: true}
	}

	unifiedBalance := unified.CreditBalance
	return LinkResult{Success: true, UnifiedBalance: &unifiedBalance}
}

// GetUnifiedBalance adds the unified balance to the local view. The two
// pools stay separate; the sum is for display.
func (s *Service) GetUnifiedBalance(
	ctx context.Context,
	userID string,
) (*Balance, error) {
	account, balance, err := s.localBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	externalID := account.externalID()
	if externalID == "" {
		return balance, nil
	}

	unified, err := s.unified.GetUnifiedUserByExternalID(ctx, externalID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("unified balance lookup failed",
				"user_id", userID,
				"error", err,
			)
		}
		return balance, nil
	}

	unifiedBalance := unified.CreditBalance
	balance.UnifiedBalance = &unifiedBalance
	balance.Balance += unifiedBalance

	return balance, nil
}

type UnifiedSpendRequest struct {
	UserID         string
	Amount         int
	Type           TransactionType
	Description    string
	ReferenceID    string
	IdempotencyKey string
}

// SpendUnifiedCredits pays from the unified pool when its spendable
// balance covers the whole amount and otherwise runs SpendCredits.
// Retries of one logical spend must reuse the same IdempotencyKey; a
// replay returns the first outcome without another debit or log row.
func (s *Service) SpendUnifiedCredits(
	ctx context.Context,
	req UnifiedSpendRequest,
) Result {
	ctx, span := core.StartSpan(ctx, "credit.SpendUnifiedCredits",
		attribute.String("user.id", req.UserID),
		attribute.Int("credit.amount", req.Amount),
	)
	defer span.End()

	if req.Amount <= 0 {
		return failed(0, MsgInvalidAmount)
	}
	if !req.Type.Valid() {
		return failed(0, MsgInvalidType)
	}

	account, err := s.repo.GetAccount(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return failed(0, MsgUserNotFound)
		}
		s.logger.Error("load account for unified spend",
			"user_id", req.UserID,
			"error", err,
		)
		return failed(0, MsgUpdateFailed)
	}

	if result, ok := s.spendUnified(ctx, account, req); ok {
		return result
	}

	return s.SpendCredits(ctx, req.UserID, req.Amount, req.Type, req.Description)
}

// spendUnified reports ok=false when the unified pool declined and the
// cascade should fall through. The procedure checks the spendable balance
// under its row lock. A call that errors may still have debited, so it
// ends the spend as failed.
func (s *Service) spendUnified(
	ctx context.Context,
	account *Account,
	req UnifiedSpendRequest,
) (Result, bool) {
	externalID := account.externalID()
	if externalID == "" {
		return Result{}, false
	}

	unified, err := s.unified.GetUnifiedUserByExternalID(ctx, externalID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("unified user lookup failed",
				"user_id", account.ID,
				"error", err,
			)
		}
		return Result{}, false
	}

	key := req.IdempotencyKey
	if key == "" {
		key = core.NewIdempotencyKey()
	}

	params := SpendUnifiedParams{
		UnifiedUserID:  unified.ID,
		Amount:         req.Amount,
		Type:           req.Type,
		Description:    req.Description,
		IdempotencyKey: key,
	}
	if req.ReferenceID != "" {
		referenceID, referenceType := req.ReferenceID, referenceTypeStory
		params.ReferenceID = &referenceID
		params.ReferenceType = &referenceType
	}

	res, err := s.unified.SpendUnifiedCredits(ctx, params)
	if err != nil {
		core.SetSpanError(ctx, err)
		s.logger.Error("unified spend outcome unknown",
			"user_id", account.ID,
			"idempotency_key", key,
			"error", err,
		)
		return failed(0, MsgUpdateFailed), true
	}
	if !res.Success {
		s.logger.Info("unified spend declined, using local credits",
			"user_id", account.ID,
			"reason", errorText(res.Error),
		)
		return Result{}, false
	}

	if res.Replayed {
		s.logger.Debug("unified spend replayed",
			"user_id", account.ID,
			"idempotency_key", key,
		)
	} else {
		s.mirror(ctx, account.ID, req.Amount, Entry{
			Type:        req.Type,
			Description: req.Description,
			Source:      SourceUnified,
		})
	}

	return Result{Success: true, NewBalance: res.balance(), Source: SourceUnified}, true
}

// ReserveUnifiedCredits places a hold on the unified balance. The hold is
// settled by CommitReservation or dropped by ReleaseReservation.
func (s *Service) ReserveUnifiedCredits(
	ctx context.Context,
	userID string,
	amount int,
	purpose, referenceID string,
) ReserveResult {
	ctx, span := core.StartSpan(ctx, "credit.ReserveUnifiedCredits",
		attribute.String("user.id", userID),
		attribute.Int("credit.amount", amount),
	)
	defer span.End()

	if amount <= 0 {
		return ReserveResult{Error: MsgInvalidAmount}
	}

	unified, msg := s.unifiedUserFor(ctx, userID)
	if unified == nil {
		return ReserveResult{Error: msg}
	}

	params := ReserveParams{
		UnifiedUserID: unified.ID,
		Amount:        amount,
		Purpose:       purpose,
	}
	if referenceID != "" {
		referenceType := referenceTypeStory
		params.ReferenceID = &referenceID
		params.ReferenceType = &referenceType
	}

	res, err := s.unified.ReserveCredits(ctx, params)
	if err != nil {
		core.SetSpanError(ctx, err)
		return ReserveResult{Error: s.procedureError("reserve credits", err)}
	}
	if !res.Success || res.ReservationID == nil {
		return ReserveResult{Error: errorText(res.Error)}
	}

	return ReserveResult{Success: true, ReservationID: *res.ReservationID}
}

// unifiedUserFor resolves the unified user behind a Storywork user. On
// failure the user is nil and the message says why.
func (s *Service) unifiedUserFor(ctx context.Context, userID string) (*UnifiedUser, string) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil || account.externalID() == "" {
		return nil, MsgNotUnified
	}

	unified, err := s.unified.GetUnifiedUserByExternalID(ctx, account.externalID())
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("unified user lookup failed", "user_id", userID, "error", err)
		}
		return nil, MsgUnifiedUserNotFound
	}

	return unified, ""
}

// settleParams scopes a reservation to the caller. A caller without a
// unified user owns no reservations, so every miss reads as not found.
func (s *Service) settleParams(
	ctx context.Context,
	userID, reservationID string,
) (SettleParams, bool) {
	if uuid.Validate(reservationID) != nil {
		return SettleParams{}, false
	}

	unified, _ := s.unifiedUserFor(ctx, userID)
	if unified == nil {
		return SettleParams{}, false
	}

	return SettleParams{ReservationID: reservationID, UnifiedUserID: unified.ID}, true
}

// CommitReservation settles one of the caller's holds. Committing twice
// returns the first commit's balance.
func (s *Service) CommitReservation(
	ctx context.Context,
	userID, reservationID, idempotencyKey string,
) Result {
	ctx, span := core.StartSpan(ctx, "credit.CommitReservation",
		attribute.String("user.id", userID),
		attribute.String("reservation.id", reservationID),
	)
	defer span.End()

	params, ok := s.settleParams(ctx, userID, reservationID)
	if !ok {
		return failed(0, MsgReservationNotFound)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = &idempotencyKey
	}

	res, err := s.unified.CommitReservation(ctx, params)
	if err != nil {
		core.SetSpanError(ctx, err)
		return failed(0, s.procedureError("commit reservation", err))
	}
	if !res.Success {
		return failed(0, errorText(res.Error))
	}

	return Result{Success: true, NewBalance: res.balance(), Source: SourceUnified}
}

// ReleaseReservation drops one of the caller's holds. Success is the
// boolean outcome; releasing an already released hold succeeds again.
func (s *Service) ReleaseReservation(
	ctx context.Context,
	userID, reservationID string,
) Result {
	ctx, span := core.StartSpan(ctx, "credit.ReleaseReservation",
		attribute.String("user.id", userID),
		attribute.String("reservation.id", reservationID),
	)
	defer span.End()

	params, ok := s.settleParams(ctx, userID, reservationID)
	if !ok {
		return failed(0, MsgReservationNotFound)
	}

	res, err := s.unified.ReleaseReservation(ctx, params)
	if err != nil {
		core.SetSpanError(ctx, err)
		return failed(0, s.procedureError("release reservation", err))
	}
	if !res.Success {
		return failed(0, errorText(res.Error))
	}

	return Result{Success: true}
}

func (s *Service) ListTransactions(
	ctx context.Context,
	userID string,
	page, pageSize int,
) ([]Transaction, int, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.repo.ListTransactions(ctx, userID, pageSize, (page-1)*pageSize)
}

func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// procedureError surfaces the message a procedure raised. Anything else is
// an infrastructure failure and is logged instead of shown.
func (s *Service) procedureError(op string, err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Message != "" {
		return pgErr.Message
	}
	s.logger.Error("unified procedure failed", "op", op, "error", err)
	return MsgUnknown
}
