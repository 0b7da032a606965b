package vouchers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Source modules of voucher journals.
const (
	SourceVoucher = "VOUCHER"
	SourceOpening = "OPENING"
)

// Directory is the subset of accounts.Directory the service resolves
// accounts through.
type Directory interface {
	Catalog() accounts.Catalog
	GetLedger(ctx context.Context, orgID, id int64) (accounts.Ledger, error)
	EnsureAccountPath(ctx context.Context, orgID int64, path string) (accounts.Ledger, error)
	EnsurePartyLedger(ctx context.Context, orgID int64, kind accounts.PartyKind, partyID, name string) (accounts.Ledger, error)
	EnsureItemLedger(ctx context.Context, orgID int64, item string) (accounts.Ledger, error)
	Revert(ctx context.Context, orgID int64, created *accounts.Creations) error
}

// PartyNames looks up the display name of a customer or supplier by id.
type PartyNames interface {
	PartyName(ctx context.Context, orgID int64, kind accounts.PartyKind, id string) (string, error)
}

// Poster commits journals.
type Poster interface {
	Post(ctx context.Context, in journals.PostingInput) (journals.Journal, error)
}

// IdempotencyPort remembers processed request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// PostRequest is one voucher submission.
type PostRequest struct {
	Type           string
	OrgID          int64
	ActorID        int64
	IdempotencyKey string
	Payload        json.RawMessage
}

// Result describes the journal a voucher produced.
type Result struct {
	Type          string          `json:"type"`
	VoucherNumber string          `json:"voucherNumber"`
	JournalID     int64           `json:"journalId"`
	Status        journals.Status `json:"status"`
}

// Service turns business events into balanced journals.
type Service struct {
	catalog     Catalog
	directory   Directory
	poster      Poster
	idempotency IdempotencyPort
	parties     PartyNames
	logger      *slog.Logger
}

// NewService constructs the voucher service with the embedded catalog.
func NewService(directory Directory, poster Poster, idempotency IdempotencyPort, logger *slog.Logger) (*Service, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: catalog, directory: directory, poster: poster, idempotency: idempotency, logger: logger}, nil
}

// WithParties lets vouchers that name a party only by id be posted to the
// party ledger under its master-data name.
func (s *Service) WithParties(p PartyNames) {
	s.parties = p
}

// Catalog exposes the voucher catalog.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// Post validates the payload, builds the draft, ensures the accounts it
// needs and commits the journal. Nothing is created when the payload is
// invalid or the draft does not balance.
func (s *Service) Post(ctx context.Context, req PostRequest) (Result, error) {
	const op = "vouchers.post"
	def, ok := s.catalog.Lookup(req.Type)
	if !ok {
		return Result{}, shared.Validation(op, "type", fmt.Sprintf("unknown voucher type %q", req.Type))
	}
	if req.OrgID == 0 {
		return Result{}, shared.Validation(op, "organizationId", "organization required")
	}
	draft, err := s.build(ctx, def, req)
	if err != nil {
		return Result{}, shared.WithOrg(err, req.OrgID, def.Type)
	}
	in := s.postingInput(def, req.OrgID, req.ActorID, draft)
	if err := in.Validate(); err != nil {
		return Result{}, shared.WithOrg(err, req.OrgID, def.Type)
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if s.idempotency == nil {
			return Result{}, errors.New("vouchers: idempotency store not configured")
		}
		scoped := fmt.Sprintf("%d:%s", req.OrgID, key)
		if err := s.idempotency.CheckAndInsert(ctx, scoped, "vouchers:"+def.Type); err != nil {
			if errors.Is(err, internalShared.ErrIdempotencyConflict) {
				return Result{}, &shared.Error{Kind: shared.ErrSourceAlreadyLinked, Op: op, OrgID: req.OrgID, VoucherType: def.Type,
					Field: "idempotencyKey", Message: "request already processed", Err: err}
			}
			return Result{}, fmt.Errorf("vouchers: record idempotency key: %w", err)
		}
		in.SourceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("voucher:"+scoped))
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idempotency.Delete(ctx, scoped); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", scoped), slog.Any("error", delErr))
			}
		}()
	}

	journal, err := s.commit(ctx, in, draft.Needs)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("voucher posted",
		slog.Int64("org_id", req.OrgID),
		slog.String("voucher_type", def.Type),
		slog.String("voucher_number", journal.VoucherNumber),
		slog.String("status", string(journal.Status)))
	return Result{Type: def.Type, VoucherNumber: journal.VoucherNumber, JournalID: journal.ID, Status: journal.Status}, nil
}

// PostOpening posts the opening balance journal of a newly created ledger.
// Its lines are tagged with the ledger id so the ledger's own balance keeps
// using the stored opening balance as its base.
func (s *Service) PostOpening(ctx context.Context, ledger accounts.Ledger, actorID int64) error {
	def, ok := s.catalog.Lookup(TypeOpening)
	if !ok {
		return errors.New("vouchers: opening voucher type missing from catalog")
	}
	env := Env{Catalog: s.directory.Catalog()}
	draft, err := buildOpening(Common{}, ledger.Path, ledger.ID, ledger.OpeningBalance, ledger.ID, env)
	if err != nil {
		return shared.WithOrg(err, ledger.OrgID, def.Type)
	}
	in := s.postingInput(def, ledger.OrgID, actorID, draft)
	in.SourceModule = SourceOpening
	in.SourceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("opening:%d:%d", ledger.OrgID, ledger.ID)))
	if err := in.Validate(); err != nil {
		return shared.WithOrg(err, ledger.OrgID, def.Type)
	}
	_, err = s.commit(ctx, in, draft.Needs)
	return err
}

func (s *Service) postingInput(def Definition, orgID, actorID int64, draft *Draft) journals.PostingInput {
	spec := def.Sequence()
	status := journals.StatusPosted
	if def.Approval {
		status = journals.StatusDraft
	}
	if draft.Status != "" {
		status = draft.Status
	}
	var date time.Time
	if draft.Date != nil {
		date = *draft.Date
	}
	lines := make([]journals.PostingLine, len(draft.Lines))
	copy(lines, draft.Lines)
	return journals.PostingInput{
		OrgID:        orgID,
		Date:         date,
		Memo:         draft.Memo,
		VoucherType:  def.Type,
		Sequence:     &spec,
		Status:       status,
		SourceModule: SourceVoucher,
		PostedBy:     actorID,
		Meta:         draft.Meta,
		Lines:        lines,
	}
}

// commit ensures every planned account, points the lines at the ledgers
// actually found and posts. Groups, ledgers and chart rows created on the way
// are removed again when the journal is not committed.
func (s *Service) commit(ctx context.Context, in journals.PostingInput, needs map[string]Need) (_ journals.Journal, err error) {
	ctx, created := accounts.TrackCreations(ctx)
	defer func() {
		if err == nil {
			created.Keep()
			return
		}
		if revErr := s.directory.Revert(ctx, in.OrgID, created); revErr != nil {
			s.logger.Error("remove accounts of failed voucher",
				slog.Int64("org_id", in.OrgID), slog.String("voucher_type", in.VoucherType), slog.Any("error", revErr))
		}
	}()

	resolved, err := s.ensure(ctx, in.OrgID, needs)
	if err != nil {
		return journals.Journal{}, shared.WithOrg(err, in.OrgID, in.VoucherType)
	}
	for i, line := range in.Lines {
		if path, ok := resolved[line.AccountPath]; ok {
			in.Lines[i].AccountPath = path
		}
	}
	return s.poster.Post(ctx, in)
}

func (s *Service) ensure(ctx context.Context, orgID int64, needs map[string]Need) (map[string]string, error) {
	planned := make([]string, 0, len(needs))
	for path := range needs {
		planned = append(planned, path)
	}
	sort.Strings(planned)
	resolved := make(map[string]string, len(needs))
	for _, path := range planned {
		n := needs[path]
		var (
			ledger accounts.Ledger
			err    error
		)
		switch n.kind {
		case needLedger:
			resolved[path] = path
			continue
		case needParty:
			ledger, err = s.directory.EnsurePartyLedger(ctx, orgID, n.PartyKind, n.PartyID, n.Name)
		case needItem:
			ledger, err = s.directory.EnsureItemLedger(ctx, orgID, n.Name)
		default:
			ledger, err = s.directory.EnsureAccountPath(ctx, orgID, path)
		}
		if err != nil {
			var typed *shared.Error
			if errors.As(err, &typed) {
				return nil, err
			}
			return nil, shared.AccountResolution("vouchers.ensure", path, err)
		}
		resolved[path] = ledger.Path
	}
	return resolved, nil
}

func (s *Service) build(ctx context.Context, def Definition, req PostRequest) (*Draft, error) {
	env := Env{Catalog: s.directory.Catalog()}
	switch def.Type {
	case TypePayment:
		var p PaymentPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.nameParty(ctx, req.OrgID, accounts.PartySupplier, p.Supplier); err != nil {
			return nil, err
		}
		return buildPayment(p, env)
	case TypeReceipt:
		var p ReceiptPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.nameParty(ctx, req.OrgID, accounts.PartyCustomer, p.Customer); err != nil {
			return nil, err
		}
		return buildReceipt(p, env)
	case TypeExpense:
		var p ExpensePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.nameParty(ctx, req.OrgID, accounts.PartySupplier, p.Supplier); err != nil {
			return nil, err
		}
		return buildExpense(p, env)
	case TypeOtherIncome:
		var p OtherIncomePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return buildOtherIncome(p, env)
	case TypeOwnerInvestment, TypeOwnerDrawing:
		var p OwnerPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if def.Type == TypeOwnerInvestment {
			return buildOwnerInvestment(p, env)
		}
		return buildOwnerDrawing(p, env)
	case TypeSales, TypeSalesReturn:
		var p TradePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.nameParty(ctx, req.OrgID, accounts.PartyCustomer, p.Party); err != nil {
			return nil, err
		}
		return buildSales(p, env, def.Type == TypeSalesReturn)
	case TypePurchase, TypePurchaseReturn:
		var p TradePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.nameParty(ctx, req.OrgID, accounts.PartySupplier, p.Party); err != nil {
			return nil, err
		}
		return buildPurchase(p, env, def.Type == TypePurchaseReturn)
	case TypeContra:
		var p ContraPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return buildContra(p, env)
	case TypeJournal:
		var p JournalPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return buildJournal(p, env)
	case TypeOpening:
		var p OpeningPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		path := accounts.Canonicalize(p.AccountPath)
		if p.LedgerID != 0 {
			ledger, err := s.directory.GetLedger(ctx, req.OrgID, p.LedgerID)
			if err != nil {
				return nil, err
			}
			path = ledger.Path
		}
		return buildOpening(p.Common, path, p.LedgerID, p.Amount, 0, env)
	default:
		return nil, shared.Validation("vouchers.post", "type", fmt.Sprintf("voucher type %q has no builder", def.Type))
	}
}

// nameParty fills in the name of a party given only by id. Unknown ids keep
// the id as the ledger name.
func (s *Service) nameParty(ctx context.Context, orgID int64, kind accounts.PartyKind, party *Party) error {
	if s.parties == nil || party == nil || strings.TrimSpace(party.Name) != "" || strings.TrimSpace(party.ID) == "" {
		return nil
	}
	name, err := s.parties.PartyName(ctx, orgID, kind, strings.TrimSpace(party.ID))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return shared.AccountResolution("vouchers.party", string(kind)+":"+party.ID, err)
	}
	party.Name = name
	return nil
}

// decode strictly unmarshals raw into dst and validates it.
func decode(raw json.RawMessage, dst any) error {
	const op = "vouchers.decode"
	if len(bytes.TrimSpace(raw)) == 0 {
		return shared.Validation(op, "payload", "payload required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &shared.Error{Kind: shared.ErrValidation, Op: op, Field: "payload", Message: "malformed payload: " + err.Error(), Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return shared.Validation(op, "payload", "payload must be a single JSON object")
	}
	return shared.ValidateStruct(op, dst)
}
