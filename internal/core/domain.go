package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PlatformYouTube   PlatformType = "youtube"
	PlatformTikTok    PlatformType = "tiktok"
	PlatformInstagram PlatformType = "instagram"
	PlatformTwitch    PlatformType = "twitch"
	PlatformPatreon   PlatformType = "patreon"
	PlatformOnlyFans  PlatformType = "onlyfans"
	PlatformSubstack  PlatformType = "substack"
	PlatformShopify   PlatformType = "shopify"
	PlatformOther     PlatformType = "other"
)

const (
	TierFree     UserTier = "free"
	TierCreator  UserTier = "creator"
	TierPro      UserTier = "pro"
	TierBusiness UserTier = "business"
)

// Tax status of an earning. Taxable earnings move UNPROCESSED -> WITHHELD once;
// non-taxable earnings are EXEMPT forever.
const (
	TaxUnprocessed TaxStatus = "unprocessed"
	TaxWithheld    TaxStatus = "withheld"
	TaxExempt      TaxStatus = "exempt"
)

const (
	TxDeposit     TransactionKind = "deposit"
	TxWithdrawal  TransactionKind = "withdrawal"
	TxTransfer    TransactionKind = "transfer"
	TxTaxSavings  TransactionKind = "tax_savings"
	TxCardPayment TransactionKind = "card_payment"
	TxACHIn       TransactionKind = "ach_in"
	TxACHOut      TransactionKind = "ach_out"
	TxRefund      TransactionKind = "refund"
)

type (
	PlatformType    string
	UserTier        string
	TaxStatus       string
	TransactionKind string

	User struct {
		ID                int64
		Email             string
		FullName          string
		Tier              UserTier
		Currency          string
		WithholdingRate   decimal.Decimal // percentage, 0-100
		TaxSavingsBalance decimal.Decimal
		CreatedAt         time.Time
	}

	ConnectedPlatform struct {
		ID           int64
		UserID       int64
		Type         PlatformType
		Username     string
		IsActive     bool
		LastSyncedAt *time.Time
		CreatedAt    time.Time
	}

	Earning struct {
		ID           int64
		UserID       int64
		PlatformID   int64
		PlatformType PlatformType // joined from the connected platform
		Amount       decimal.Decimal
		Currency     string
		EarningDate  time.Time
		PayoutDate   *time.Time
		EarningType  string // ad_revenue, sponsorship, tip, membership...
		Description  string
		IsTaxable    bool
		TaxWithheld  decimal.Decimal
		TaxStatus    TaxStatus
		Metadata     map[string]string
		CreatedAt    time.Time
	}

	LedgerTransaction struct {
		ID               uuid.UUID
		UserID           int64
		Amount           decimal.Decimal
		Currency         string
		Kind             TransactionKind
		Date             time.Time
		Description      string
		BalanceBefore    decimal.Decimal
		BalanceAfter     decimal.Decimal
		RelatedEarningID *int64
	}
)

func (p PlatformType) IsValid() bool {
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram, PlatformTwitch,
		PlatformPatreon, PlatformOnlyFans, PlatformSubstack, PlatformShopify, PlatformOther:
		return true
	}
	return false
}

func (t UserTier) IsValid() bool {
	switch t {
	case TierFree, TierCreator, TierPro, TierBusiness:
		return true
	}
	return false
}

// InitialTaxStatus returns the status a freshly recorded earning starts in.
func InitialTaxStatus(taxable bool) TaxStatus {
	if taxable {
		return TaxUnprocessed
	}
	return TaxExempt
}

// ValidateWithholdingRate checks that a percentage lies in [0, 100].
func ValidateWithholdingRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("withholding_rate", "must be between 0 and 100")
	}
	return nil
}

func (u User) Validate() error {
	if !strings.Contains(u.Email, "@") {
		return NewValidationError("email", "invalid email address")
	}
	if u.Tier != "" && !u.Tier.IsValid() {
		return NewValidationError("tier", "unknown tier "+string(u.Tier))
	}
	if u.Currency != "" {
		if err := ValidateCurrency(u.Currency); err != nil {
			return err
		}
	}
	return ValidateWithholdingRate(u.WithholdingRate)
}

func (p ConnectedPlatform) Validate() error {
	if p.UserID <= 0 {
		return NewValidationError("user_id", "required")
	}
	if !p.Type.IsValid() {
		return NewValidationError("platform_type", "unknown platform "+string(p.Type))
	}
	return nil
}

// Validate checks an earning before it is recorded. Negative amounts (refunds,
// corrections) are rejected rather than flowing through withholding.
func (e Earning) Validate() error {
	if e.UserID <= 0 {
		return NewValidationError("user_id", "required")
	}
	if e.PlatformID <= 0 {
		return NewValidationError("platform_id", "required")
	}
	if e.Amount.IsNegative() {
		return NewValidationError("amount", "negative amounts are not supported")
	}
	if err := ValidateCurrency(e.Currency); err != nil {
		return err
	}
	if e.EarningDate.IsZero() {
		return NewValidationError("earning_date", "required")
	}
	if len(e.EarningType) > 50 {
		return NewValidationError("earning_type", "too long (max 50 characters)")
	}
	if !e.TaxWithheld.IsZero() {
		return NewValidationError("tax_withheld", "must start at zero")
	}
	return nil
}
