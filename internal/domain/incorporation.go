/**
 * @description
 * Domain models for onboardings, incorporations, orders and prospects.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OnboardingStatus is the lifecycle status of an onboarding record.
type OnboardingStatus string

const (
	OnboardingStatusPending   OnboardingStatus = "PENDING"
	OnboardingStatusCompleted OnboardingStatus = "COMPLETED"
)

// Valid reports whether the status is known.
func (s OnboardingStatus) Valid() bool {
	return s == OnboardingStatusPending || s == OnboardingStatusCompleted
}

// IncorporationStatus tracks the company application through the pipeline.
type IncorporationStatus string

const (
	IncorporationStatusDraft     IncorporationStatus = "draft"
	IncorporationStatusSubmitted IncorporationStatus = "submitted"
	IncorporationStatusPaid      IncorporationStatus = "paid"
)

func (s IncorporationStatus) rank() int {
	switch s {
	case IncorporationStatusDraft:
		return 1
	case IncorporationStatusSubmitted:
		return 2
	case IncorporationStatusPaid:
		return 3
	default:
		return 0
	}
}

// Valid reports whether the status is known.
func (s IncorporationStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
// Re-applying the current status is allowed.
func (s IncorporationStatus) CanAdvanceTo(next IncorporationStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// OrderStatus is the payment status of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
)

// DocumentKind names a supporting document slot on an onboarding.
type DocumentKind string

const (
	DocumentPassport       DocumentKind = "passport"
	DocumentProofOfAddress DocumentKind = "proof_of_address"
	DocumentBankReference  DocumentKind = "bank_reference"
)

// Valid reports whether the document kind is known.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentPassport, DocumentProofOfAddress, DocumentBankReference:
		return true
	}
	return false
}

// Identity is the authenticated caller, resolved from the session token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Onboarding holds personal KYC data and document references for one application.
type Onboarding struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             string           `json:"user_id"`
	Jurisdiction       Jurisdiction     `json:"jurisdiction"`
	Status             OnboardingStatus `json:"status"`
	FullName           *string          `json:"full_name,omitempty"`
	Nationality        *string          `json:"nationality,omitempty"`
	DateOfBirth        *string          `json:"date_of_birth,omitempty"`
	ResidentialAddress *string          `json:"residential_address,omitempty"`
	PhoneNumber        *string          `json:"phone_number,omitempty"`
	Occupation         *string          `json:"occupation,omitempty"`
	SourceOfFunds      *string          `json:"source_of_funds,omitempty"`
	ProjectDescription *string          `json:"project_description,omitempty"`
	PassportPath       *string          `json:"passport_path,omitempty"`
	ProofOfAddressPath *string          `json:"proof_of_address_path,omitempty"`
	BankReferencePath  *string          `json:"bank_reference_path,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// OnboardingUpdate carries a partial KYC update. Nil fields are left untouched.
type OnboardingUpdate struct {
	FullName           *string `json:"full_name,omitempty"`
	Nationality        *string `json:"nationality,omitempty"`
	DateOfBirth        *string `json:"date_of_birth,omitempty"`
	ResidentialAddress *string `json:"residential_address,omitempty"`
	PhoneNumber        *string `json:"phone_number,omitempty"`
	Occupation         *string `json:"occupation,omitempty"`
	SourceOfFunds      *string `json:"source_of_funds,omitempty"`
	ProjectDescription *string `json:"project_description,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u OnboardingUpdate) Empty() bool {
	return u.FullName == nil && u.Nationality == nil && u.DateOfBirth == nil &&
		u.ResidentialAddress == nil && u.PhoneNumber == nil && u.Occupation == nil &&
		u.SourceOfFunds == nil && u.ProjectDescription == nil
}

// Incorporation is the jurisdiction-specific company application tied to an onboarding.
type Incorporation struct {
	ID           uuid.UUID              `json:"id"`
	OnboardingID uuid.UUID              `json:"onboarding_id"`
	Jurisdiction Jurisdiction           `json:"jurisdiction"`
	Status       IncorporationStatus    `json:"status"`
	Details      map[string]interface{} `json:"details"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// LatestIncorporation is the summary returned by the status resolver.
type LatestIncorporation struct {
	OnboardingID uuid.UUID           `json:"onboarding_id"`
	Status       IncorporationStatus `json:"status"`
	Jurisdiction Jurisdiction        `json:"jurisdiction"`
}

// Order is a payment order for a submitted incorporation.
type Order struct {
	ID             uuid.UUID    `json:"id"`
	UserID         string       `json:"user_id"`
	OnboardingID   uuid.UUID    `json:"onboarding_id"`
	Jurisdiction   Jurisdiction `json:"jurisdiction"`
	OrderCode      string       `json:"order_code"`
	Status         OrderStatus  `json:"status"`
	NotifyEmail    string       `json:"notify_email,omitempty"`
	LastNotifiedAt *time.Time   `json:"last_notified_at,omitempty"`
	PaidAt         *time.Time   `json:"paid_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Prospect is a company-name reservation a user typed for a jurisdiction.
type Prospect struct {
	ID             uuid.UUID    `json:"id"`
	UserID         string       `json:"user_id"`
	Jurisdiction   Jurisdiction `json:"jurisdiction"`
	CompanyName    string       `json:"company_name"`
	NormalizedName string       `json:"normalized_name"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// OrderEvent is published when an order is created or paid.
type OrderEvent struct {
	OrderID      uuid.UUID    `json:"order_id"`
	OrderCode    string       `json:"order_code"`
	OnboardingID uuid.UUID    `json:"onboarding_id"`
	UserID       string       `json:"user_id"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Status       OrderStatus  `json:"status"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// IncorporationSubmittedEvent is published when an application passes validation.
type IncorporationSubmittedEvent struct {
	IncorporationID uuid.UUID    `json:"incorporation_id"`
	OnboardingID    uuid.UUID    `json:"onboarding_id"`
	UserID          string       `json:"user_id"`
	Jurisdiction    Jurisdiction `json:"jurisdiction"`
	SubmittedAt     time.Time    `json:"submitted_at"`
}
