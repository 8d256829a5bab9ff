/**
 * @description
 * Data access layer for onboardings, incorporations and prospects.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scg/incorporation-service/internal/domain"
)

var (
	ErrOnboardingNotFound    = errors.New("onboarding not found")
	ErrIncorporationNotFound = errors.New("incorporation not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPendingOrderExists    = errors.New("a pending order already exists for this onboarding")
	ErrOrderCodeTaken        = errors.New("order code already in use")
)

// PostgresRepository handles database operations for the incorporation service.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const onboardingColumns = `
	id, user_id, jurisdiction, status, full_name, nationality, date_of_birth,
	residential_address, phone_number, occupation, source_of_funds, project_description,
	passport_path, proof_of_address_path, bank_reference_path, created_at, updated_at
`

func scanOnboarding(row rowScanner) (*domain.Onboarding, error) {
	var o domain.Onboarding
	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Jurisdiction,
		&o.Status,
		&o.FullName,
		&o.Nationality,
		&o.DateOfBirth,
		&o.ResidentialAddress,
		&o.PhoneNumber,
		&o.Occupation,
		&o.SourceOfFunds,
		&o.ProjectDescription,
		&o.PassportPath,
		&o.ProofOfAddressPath,
		&o.BankReferencePath,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOnboardingNotFound
		}
		return nil, err
	}
	return &o, nil
}

const incorporationColumns = `id, onboarding_id, jurisdiction, status, details, created_at, updated_at`

func scanIncorporation(row rowScanner) (*domain.Incorporation, error) {
	var (
		inc     domain.Incorporation
		details []byte
	)
	if err := row.Scan(
		&inc.ID,
		&inc.OnboardingID,
		&inc.Jurisdiction,
		&inc.Status,
		&details,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncorporationNotFound
		}
		return nil, err
	}
	inc.Details = map[string]interface{}{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &inc.Details); err != nil {
			return nil, fmt.Errorf("decode incorporation details: %w", err)
		}
	}
	return &inc, nil
}

// CreateOnboardingWithDraft inserts a PENDING onboarding and its draft incorporation atomically.
func (r *PostgresRepository) CreateOnboardingWithDraft(
	ctx context.Context,
	userID string,
	jurisdiction domain.Jurisdiction,
) (*domain.Onboarding, *domain.Incorporation, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	onboarding, err := scanOnboarding(tx.QueryRow(ctx, `
		INSERT INTO onboardings (id, user_id, jurisdiction, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+onboardingColumns,
		uuid.New(), userID, jurisdiction, domain.OnboardingStatusPending,
	))
	if err != nil {
		return nil, nil, err
	}

	incorporation, err := scanIncorporation(tx.QueryRow(ctx, `
		INSERT INTO incorporations (id, onboarding_id, jurisdiction, status, details)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		RETURNING `+incorporationColumns,
		uuid.New(), onboarding.ID, jurisdiction, domain.IncorporationStatusDraft,
	))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return onboarding, incorporation, nil
}

// GetOnboardingByID loads an onboarding by id.
func (r *PostgresRepository) GetOnboardingByID(ctx context.Context, id uuid.UUID) (*domain.Onboarding, error) {
	return scanOnboarding(r.db.QueryRow(ctx, `SELECT `+onboardingColumns+` FROM onboardings WHERE id = $1`, id))
}

// UpdateOnboardingKYC merges the non-nil fields of update into the onboarding.
func (r *PostgresRepository) UpdateOnboardingKYC(ctx context.Context, id uuid.UUID, update domain.OnboardingUpdate) (*domain.Onboarding, error) {
	query := `
		UPDATE onboardings SET
			full_name = COALESCE($2, full_name),
			nationality = COALESCE($3, nationality),
			date_of_birth = COALESCE($4, date_of_birth),
			residential_address = COALESCE($5, residential_address),
			phone_number = COALESCE($6, phone_number),
			occupation = COALESCE($7, occupation),
			source_of_funds = COALESCE($8, source_of_funds),
			project_description = COALESCE($9, project_description),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + onboardingColumns
	return scanOnboarding(r.db.QueryRow(ctx, query,
		id,
		update.FullName,
		update.Nationality,
		update.DateOfBirth,
		update.ResidentialAddress,
		update.PhoneNumber,
		update.Occupation,
		update.SourceOfFunds,
		update.ProjectDescription,
	))
}

// SetOnboardingDocument stores an opaque storage path in the slot for kind.
func (r *PostgresRepository) SetOnboardingDocument(ctx context.Context, id uuid.UUID, kind domain.DocumentKind, path string) (*domain.Onboarding, error) {
	var column string
	switch kind {
	case domain.DocumentPassport:
		column = "passport_path"
	case domain.DocumentProofOfAddress:
		column = "proof_of_address_path"
	case domain.DocumentBankReference:
		column = "bank_reference_path"
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	query := fmt.Sprintf(`
		UPDATE onboardings SET %s = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, column, onboardingColumns)
	return scanOnboarding(r.db.QueryRow(ctx, query, id, path))
}

// SetOnboardingStatus updates the onboarding lifecycle status.
func (r *PostgresRepository) SetOnboardingStatus(ctx context.Context, id uuid.UUID, status domain.OnboardingStatus) (*domain.Onboarding, error) {
	return scanOnboarding(r.db.QueryRow(ctx, `
		UPDATE onboardings SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+onboardingColumns, id, status))
}

// GetIncorporationByOnboardingID loads the incorporation attached to an onboarding.
func (r *PostgresRepository) GetIncorporationByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Incorporation, error) {
	return scanIncorporation(r.db.QueryRow(ctx,
		`SELECT `+incorporationColumns+` FROM incorporations WHERE onboarding_id = $1`, onboardingID))
}

// CreateIncorporation inserts a draft incorporation. If one already exists for
// the onboarding the existing row is returned unchanged.
func (r *PostgresRepository) CreateIncorporation(
	ctx context.Context,
	onboardingID uuid.UUID,
	jurisdiction domain.Jurisdiction,
	details map[string]interface{},
) (*domain.Incorporation, error) {
	payload, err := encodeDetails(details)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO incorporations (id, onboarding_id, jurisdiction, status, details)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (onboarding_id) DO UPDATE SET updated_at = incorporations.updated_at
		RETURNING ` + incorporationColumns
	return scanIncorporation(r.db.QueryRow(ctx, query,
		uuid.New(), onboardingID, jurisdiction, domain.IncorporationStatusDraft, payload))
}

// UpdateIncorporation replaces the jurisdiction, status and details of an incorporation.
func (r *PostgresRepository) UpdateIncorporation(ctx context.Context, inc *domain.Incorporation) (*domain.Incorporation, error) {
	payload, err := encodeDetails(inc.Details)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE incorporations
		SET jurisdiction = $2, status = $3, details = $4::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + incorporationColumns
	return scanIncorporation(r.db.QueryRow(ctx, query, inc.ID, inc.Jurisdiction, inc.Status, payload))
}

// GetLatestIncorporationByUserID returns the user's most recently updated
// incorporation across all of their onboardings. Ties on updated_at are broken
// by the larger id so the answer is stable.
func (r *PostgresRepository) GetLatestIncorporationByUserID(ctx context.Context, userID string) (*domain.Incorporation, error) {
	query := `
		SELECT i.id, i.onboarding_id, i.jurisdiction, i.status, i.details, i.created_at, i.updated_at
		FROM incorporations i
		JOIN onboardings o ON o.id = i.onboarding_id
		WHERE o.user_id = $1
		ORDER BY i.updated_at DESC, i.id DESC
		LIMIT 1
	`
	return scanIncorporation(r.db.QueryRow(ctx, query, userID))
}

// UpsertProspect inserts a prospect or refreshes the display name of an existing one.
func (r *PostgresRepository) UpsertProspect(ctx context.Context, p domain.Prospect) (*domain.Prospect, error) {
	query := `
		INSERT INTO prospects (id, user_id, jurisdiction, company_name, normalized_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, jurisdiction, normalized_name)
		DO UPDATE SET company_name = EXCLUDED.company_name, updated_at = NOW()
		RETURNING id, user_id, jurisdiction, company_name, normalized_name, created_at, updated_at
	`
	var out domain.Prospect
	if err := r.db.QueryRow(ctx, query, uuid.New(), p.UserID, p.Jurisdiction, p.CompanyName, p.NormalizedName).Scan(
		&out.ID,
		&out.UserID,
		&out.Jurisdiction,
		&out.CompanyName,
		&out.NormalizedName,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProspectsByUserID returns the user's prospects, newest first.
func (r *PostgresRepository) ListProspectsByUserID(ctx context.Context, userID string, limit int) ([]domain.Prospect, error) {
	query := `
		SELECT id, user_id, jurisdiction, company_name, normalized_name, created_at, updated_at
		FROM prospects
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prospects := []domain.Prospect{}
	for rows.Next() {
		var p domain.Prospect
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Jurisdiction,
			&p.CompanyName,
			&p.NormalizedName,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

func encodeDetails(details map[string]interface{}) (string, error) {
	if details == nil {
		return "{}", nil
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode incorporation details: %w", err)
	}
	return string(payload), nil
}

func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
