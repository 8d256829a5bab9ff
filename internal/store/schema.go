package store

import (
	"context"
)

// Constraint names inspected when an insert races another writer.
const (
	constraintOnePendingOrder = "orders_one_pending_per_onboarding"
	constraintOrderCodeUnique = "orders_order_code_key"
)

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS onboardings (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		jurisdiction TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		full_name TEXT,
		nationality TEXT,
		date_of_birth TEXT,
		residential_address TEXT,
		phone_number TEXT,
		occupation TEXT,
		source_of_funds TEXT,
		project_description TEXT,
		passport_path TEXT,
		proof_of_address_path TEXT,
		bank_reference_path TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS onboardings_user_id_idx ON onboardings (user_id);

	CREATE TABLE IF NOT EXISTS incorporations (
		id UUID PRIMARY KEY,
		onboarding_id UUID NOT NULL REFERENCES onboardings (id),
		jurisdiction TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		details JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT incorporations_onboarding_id_key UNIQUE (onboarding_id)
	);
	CREATE INDEX IF NOT EXISTS incorporations_updated_at_idx ON incorporations (updated_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		onboarding_id UUID NOT NULL REFERENCES onboardings (id),
		jurisdiction TEXT NOT NULL,
		order_code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending_payment',
		notify_email TEXT,
		last_notified_at TIMESTAMPTZ,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT orders_order_code_key UNIQUE (order_code)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS orders_one_pending_per_onboarding
		ON orders (onboarding_id) WHERE status = 'pending_payment';
	CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at);

	CREATE TABLE IF NOT EXISTS prospects (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		jurisdiction TEXT NOT NULL,
		company_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT prospects_user_jurisdiction_name_key UNIQUE (user_id, jurisdiction, normalized_name)
	);
`

// EnsureSchema creates the service tables when they are missing. It is idempotent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schemaDDL)
	return err
}
