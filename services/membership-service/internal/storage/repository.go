package storage

import (
	"context"
	"time"

	"github.com/localbiz/membership/libs/db"
	"github.com/localbiz/membership/services/membership-service/internal/outbox"
)

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	now    func() time.Time
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, outbox: outbox.NewRepository(pool), now: time.Now}
}

func (r *Repository) FindRequest(ctx context.Context, id string) (MembershipRequest, error) {
	var req MembershipRequest
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, status, plan_id, COALESCE(business_id, ''),
		       COALESCE(transaction_id, ''), COALESCE(payment_method, ''), updated_at
		FROM membership_requests
		WHERE id = $1
	`, id).Scan(&req.ID, &status, &req.PlanID, &req.BusinessID, &req.TransactionID, &req.PaymentMethod, &req.UpdatedAt)
	if err != nil {
		return MembershipRequest{}, classify("find request", err)
	}
	req.Status = RequestStatus(status)
	return req, nil
}

// UpdateRequest writes the new status and, when non-empty, the transaction id
// and payment method. It returns ErrNotFound if the request is gone.
func (r *Repository) UpdateRequest(ctx context.Context, id string, upd RequestUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE membership_requests
		SET status = $2,
		    transaction_id = COALESCE(NULLIF($3, ''), transaction_id),
		    payment_method = COALESCE(NULLIF($4, ''), payment_method),
		    updated_at = now()
		WHERE id = $1
	`, id, string(upd.Status), upd.TransactionID, upd.PaymentMethod)
	if err != nil {
		return classify("update request", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) FindPlan(ctx context.Context, id string) (Plan, error) {
	var p Plan
	err := r.pool.QueryRow(ctx, `
		SELECT id, level
		FROM membership_plans
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Level)
	if err != nil {
		return Plan{}, classify("find plan", err)
	}
	return p, nil
}

func (r *Repository) FindBusiness(ctx context.Context, id string) (Business, error) {
	var b Business
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(membership_id, ''), level, updated_at
		FROM businesses
		WHERE id = $1
	`, id).Scan(&b.ID, &b.MembershipID, &b.Level, &b.UpdatedAt)
	if err != nil {
		return Business{}, classify("find business", err)
	}
	return b, nil
}

// UpdateBusinessLevel sets the business's plan and level. When either value
// changes, a business activated event is written to the outbox in the same
// transaction.
func (r *Repository) UpdateBusinessLevel(ctx context.Context, businessID, membershipID string, level int) (LevelChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return LevelChange{}, classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var change LevelChange
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(membership_id, ''), level
		FROM businesses
		WHERE id = $1
		FOR UPDATE
	`, businessID).Scan(&change.PreviousMembershipID, &change.PreviousLevel)
	if err != nil {
		return LevelChange{}, classify("lock business", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE businesses
		SET membership_id = $2, level = $3, updated_at = now()
		WHERE id = $1
	`, businessID, membershipID, level); err != nil {
		return LevelChange{}, classify("update business", err)
	}

	change.Changed = change.PreviousMembershipID != membershipID || change.PreviousLevel != level
	if change.Changed {
		evt, err := outbox.BusinessActivated(businessID, membershipID, level, change.PreviousMembershipID, change.PreviousLevel, r.now())
		if err != nil {
			return LevelChange{}, err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return LevelChange{}, classify("insert outbox event", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return LevelChange{}, classify("commit", err)
	}
	return change, nil
}

// ListUnsyncedActivations returns, per business, the most recently updated
// request when it is completed and the business does not carry its plan and
// level. A business whose newest request is pending or cancelled is skipped so
// an older purchase never overwrites a later reversal.
func (r *Repository) ListUnsyncedActivations(ctx context.Context, limit int) ([]PendingActivation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT latest.request_id, latest.business_id, latest.plan_id, p.level
		FROM (
			SELECT DISTINCT ON (r.business_id) r.id AS request_id, r.business_id, r.plan_id, r.status
			FROM membership_requests r
			WHERE r.business_id IS NOT NULL
			ORDER BY r.business_id, r.updated_at DESC, r.id DESC
		) latest
		JOIN membership_plans p ON p.id = latest.plan_id
		JOIN businesses b ON b.id = latest.business_id
		WHERE latest.status = 'completed'
		  AND (b.membership_id IS DISTINCT FROM latest.plan_id OR b.level <> p.level)
		ORDER BY latest.business_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify("list unsynced activations", err)
	}
	defer rows.Close()

	var out []PendingActivation
	for rows.Next() {
		var a PendingActivation
		if err := rows.Scan(&a.RequestID, &a.BusinessID, &a.PlanID, &a.Level); err != nil {
			return nil, classify("scan activation", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list unsynced activations", err)
	}
	return out, nil
}
