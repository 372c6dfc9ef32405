package store

import (
	"context"

	"github.com/flowtrail/flowtrail/internal/core"
)

const objectColumns = `object_id, object_type, reference_number, attributes,
	amount, currency_code, status, created_at, updated_at`

func scanObject(row interface{ Scan(...any) error }) (core.BusinessObject, error) {
	var o core.BusinessObject
	err := row.Scan(
		&o.ObjectID, &o.ObjectType, &o.ReferenceNumber, &o.Attributes,
		&o.Amount, &o.CurrencyCode, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (q *Queries) UpsertBusinessObject(ctx context.Context, o core.BusinessObject) (core.BusinessObject, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO ft.business_objects (
			object_id, object_type, reference_number, attributes,
			amount, currency_code, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (object_id) DO UPDATE SET
			reference_number = excluded.reference_number,
			attributes = ft.business_objects.attributes || excluded.attributes,
			amount = excluded.amount,
			currency_code = excluded.currency_code,
			status = excluded.status,
			updated_at = now()
		RETURNING `+objectColumns,
		o.ObjectID, o.ObjectType, o.ReferenceNumber, jsonbOr(o.Attributes, "{}"),
		o.Amount, o.CurrencyCode, o.Status)
	return scanObject(row)
}

func (q *Queries) GetBusinessObject(ctx context.Context, objectID string) (core.BusinessObject, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+objectColumns+` FROM ft.business_objects WHERE object_id = $1`,
		objectID)
	return scanObject(row)
}

// MergeObjectAttributes applies a shallow JSONB merge and optionally
// moves the object to a new status. An empty status leaves it unchanged.
func (q *Queries) MergeObjectAttributes(ctx context.Context, objectID string, attrs []byte, status string) (core.BusinessObject, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE ft.business_objects SET
			attributes = attributes || $2::jsonb,
			status = CASE WHEN $3 = '' THEN status ELSE $3 END,
			updated_at = now()
		WHERE object_id = $1
		RETURNING `+objectColumns,
		objectID, jsonbOr(attrs, "{}"), status)
	return scanObject(row)
}

func (q *Queries) CountBusinessObjects(ctx context.Context, objectType string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.business_objects
		WHERE ($1 = '' OR object_type = $1)`, objectType).Scan(&n)
	return n, err
}
