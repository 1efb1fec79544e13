package complaint

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospadmin/hospadmin/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type complaintRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &complaintRepoPG{pool: pool}
}

func (r *complaintRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const complaintCols = `complaint_id, patient_id, patient_name, contact_number, complaint_description,
	priority, status, attachment_path, complaint_datetime`

func scanComplaint(row pgx.Row) (*Complaint, error) {
	var c Complaint
	err := row.Scan(&c.ID, &c.PatientID, &c.PatientName, &c.ContactNumber, &c.Description,
		&c.Priority, &c.Status, &c.AttachmentPath, &c.ComplaintDateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *complaintRepoPG) List(ctx context.Context) ([]*Complaint, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+complaintCols+` FROM patient_complaint ORDER BY complaint_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Complaint{}
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *complaintRepoPG) GetByID(ctx context.Context, id int64) (*Complaint, error) {
	return scanComplaint(r.conn(ctx).QueryRow(ctx,
		`SELECT `+complaintCols+` FROM patient_complaint WHERE complaint_id = $1`, id))
}

func (r *complaintRepoPG) Create(ctx context.Context, c *CreateComplaint) (*Complaint, error) {
	return scanComplaint(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_complaint (patient_id, patient_name, contact_number, complaint_description,
			priority, status, attachment_path, complaint_datetime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		RETURNING `+complaintCols,
		c.PatientID, c.PatientName, c.ContactNumber, c.Description,
		c.Priority, c.Status, c.AttachmentPath))
}

func (r *complaintRepoPG) Update(ctx context.Context, u *UpdateComplaint) (*Complaint, error) {
	return scanComplaint(r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_complaint SET
			patient_id = COALESCE($2, patient_id),
			patient_name = COALESCE($3, patient_name),
			contact_number = COALESCE($4, contact_number),
			complaint_description = COALESCE($5, complaint_description),
			priority = COALESCE($6, priority),
			status = COALESCE($7, status),
			attachment_path = COALESCE($8, attachment_path)
		WHERE complaint_id = $1
		RETURNING `+complaintCols,
		u.ID, u.PatientID, u.PatientName, u.ContactNumber, u.Description,
		u.Priority, u.Status, u.AttachmentPath))
}

func (r *complaintRepoPG) Delete(ctx context.Context, id int64) (*Complaint, error) {
	return scanComplaint(r.conn(ctx).QueryRow(ctx,
		`DELETE FROM patient_complaint WHERE complaint_id = $1 RETURNING `+complaintCols, id))
}
