package feedback

import (
	"context"
	"encoding/json"
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

type feedbackRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &feedbackRepoPG{pool: pool}
}

func (r *feedbackRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const feedbackCols = `feedback_id, patient_id, patient_name, admission_id, service_type, rating,
	feedback_comments, feedback_mode, consent_flag, created_date`

// withModules selects a feedback row plus its module ratings folded into a
// JSON array; feedback without ratings gets '[]'.
const withModules = `
	SELECT pf.feedback_id, pf.patient_id, pf.patient_name, pf.admission_id, pf.service_type,
		pf.rating, pf.feedback_comments, pf.feedback_mode, pf.consent_flag, pf.created_date,
		COALESCE(
			json_agg(json_build_object(
				'module_rating_id', fmr.module_rating_id,
				'feedback_id', fmr.feedback_id,
				'module_name', fmr.module_name,
				'rating', fmr.rating,
				'comment', fmr.comment
			) ORDER BY fmr.module_rating_id) FILTER (WHERE fmr.module_rating_id IS NOT NULL),
			'[]'
		) AS module_ratings
	FROM patient_feedback pf
	LEFT JOIN feedback_module_ratings fmr ON fmr.feedback_id = pf.feedback_id`

func scanFeedback(row pgx.Row) (*Feedback, error) {
	var f Feedback
	err := row.Scan(&f.ID, &f.PatientID, &f.PatientName, &f.AdmissionID, &f.ServiceType,
		&f.Rating, &f.Comments, &f.Mode, &f.ConsentFlag, &f.CreatedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanWithModules(row pgx.Row) (*Feedback, error) {
	var f Feedback
	var modules []byte
	err := row.Scan(&f.ID, &f.PatientID, &f.PatientName, &f.AdmissionID, &f.ServiceType,
		&f.Rating, &f.Comments, &f.Mode, &f.ConsentFlag, &f.CreatedDate, &modules)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.ModuleRatings = []ModuleRating{}
	if err := json.Unmarshal(modules, &f.ModuleRatings); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *feedbackRepoPG) List(ctx context.Context) ([]*Feedback, error) {
	rows, err := r.conn(ctx).Query(ctx, withModules+`
	GROUP BY pf.feedback_id
	ORDER BY pf.created_date DESC, pf.feedback_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Feedback{}
	for rows.Next() {
		f, err := scanWithModules(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *feedbackRepoPG) GetByID(ctx context.Context, id int64) (*Feedback, error) {
	return scanWithModules(r.conn(ctx).QueryRow(ctx, withModules+`
	WHERE pf.feedback_id = $1
	GROUP BY pf.feedback_id`, id))
}

func (r *feedbackRepoPG) Lock(ctx context.Context, id int64) (*Feedback, error) {
	return scanFeedback(r.conn(ctx).QueryRow(ctx,
		`SELECT `+feedbackCols+` FROM patient_feedback WHERE feedback_id = $1 FOR UPDATE`, id))
}

func (r *feedbackRepoPG) Insert(ctx context.Context, c *CreateFeedback) (*Feedback, error) {
	return scanFeedback(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_feedback (patient_id, patient_name, admission_id, service_type, rating,
			feedback_comments, feedback_mode, consent_flag)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+feedbackCols,
		c.PatientID, c.PatientName, c.AdmissionID, c.ServiceType, c.Rating,
		c.Comments, c.Mode, c.ConsentFlag))
}

func (r *feedbackRepoPG) Update(ctx context.Context, u *UpdateFeedback) (*Feedback, error) {
	return scanFeedback(r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_feedback SET
			patient_name = COALESCE($2, patient_name),
			admission_id = COALESCE($3, admission_id),
			service_type = COALESCE($4, service_type),
			rating = COALESCE($5, rating),
			feedback_comments = COALESCE($6, feedback_comments),
			feedback_mode = COALESCE($7, feedback_mode),
			consent_flag = COALESCE($8, consent_flag)
		WHERE feedback_id = $1
		RETURNING `+feedbackCols,
		u.ID, u.PatientName, u.AdmissionID, u.ServiceType, u.Rating,
		u.Comments, u.Mode, u.ConsentFlag))
}

func (r *feedbackRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_feedback WHERE feedback_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const moduleCols = `module_rating_id, feedback_id, module_name, rating, comment`

func scanModule(row pgx.Row) (ModuleRating, error) {
	var m ModuleRating
	err := row.Scan(&m.ID, &m.FeedbackID, &m.ModuleName, &m.Rating, &m.Comment)
	return m, err
}

func (r *feedbackRepoPG) InsertModuleRatings(ctx context.Context, feedbackID int64, ms []NewModuleRating) ([]ModuleRating, error) {
	out := make([]ModuleRating, 0, len(ms))
	for _, in := range ms {
		m, err := scanModule(r.conn(ctx).QueryRow(ctx, `
			INSERT INTO feedback_module_ratings (feedback_id, module_name, rating, comment)
			VALUES ($1,$2,$3,$4)
			RETURNING `+moduleCols,
			feedbackID, in.ModuleName, in.Rating, in.Comment))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *feedbackRepoPG) ListModuleRatings(ctx context.Context, feedbackID int64) ([]ModuleRating, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+moduleCols+` FROM feedback_module_ratings WHERE feedback_id = $1 ORDER BY module_rating_id`, feedbackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ModuleRating{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *feedbackRepoPG) DeleteModuleRatings(ctx context.Context, feedbackID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM feedback_module_ratings WHERE feedback_id = $1`, feedbackID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *feedbackRepoPG) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{Modules: []ModuleSummary{}}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(ROUND(AVG(rating)::numeric, 2), 0)::float8
		FROM patient_feedback`).Scan(&s.TotalFeedback, &s.AverageRating)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT module_name, ROUND(AVG(rating)::numeric, 2)::float8, COUNT(*)
		FROM feedback_module_ratings
		GROUP BY module_name
		ORDER BY module_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m ModuleSummary
		if err := rows.Scan(&m.ModuleName, &m.AverageRating, &m.Count); err != nil {
			return nil, err
		}
		s.Modules = append(s.Modules, m)
	}
	return s, rows.Err()
}
