package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/neuroscan/neuroscan/internal/platform/db"
)

type repoPG struct {
	q db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &repoPG{q: q}
}

const patientCols = `id, doctor_id, patient_name, age, gender, tumor_history, contact, created_at`

func (r *repoPG) scanRow(row pgx.Row) (*Patient, error) {
	var p Patient
	var age int16
	err := row.Scan(&p.ID, &p.DoctorID, &p.PatientName, &age, &p.Gender, &p.TumorHistory, &p.Contact, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Age = int(age)
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO patient_details (doctor_id, patient_name, age, gender, tumor_history, contact, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		p.DoctorID, p.PatientName, int16(p.Age), p.Gender, p.TumorHistory, p.Contact,
	).Scan(&p.ID, &p.CreatedAt)
	return db.Wrap("insert patient", err)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := r.scanRow(r.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patient_details WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Wrap("select patient", err)
	}
	return p, nil
}

// likeEscaper neutralises LIKE metacharacters so the fragment is matched
// literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *repoPG) SearchByName(ctx context.Context, fragment string, limit, offset int) ([]*Patient, error) {
	pattern := "%" + likeEscaper.Replace(fragment) + "%"
	rows, err := r.q.Query(ctx, `SELECT `+patientCols+` FROM patient_details
		WHERE patient_name ILIKE $1 ESCAPE '\'
		ORDER BY id
		LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, db.Wrap("search patients", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, db.Wrap("scan patient", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap("search patients", err)
	}
	return items, nil
}
