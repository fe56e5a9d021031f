package patient

import "time"

// Patient is one row of patient_details. JSON names follow the column names
// so search results read the same as the stored record.
type Patient struct {
	ID           int64     `db:"id" json:"id"`
	DoctorID     string    `db:"doctor_id" json:"doctor_id"`
	PatientName  string    `db:"patient_name" json:"patient_name"`
	Age          int       `db:"age" json:"age"`
	Gender       string    `db:"gender" json:"gender"`
	TumorHistory string    `db:"tumor_history" json:"tumor_history"`
	Contact      string    `db:"contact" json:"contact"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
