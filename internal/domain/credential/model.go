package credential

import "time"

// Credential is a registered doctor account. PasswordHash holds a bcrypt
// digest; the plaintext secret never reaches this struct.
type Credential struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	RegNo        string    `db:"reg_no" json:"reg_no"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
