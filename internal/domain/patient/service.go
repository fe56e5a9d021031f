package patient

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/neuroscan/neuroscan/internal/platform/events"
)

var (
	ErrMissingField = errors.New("all fields are required")
	ErrInvalidAge   = errors.New("patientAge must be a whole number between 0 and 150")
	ErrEmptyQuery   = errors.New("missing search query")
	ErrNotFound     = errors.New("no patient found")
)

const maxAge = 150

// CreateInput carries the raw submitted values; Create validates and
// converts them.
type CreateInput struct {
	DoctorID       string
	PatientName    string
	PatientAge     string
	PatientGender  string
	PatientHistory string
	PatientContact string
}

type Service struct {
	repo   Repository
	events events.Publisher
}

func NewService(repo Repository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{repo: repo, events: pub}
}

// Create stores a new patient record and returns its generated id.
func (s *Service) Create(ctx context.Context, in CreateInput) (int64, error) {
	p := &Patient{
		DoctorID:     strings.TrimSpace(in.DoctorID),
		PatientName:  strings.TrimSpace(in.PatientName),
		Gender:       strings.TrimSpace(in.PatientGender),
		TumorHistory: strings.TrimSpace(in.PatientHistory),
		Contact:      strings.TrimSpace(in.PatientContact),
	}
	rawAge := strings.TrimSpace(in.PatientAge)
	if p.DoctorID == "" || p.PatientName == "" || rawAge == "" ||
		p.Gender == "" || p.TumorHistory == "" || p.Contact == "" {
		return 0, ErrMissingField
	}

	age, err := strconv.Atoi(rawAge)
	if err != nil || age < 0 || age > maxAge {
		return 0, ErrInvalidAge
	}
	p.Age = age

	if err := s.repo.Create(ctx, p); err != nil {
		return 0, err
	}

	s.events.Publish(ctx, events.TypePatientCreated, strconv.FormatInt(p.ID, 10), map[string]interface{}{
		"patient_id": p.ID,
		"doctor_id":  p.DoctorID,
	})
	return p.ID, nil
}

// isNumeric reports whether q is an optionally signed run of ASCII digits.
func isNumeric(q string) bool {
	if q != "" && (q[0] == '+' || q[0] == '-') {
		q = q[1:]
	}
	if q == "" {
		return false
	}
	for i := 0; i < len(q); i++ {
		if q[i] < '0' || q[i] > '9' {
			return false
		}
	}
	return true
}

// Search looks a patient up by id when q is a base-10 integer, otherwise by
// case-insensitive name fragment. limit and offset page name matches only.
func (s *Service) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}

	if isNumeric(q) {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			// Out of range for an id, so nothing can match.
			return nil, ErrNotFound
		}
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return []*Patient{p}, nil
	}

	items, err := s.repo.SearchByName(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}
