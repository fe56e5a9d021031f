package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neuroscan/neuroscan/internal/platform/db"
	"github.com/neuroscan/neuroscan/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	mu          sync.Mutex
	patients    map[int64]*Patient
	nextID      int64
	failErr     error
	idLookups   int
	nameLookups int
	lastLimit   int
	lastOffset  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[int64]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	stored := *p
	m.patients[p.ID] = &stored
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idLookups++
	if m.failErr != nil {
		return nil, m.failErr
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) SearchByName(_ context.Context, fragment string, limit, offset int) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nameLookups++
	m.lastLimit, m.lastOffset = limit, offset
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []*Patient
	for _, p := range m.patients {
		if strings.Contains(strings.ToLower(p.PatientName), strings.ToLower(fragment)) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func validInput() CreateInput {
	return CreateInput{
		DoctorID:       "D1",
		PatientName:    "Jane Roe",
		PatientAge:     "34",
		PatientGender:  "F",
		PatientHistory: "none",
		PatientContact: "555-0100",
	}
}

func TestCreate_ReturnsID(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)

	id, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}
	stored := repo.patients[id]
	if stored.Age != 34 || stored.PatientName != "Jane Roe" || stored.DoctorID != "D1" {
		t.Errorf("unexpected stored record: %+v", stored)
	}
}

func TestCreate_ThenFindByID(t *testing.T) {
	svc := NewService(newMockRepo(), nil)

	id, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.Search(context.Background(), "1", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].PatientName != "Jane Roe" {
		t.Errorf("expected the created record, got %+v", got)
	}
}

func TestCreate_MissingField(t *testing.T) {
	fields := map[string]func(in *CreateInput){
		"doctorId":       func(in *CreateInput) { in.DoctorID = "" },
		"patientName":    func(in *CreateInput) { in.PatientName = "  " },
		"patientAge":     func(in *CreateInput) { in.PatientAge = "" },
		"patientGender":  func(in *CreateInput) { in.PatientGender = "" },
		"patientHistory": func(in *CreateInput) { in.PatientHistory = "" },
		"patientContact": func(in *CreateInput) { in.PatientContact = "" },
	}
	for name, mutate := range fields {
		t.Run(name, func(t *testing.T) {
			repo := newMockRepo()
			svc := NewService(repo, nil)
			in := validInput()
			mutate(&in)

			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
			if len(repo.patients) != 0 {
				t.Error("nothing should be inserted")
			}
		})
	}
}

func TestCreate_InvalidAge(t *testing.T) {
	for _, age := range []string{"abc", "-1", "151", "3.5", "1e2"} {
		t.Run(age, func(t *testing.T) {
			repo := newMockRepo()
			in := validInput()
			in.PatientAge = age

			if _, err := NewService(repo, nil).Create(context.Background(), in); !errors.Is(err, ErrInvalidAge) {
				t.Fatalf("expected ErrInvalidAge, got %v", err)
			}
			if len(repo.patients) != 0 {
				t.Error("nothing should be inserted")
			}
		})
	}
}

func TestCreate_AgeBounds(t *testing.T) {
	for _, age := range []string{"0", "150", " 42 "} {
		in := validInput()
		in.PatientAge = age
		if _, err := NewService(newMockRepo(), nil).Create(context.Background(), in); err != nil {
			t.Errorf("age %q: unexpected error: %v", age, err)
		}
	}
}

func TestCreate_StorageError(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = db.Wrap("insert patient", errors.New("relation does not exist"))

	_, err := NewService(repo, nil).Create(context.Background(), validInput())
	var se *db.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *db.StorageError, got %v", err)
	}
}

func TestCreate_PublishesEvent(t *testing.T) {
	rec := &events.Recorder{}
	svc := NewService(newMockRepo(), rec)

	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := rec.OfType(events.TypePatientCreated)
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got[0].Subject != "1" {
		t.Errorf("expected subject 1, got %s", got[0].Subject)
	}
	if _, ok := got[0].Data["patient_name"]; ok {
		t.Error("event must not carry the patient name")
	}
}

func TestSearch_EmptyQueryTouchesNothing(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)

	for _, q := range []string{"", "   "} {
		if _, err := svc.Search(context.Background(), q, 20, 0); !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("expected ErrEmptyQuery, got %v", err)
		}
	}
	if repo.idLookups+repo.nameLookups != 0 {
		t.Error("no query should be executed for an empty search")
	}
}

func TestSearch_NumericUsesIDOnly(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	svc.Create(context.Background(), validInput())

	if _, err := svc.Search(context.Background(), "1", 20, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Search(context.Background(), "999", 20, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if repo.nameLookups != 0 {
		t.Errorf("numeric queries must not search by name, got %d", repo.nameLookups)
	}
	if repo.idLookups != 2 {
		t.Errorf("expected 2 id lookups, got %d", repo.idLookups)
	}
}

func TestSearch_OverflowingNumericNeverSearchesName(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)

	for _, q := range []string{"99999999999999999999", "12345678901234567890123", "-99999999999999999999"} {
		if _, err := svc.Search(context.Background(), q, 20, 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Search(%q): expected ErrNotFound, got %v", q, err)
		}
	}
	if repo.nameLookups != 0 {
		t.Errorf("numeric queries must not search by name, got %d", repo.nameLookups)
	}
}

func TestIsNumeric(t *testing.T) {
	tests := map[string]bool{
		"42": true, "+7": true, "-3": true, "99999999999999999999": true,
		"": false, "+": false, "4a": false, "1 2": false, "١٢": false, "0x10": false,
	}
	for q, want := range tests {
		if got := isNumeric(q); got != want {
			t.Errorf("isNumeric(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestSearch_NameIsCaseInsensitiveSubstring(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	for _, name := range []string{"Ann Lee", "Joanna Smith", "Bob"} {
		in := validInput()
		in.PatientName = name
		svc.Create(context.Background(), in)
	}

	got, err := svc.Search(context.Background(), "ANN", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].PatientName != "Ann Lee" || got[1].PatientName != "Joanna Smith" {
		t.Errorf("unexpected results: %+v", got)
	}
	if repo.idLookups != 0 {
		t.Error("name queries must not look up by id")
	}
}

func TestSearch_MixedQueryIsName(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)

	if _, err := svc.Search(context.Background(), "12abc", 20, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if repo.nameLookups != 1 || repo.idLookups != 0 {
		t.Errorf("expected a name search, got id=%d name=%d", repo.idLookups, repo.nameLookups)
	}
}

func TestSearch_PassesPagination(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	svc.Create(context.Background(), validInput())

	svc.Search(context.Background(), "jane", 5, 0)
	if repo.lastLimit != 5 || repo.lastOffset != 0 {
		t.Errorf("expected limit 5 offset 0, got %d %d", repo.lastLimit, repo.lastOffset)
	}
}

func TestSearch_StorageError(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = db.Wrap("search patients", errors.New("canceling statement due to statement timeout"))

	_, err := NewService(repo, nil).Search(context.Background(), "jane", 20, 0)
	var se *db.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *db.StorageError, got %v", err)
	}
}
