package patient

import "context"

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	SearchByName(ctx context.Context, fragment string, limit, offset int) ([]*Patient, error)
}
