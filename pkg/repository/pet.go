package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/model"
	"github.com/ammar0144/nplusone/pkg/orm"
)

// PetRepository reads and writes pets
type PetRepository struct {
	Repository[*model.Pet]
}

// NewPetRepository creates a pet repository over session
func NewPetRepository(session *orm.Session) *PetRepository {
	return &PetRepository{Repository: NewGenericRepository[*model.Pet](session)}
}

// FindAllWithOwner loads pets with their owners in one SELECT
func (r *PetRepository) FindAllWithOwner(ctx context.Context) ([]*model.Pet, error) {
	return r.Query(ctx, "SELECT p FROM Pet p LEFT JOIN FETCH p.owner")
}

// FindByOwner returns the pets whose foreign key names owner
func (r *PetRepository) FindByOwner(ctx context.Context, owner *model.Owner) ([]*model.Pet, error) {
	if owner == nil || owner.ID == 0 {
		return nil, fmt.Errorf("%w: owner has no id", orm.ErrTransientReference)
	}
	return r.FindWhere(ctx, "owner_id", db.Equal, owner.ID)
}

// FindOrphans returns the pets without an owner
func (r *PetRepository) FindOrphans(ctx context.Context) ([]*model.Pet, error) {
	return r.FindWhere(ctx, "owner_id", db.IsNull, nil)
}
