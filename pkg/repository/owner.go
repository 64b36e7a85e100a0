package repository

import (
	"context"

	"github.com/ammar0144/nplusone/pkg/model"
	"github.com/ammar0144/nplusone/pkg/orm"
)

// Owner queries. The three eager variants each load owners and pets in one
// SELECT; FindAll leaves pets lazy.
const (
	allOwners         = "SELECT o FROM Owner o"
	allOwnersWithPets = "SELECT o FROM Owner o LEFT JOIN FETCH o.pets"
)

// OwnerRepository reads and writes owners
type OwnerRepository struct {
	Repository[*model.Owner]
}

// NewOwnerRepository creates an owner repository over session
func NewOwnerRepository(session *orm.Session) *OwnerRepository {
	return &OwnerRepository{Repository: NewGenericRepository[*model.Owner](session)}
}

// FindAllWithPets loads owners with an inline join fetch of their pets
func (r *OwnerRepository) FindAllWithPets(ctx context.Context) ([]*model.Owner, error) {
	return r.Query(ctx, allOwnersWithPets)
}

// FindAllWithNamedEntityGraph loads owners through the Owner.withPets graph
func (r *OwnerRepository) FindAllWithNamedEntityGraph(ctx context.Context) ([]*model.Owner, error) {
	return r.WithGraph(model.OwnerWithPets).Query(ctx, allOwners)
}

// FindAllWithPetsEntityGraph loads owners with the ad-hoc attribute path "pets"
func (r *OwnerRepository) FindAllWithPetsEntityGraph(ctx context.Context) ([]*model.Owner, error) {
	return r.Fetch("pets").Query(ctx, allOwners)
}

// FindByName returns the owners with the given name
func (r *OwnerRepository) FindByName(ctx context.Context, name string) ([]*model.Owner, error) {
	return r.Query(ctx, "SELECT o FROM Owner o WHERE o.name = ?", name)
}
