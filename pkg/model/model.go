// Package model holds the Owner and Pet entities, their metadata and the GORM
// records used to create the schema.
package model

import (
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/ammar0144/nplusone/pkg/orm"
)

// Entity and graph names
const (
	OwnerEntity = "Owner"
	PetEntity   = "Pet"

	// OwnerWithPets is the named graph that fetches Owner.pets
	OwnerWithPets = "Owner.withPets"
)

// Owner has many pets
type Owner struct {
	ID   int64
	Name string
	Pets orm.Collection[*Pet]
}

func (o *Owner) EntityName() string      { return OwnerEntity }
func (o *Owner) PrimaryKey() int64       { return o.ID }
func (o *Owner) SetPrimaryKey(id int64)  { o.ID = id }
func (o *Owner) Values() []interface{}   { return []interface{}{o.Name} }
func (o *Owner) Pointers() []interface{} { return []interface{}{&o.Name} }

func (o *Owner) Association(name string) interface{} {
	if name == "pets" {
		return &o.Pets
	}
	return nil
}

// AddPet links both sides of the association. It fails only when Pets is an
// unloaded collection of a cleared or closed session.
func (o *Owner) AddPet(p *Pet) error {
	if err := o.Pets.Add(p); err != nil {
		return err
	}
	p.Owner.Set(o)
	return nil
}

// Pet belongs to at most one owner
type Pet struct {
	ID    int64
	Name  string
	Owner orm.Reference[*Owner]
}

func (p *Pet) EntityName() string      { return PetEntity }
func (p *Pet) PrimaryKey() int64       { return p.ID }
func (p *Pet) SetPrimaryKey(id int64)  { p.ID = id }
func (p *Pet) Values() []interface{}   { return []interface{}{p.Name} }
func (p *Pet) Pointers() []interface{} { return []interface{}{&p.Name} }

func (p *Pet) Association(name string) interface{} {
	if name == "owner" {
		return &p.Owner
	}
	return nil
}

// Register adds Owner, Pet and the Owner.withPets graph to reg.
//
// Both sides are lazy. Reading each pet's owner after loading pets on their own
// costs one select per distinct owner.
func Register(reg *metadata.Registry) error {
	if err := reg.Register(&metadata.Entity{
		Name:     OwnerEntity,
		Table:    "owner",
		IDColumn: "id",
		Columns:  []string{"name"},
		New:      func() any { return &Owner{} },
		Associations: []*metadata.Association{{
			Name:        "pets",
			Target:      PetEntity,
			Cardinality: metadata.OneToMany,
			Inverse:     "owner",
			JoinColumn:  "owner_id",
			Fetch:       metadata.Lazy,
		}},
	}); err != nil {
		return err
	}
	if err := reg.Register(&metadata.Entity{
		Name:     PetEntity,
		Table:    "pet",
		IDColumn: "id",
		Columns:  []string{"name"},
		New:      func() any { return &Pet{} },
		Associations: []*metadata.Association{{
			Name:        "owner",
			Target:      OwnerEntity,
			Cardinality: metadata.ManyToOne,
			Inverse:     "pets",
			JoinColumn:  "owner_id",
			Owning:      true,
			Fetch:       metadata.Lazy,
		}},
	}); err != nil {
		return err
	}
	return reg.RegisterGraph(OwnerEntity, OwnerWithPets, "pets")
}

// NewRegistry returns a registry holding the model
func NewRegistry() (*metadata.Registry, error) {
	reg := metadata.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
