package model

// OwnerRecord is the GORM schema of the owner table
type OwnerRecord struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:255"`
}

// TableName returns the table name
func (OwnerRecord) TableName() string { return "owner" }

// PetRecord is the GORM schema of the pet table. owner_id is nullable.
type PetRecord struct {
	ID      int64        `gorm:"primaryKey;autoIncrement"`
	Name    string       `gorm:"size:255"`
	OwnerID *int64       `gorm:"index"`
	Owner   *OwnerRecord `gorm:"foreignKey:OwnerID;constraint:OnDelete:SET NULL"`
}

// TableName returns the table name
func (PetRecord) TableName() string { return "pet" }

// Records returns the schema records in dependency order, for db.Manager.CreateSchema
func Records() []interface{} {
	return []interface{}{&OwnerRecord{}, &PetRecord{}}
}
