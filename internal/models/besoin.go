package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BesoinStatus is the lifecycle of an internal need.
type BesoinStatus string

const (
	BesoinBrouillon    BesoinStatus = "brouillon"
	BesoinSoumis       BesoinStatus = "soumis"
	BesoinValide       BesoinStatus = "valide"
	BesoinRejete       BesoinStatus = "rejete"
	BesoinEnTraitement BesoinStatus = "en_traitement"
	BesoinSatisfait    BesoinStatus = "satisfait"
	BesoinAnnule       BesoinStatus = "annule"
)

// Priorities accepted on a besoin.
var BesoinPriorites = []string{"basse", "normale", "haute", "urgente"}

// Besoin is an internal need raised by a department.
type Besoin struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	Numero        string         `gorm:"uniqueIndex;size:30;not null" json:"numero"`
	Titre         string         `gorm:"size:255;not null" json:"titre"`
	Description   string         `gorm:"type:text" json:"description,omitempty"`
	Priorite      string         `gorm:"size:20;not null;default:'normale'" json:"priorite"`
	DateSouhaitee *time.Time     `json:"date_souhaitee,omitempty"`
	Status        BesoinStatus   `gorm:"size:20;not null;default:'brouillon';index" json:"status"`
	MotifRejet    string         `gorm:"size:500" json:"motif_rejet,omitempty"`

	DepartementID uint         `gorm:"index;not null" json:"departement_id"`
	Departement   *Departement `gorm:"foreignKey:DepartementID" json:"departement,omitempty"`
	ProjetID      *uint        `gorm:"index" json:"projet_id,omitempty"`
	Projet        *Projet      `gorm:"foreignKey:ProjetID" json:"projet,omitempty"`
	DemandeurID   uint         `gorm:"index;not null" json:"demandeur_id"`
	ValideParID   *uint        `json:"valide_par_id,omitempty"`
	ValideLe      *time.Time   `json:"valide_le,omitempty"`

	Lignes []BesoinLigne `gorm:"foreignKey:BesoinID;constraint:OnDelete:CASCADE" json:"lignes,omitempty"`
}

// GetUserID returns the demandeur for ownership checks.
func (b *Besoin) GetUserID() uint { return b.DemandeurID }

// GetDepartementID returns the department for scope checks.
func (b *Besoin) GetDepartementID() uint { return b.DepartementID }

// CanEdit is true while the besoin is a draft.
func (b *Besoin) CanEdit() bool { return b.Status == BesoinBrouillon }

// Servable is true when DAs or BLs may be raised against the besoin.
func (b *Besoin) Servable() bool {
	return b.Status == BesoinValide || b.Status == BesoinEnTraitement
}

// BesoinLigne is one requested item.
type BesoinLigne struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	BesoinID    uint            `gorm:"index;not null" json:"besoin_id"`
	ArticleID   *uint           `gorm:"index" json:"article_id,omitempty"`
	Article     *Article        `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Designation string          `gorm:"size:255;not null" json:"designation"`
	Quantite    decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantite"`
	Unite       string          `gorm:"size:20;not null;default:'unite'" json:"unite"`
	Position    int             `gorm:"default:0" json:"position"`
}
