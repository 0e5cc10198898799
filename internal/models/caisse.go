package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Caisse is a cash register with a running balance.
type Caisse struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	Code          string          `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Libelle       string          `gorm:"size:255;not null" json:"libelle"`
	DepartementID *uint           `gorm:"index" json:"departement_id,omitempty"`
	ResponsableID *uint           `json:"responsable_id,omitempty"`
	SoldeInitial  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"solde_initial"`
	Solde         decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"solde"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
}

// Caisse movement types.
const (
	MouvementEntree = "entree"
	MouvementSortie = "sortie"
)

// CaisseMouvement is an immutable ledger row. SoldeApres of one row is
// SoldeAvant of the next for the same caisse.
type CaisseMouvement struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Reference     string          `gorm:"uniqueIndex;size:30;not null" json:"reference"`
	CaisseID      uint            `gorm:"index;not null" json:"caisse_id"`
	Type          string          `gorm:"size:10;not null" json:"type"`
	Montant       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"montant"`
	SoldeAvant    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"solde_avant"`
	SoldeApres    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"solde_apres"`
	Motif         string          `gorm:"size:500;not null" json:"motif"`
	EcritureID    *uint           `gorm:"index" json:"ecriture_id,omitempty"`
	BesoinID      *uint           `gorm:"index" json:"besoin_id,omitempty"`
	UserID        uint            `gorm:"not null" json:"user_id"`
	DateMouvement time.Time       `gorm:"not null;index" json:"date_mouvement"`
}

// TableName keeps the French plural.
func (CaisseMouvement) TableName() string { return "caisse_mouvements" }

// Signed returns the amount with the sign of its effect on the balance.
func (m *CaisseMouvement) Signed() decimal.Decimal {
	if m.Type == MouvementSortie {
		return m.Montant.Neg()
	}
	return m.Montant
}
