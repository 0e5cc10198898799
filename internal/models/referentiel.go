package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Departement is an organisational unit raising besoins.
type Departement struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Code      string         `gorm:"uniqueIndex;size:20;not null" json:"code"`
	Nom       string         `gorm:"size:255;not null" json:"nom"`
	ChefID    *uint          `gorm:"index" json:"chef_id,omitempty"`
}

// Projet is a budget line that besoins, DAs and écritures are charged to.
type Projet struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	Code          string          `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Nom           string          `gorm:"size:255;not null" json:"nom"`
	DepartementID *uint           `gorm:"index" json:"departement_id,omitempty"`
	Budget        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"budget"`
	Actif         bool            `gorm:"not null;default:true" json:"actif"`
}

// TiersType classifies a counterpart.
type TiersType string

const (
	TiersFournisseur TiersType = "fournisseur"
	TiersPrestataire TiersType = "prestataire"
	TiersParticulier TiersType = "particulier"
)

// TiersTypes lists accepted tiers types.
var TiersTypes = []string{string(TiersFournisseur), string(TiersPrestataire), string(TiersParticulier)}

// Tiers is a third party paid through écritures.
type Tiers struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Nom       string         `gorm:"size:255;not null" json:"nom"`
	Type      TiersType      `gorm:"size:20;not null" json:"type"`
	Telephone string         `gorm:"size:50" json:"telephone,omitempty"`
	Email     string         `gorm:"size:255" json:"email,omitempty"`
	Adresse   string         `gorm:"size:500" json:"adresse,omitempty"`
	NIF       string         `gorm:"size:50" json:"nif,omitempty"`
}

// TableName keeps the French plural.
func (Tiers) TableName() string { return "tiers" }

// Fournisseur is a supplier quoted on DAs.
type Fournisseur struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Nom       string         `gorm:"size:255;not null" json:"nom"`
	TiersID   *uint          `gorm:"index" json:"tiers_id,omitempty"`
	Contact   string         `gorm:"size:255" json:"contact,omitempty"`
	Telephone string         `gorm:"size:50" json:"telephone,omitempty"`
	Email     string         `gorm:"size:255" json:"email,omitempty"`
	Adresse   string         `gorm:"size:500" json:"adresse,omitempty"`
}

// Article is a stock item served by bons de livraison.
type Article struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	Code          string          `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Designation   string          `gorm:"size:255;not null" json:"designation"`
	Unite         string          `gorm:"size:20;not null;default:'unite'" json:"unite"`
	QuantiteStock decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0" json:"quantite_stock"`
	SeuilAlerte   decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0" json:"seuil_alerte"`
	PrixUnitaire  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"prix_unitaire"`
}

// SousSeuil reports whether stock is at or below the alert threshold.
func (a *Article) SousSeuil() bool {
	return a.SeuilAlerte.IsPositive() && a.QuantiteStock.LessThanOrEqual(a.SeuilAlerte)
}

// Stock movement types.
const (
	MouvementStockSortie      = "sortie_bl"
	MouvementStockRestoration = "restore_annulation"
	MouvementStockEntree      = "entree"
)

// MouvementStock records every stock change with the quantity before and after.
type MouvementStock struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	ArticleID      uint            `gorm:"index;not null" json:"article_id"`
	Type           string          `gorm:"size:30;not null" json:"type"`
	Quantite       decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantite"` // negative = sortie
	StockAvant     decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"stock_avant"`
	StockApres     decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"stock_apres"`
	BonLivraisonID *uint           `gorm:"index" json:"bon_livraison_id,omitempty"`
	UserID         uint            `json:"user_id"`
	Motif          string          `gorm:"size:500" json:"motif,omitempty"`
}

// TableName keeps the French plural.
func (MouvementStock) TableName() string { return "mouvements_stock" }

// FieldDef describes one input of the dynamic payment form.
type FieldDef struct {
	Name    string   `json:"name" yaml:"name"`
	Label   string   `json:"label" yaml:"label"`
	Type    string   `json:"type" yaml:"type"` // text, number, date, select
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// PaymentCategory drives which details an écriture must carry.
type PaymentCategory struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Code           string         `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Libelle        string         `gorm:"size:255;not null" json:"libelle"`
	CompteDebit    string         `gorm:"size:20" json:"compte_debit,omitempty"`
	RequiredFields []FieldDef     `gorm:"serializer:json" json:"required_fields"`
	Actif          bool           `gorm:"not null;default:true" json:"actif"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// PaymentMethod is how an écriture is settled. IsCash methods disburse from a caisse.
type PaymentMethod struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Code           string         `gorm:"uniqueIndex;size:50;not null" json:"code"`
	Libelle        string         `gorm:"size:255;not null" json:"libelle"`
	IsCash         bool           `gorm:"not null;default:false" json:"is_cash"`
	CompteCredit   string         `gorm:"size:20" json:"compte_credit,omitempty"`
	RequiredFields []FieldDef     `gorm:"serializer:json" json:"required_fields"`
	Actif          bool           `gorm:"not null;default:true" json:"actif"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}
