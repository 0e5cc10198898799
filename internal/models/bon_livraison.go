package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BLStatus is the lifecycle of a delivery note.
type BLStatus string

const (
	BLBrouillon BLStatus = "brouillon"
	BLValide    BLStatus = "valide"
	BLLivre     BLStatus = "livre"
	BLAnnule    BLStatus = "annule"
)

// BonLivraison serves a besoin from stock.
type BonLivraison struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Numero         string         `gorm:"uniqueIndex;size:30;not null" json:"numero"`
	Status         BLStatus       `gorm:"size:20;not null;default:'brouillon';index" json:"status"`
	BesoinID       uint           `gorm:"index;not null" json:"besoin_id"`
	DepartementID  uint           `gorm:"index;not null" json:"departement_id"`
	CreeParID      uint           `gorm:"not null" json:"cree_par_id"`
	ValideParID    *uint          `json:"valide_par_id,omitempty"`
	ValideLe       *time.Time     `json:"valide_le,omitempty"`
	DateLivraison  *time.Time     `json:"date_livraison,omitempty"`
	Receptionnaire string         `gorm:"size:255" json:"receptionnaire,omitempty"`
	Observations   string         `gorm:"size:500" json:"observations,omitempty"`

	Articles []BLArticle `gorm:"foreignKey:BonLivraisonID;constraint:OnDelete:CASCADE" json:"articles,omitempty"`
}

// TableName keeps the French plural.
func (BonLivraison) TableName() string { return "bons_livraison" }

// GetUserID returns the creator for ownership checks.
func (b *BonLivraison) GetUserID() uint { return b.CreeParID }

// GetDepartementID returns the department for scope checks.
func (b *BonLivraison) GetDepartementID() uint { return b.DepartementID }

// BLArticle is one delivered line, always tied to a besoin line and a stock article.
type BLArticle struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	BonLivraisonID uint            `gorm:"index;not null" json:"bon_livraison_id"`
	BesoinLigneID  uint            `gorm:"index;not null" json:"besoin_ligne_id"`
	ArticleID      uint            `gorm:"index;not null" json:"article_id"`
	Article        *Article        `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Quantite       decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantite"`
}

// TableName keeps the short table name.
func (BLArticle) TableName() string { return "bl_articles" }
