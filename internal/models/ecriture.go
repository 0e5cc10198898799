package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EcritureStatus is the lifecycle of an accounting entry.
type EcritureStatus string

const (
	EcritureBrouillon EcritureStatus = "brouillon"
	EcritureValidee   EcritureStatus = "validee"
	EcriturePayee     EcritureStatus = "payee"
	EcritureAnnulee   EcritureStatus = "annulee"
)

// Journals.
const (
	JournalAchats             = "achats"
	JournalCaisse             = "caisse"
	JournalBanque             = "banque"
	JournalOperationsDiverses = "operations_diverses"
)

// Journals lists accepted journal codes.
var Journals = []string{JournalAchats, JournalCaisse, JournalBanque, JournalOperationsDiverses}

// EcritureComptable is a double-entry line with its payment metadata.
type EcritureComptable struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
	Numero       string          `gorm:"uniqueIndex;size:30;not null" json:"numero"`
	Journal      string          `gorm:"size:30;not null;index" json:"journal"`
	DateEcriture time.Time       `gorm:"not null" json:"date_ecriture"`
	Libelle      string          `gorm:"size:255;not null" json:"libelle"`
	CompteDebit  string          `gorm:"size:20;not null" json:"compte_debit"`
	CompteCredit string          `gorm:"size:20;not null" json:"compte_credit"`
	Montant      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"montant"`
	Status       EcritureStatus  `gorm:"size:20;not null;default:'brouillon';index" json:"status"`

	TiersID           *uint          `gorm:"index" json:"tiers_id,omitempty"`
	Tiers             *Tiers         `gorm:"foreignKey:TiersID" json:"tiers,omitempty"`
	ProjetID          *uint          `gorm:"index" json:"projet_id,omitempty"`
	DepartementID     *uint          `gorm:"index" json:"departement_id,omitempty"`
	DemandeAchatID    *uint          `gorm:"index" json:"demande_achat_id,omitempty"`
	PaymentCategoryID *uint          `json:"payment_category_id,omitempty"`
	PaymentMethodID   *uint          `json:"payment_method_id,omitempty"`
	Details           map[string]any `gorm:"serializer:json" json:"details,omitempty"`

	CreeParID   uint       `gorm:"not null" json:"cree_par_id"`
	ValideeLe   *time.Time `json:"validee_le,omitempty"`
	PayeeLe     *time.Time `json:"payee_le,omitempty"`
	PayeeParID  *uint      `json:"payee_par_id,omitempty"`
	CaisseID    *uint      `gorm:"index" json:"caisse_id,omitempty"`
	MotifAnnule string     `gorm:"size:500" json:"motif_annulation,omitempty"`
}

// TableName keeps the French plural.
func (EcritureComptable) TableName() string { return "ecritures_comptables" }

// GetUserID returns the author for ownership checks.
func (e *EcritureComptable) GetUserID() uint { return e.CreeParID }
