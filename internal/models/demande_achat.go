package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DAStatus is the lifecycle of a purchase request.
type DAStatus string

const (
	DABrouillon      DAStatus = "brouillon"
	DASoumise        DAStatus = "soumise"
	DAEnRevision     DAStatus = "en_revision"
	DAValideeFinance DAStatus = "validee_finance"
	DARejetee        DAStatus = "rejetee"
	DAPayee          DAStatus = "payee"
	DAAnnulee        DAStatus = "annulee"
)

// DemandeAchat is a purchase request, usually derived from a besoin.
type DemandeAchat struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	DeletedAt           gorm.DeletedAt  `gorm:"index" json:"-"`
	Numero              string          `gorm:"uniqueIndex;size:30;not null" json:"numero"`
	Objet               string          `gorm:"size:255;not null" json:"objet"`
	Status              DAStatus        `gorm:"size:20;not null;default:'brouillon';index" json:"status"`
	MontantTotal        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"montant_total"`
	MotifRejet          string          `gorm:"size:500" json:"motif_rejet,omitempty"`
	CommentaireRevision string          `gorm:"size:500" json:"commentaire_revision,omitempty"`

	BesoinID      *uint        `gorm:"index" json:"besoin_id,omitempty"`
	ProjetID      *uint        `gorm:"index" json:"projet_id,omitempty"`
	DepartementID uint         `gorm:"index;not null" json:"departement_id"`
	FournisseurID *uint        `gorm:"index" json:"fournisseur_id,omitempty"`
	Fournisseur   *Fournisseur `gorm:"foreignKey:FournisseurID" json:"fournisseur,omitempty"`
	DemandeurID   uint         `gorm:"index;not null" json:"demandeur_id"`
	ValideeParID  *uint        `json:"validee_par_id,omitempty"`
	ValideeLe     *time.Time   `json:"validee_le,omitempty"`
	PayeeLe       *time.Time   `json:"payee_le,omitempty"`

	Articles []DAArticle `gorm:"foreignKey:DemandeAchatID;constraint:OnDelete:CASCADE" json:"articles,omitempty"`
}

// TableName keeps the French plural.
func (DemandeAchat) TableName() string { return "demandes_achat" }

// GetUserID returns the demandeur for ownership checks.
func (d *DemandeAchat) GetUserID() uint { return d.DemandeurID }

// GetDepartementID returns the department for scope checks.
func (d *DemandeAchat) GetDepartementID() uint { return d.DepartementID }

// CanEdit is true while the DA is a draft or sent back for revision.
func (d *DemandeAchat) CanEdit() bool {
	return d.Status == DABrouillon || d.Status == DAEnRevision
}

// ComputeTotal recomputes line totals and the header total.
func (d *DemandeAchat) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range d.Articles {
		d.Articles[i].MontantTotal = d.Articles[i].LineTotal()
		total = total.Add(d.Articles[i].MontantTotal)
	}
	d.MontantTotal = total
	return total
}

// DAArticle is one purchased line.
type DAArticle struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DemandeAchatID uint            `gorm:"index;not null" json:"demande_achat_id"`
	BesoinLigneID  *uint           `gorm:"index" json:"besoin_ligne_id,omitempty"`
	ArticleID      *uint           `gorm:"index" json:"article_id,omitempty"`
	Designation    string          `gorm:"size:255;not null" json:"designation"`
	Quantite       decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantite"`
	PrixUnitaire   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"prix_unitaire"`
	MontantTotal   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"montant_total"`
}

// TableName keeps the short table name.
func (DAArticle) TableName() string { return "da_articles" }

// LineTotal is quantity times unit price rounded to cents.
func (a *DAArticle) LineTotal() decimal.Decimal {
	return a.Quantite.Mul(a.PrixUnitaire).Round(2)
}
