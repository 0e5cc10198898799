package workflow

import (
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
)

// Entity names used in the event journal and permission resources.
const (
	EntityBesoin       = "besoin"
	EntityDemandeAchat = "demande_achat"
	EntityBonLivraison = "bon_livraison"
	EntityEcriture     = "ecriture"
	EntityCaisse       = "caisse"
)

// System actions applied by services.
const (
	ActionProcess gate.Action = "process"
	ActionSatisfy gate.Action = "satisfy"
)

// Besoin: brouillon -> soumis -> valide -> en_traitement -> satisfait.
var Besoin = New(EntityBesoin, models.BesoinBrouillon,
	Transition[models.BesoinStatus]{From: models.BesoinBrouillon, To: models.BesoinSoumis, Action: gate.ActionSubmit},
	Transition[models.BesoinStatus]{From: models.BesoinBrouillon, To: models.BesoinAnnule, Action: gate.ActionCancel},
	Transition[models.BesoinStatus]{From: models.BesoinSoumis, To: models.BesoinValide, Action: gate.ActionValidate},
	Transition[models.BesoinStatus]{From: models.BesoinSoumis, To: models.BesoinRejete, Action: gate.ActionReject, NeedsNote: true},
	Transition[models.BesoinStatus]{From: models.BesoinSoumis, To: models.BesoinBrouillon, Action: gate.ActionRevise, NeedsNote: true},
	Transition[models.BesoinStatus]{From: models.BesoinValide, To: models.BesoinAnnule, Action: gate.ActionCancel},
	Transition[models.BesoinStatus]{From: models.BesoinValide, To: models.BesoinEnTraitement, Action: ActionProcess, Automatic: true},
	Transition[models.BesoinStatus]{From: models.BesoinEnTraitement, To: models.BesoinSatisfait, Action: ActionSatisfy, Automatic: true},
)

// DemandeAchat: brouillon -> soumise -> validee_finance -> payee, with a revision loop.
var DemandeAchat = New(EntityDemandeAchat, models.DABrouillon,
	Transition[models.DAStatus]{From: models.DABrouillon, To: models.DASoumise, Action: gate.ActionSubmit},
	Transition[models.DAStatus]{From: models.DABrouillon, To: models.DAAnnulee, Action: gate.ActionCancel},
	Transition[models.DAStatus]{From: models.DASoumise, To: models.DAValideeFinance, Action: gate.ActionValidate},
	Transition[models.DAStatus]{From: models.DASoumise, To: models.DAEnRevision, Action: gate.ActionRevise, NeedsNote: true},
	Transition[models.DAStatus]{From: models.DASoumise, To: models.DARejetee, Action: gate.ActionReject, NeedsNote: true},
	Transition[models.DAStatus]{From: models.DASoumise, To: models.DAAnnulee, Action: gate.ActionCancel},
	Transition[models.DAStatus]{From: models.DAEnRevision, To: models.DASoumise, Action: gate.ActionSubmit},
	Transition[models.DAStatus]{From: models.DAValideeFinance, To: models.DAPayee, Action: gate.ActionPay, Automatic: true},
)

// BonLivraison: brouillon -> valide -> livre. Cancelling a validated BL restores stock.
var BonLivraison = New(EntityBonLivraison, models.BLBrouillon,
	Transition[models.BLStatus]{From: models.BLBrouillon, To: models.BLValide, Action: gate.ActionValidate},
	Transition[models.BLStatus]{From: models.BLBrouillon, To: models.BLAnnule, Action: gate.ActionCancel},
	Transition[models.BLStatus]{From: models.BLValide, To: models.BLLivre, Action: gate.ActionDeliver},
	Transition[models.BLStatus]{From: models.BLValide, To: models.BLAnnule, Action: gate.ActionCancel, NeedsNote: true},
)

// Ecriture: brouillon -> validee -> payee.
var Ecriture = New(EntityEcriture, models.EcritureBrouillon,
	Transition[models.EcritureStatus]{From: models.EcritureBrouillon, To: models.EcritureValidee, Action: gate.ActionValidate},
	Transition[models.EcritureStatus]{From: models.EcritureBrouillon, To: models.EcritureAnnulee, Action: gate.ActionCancel},
	Transition[models.EcritureStatus]{From: models.EcritureValidee, To: models.EcriturePayee, Action: gate.ActionPay},
	Transition[models.EcritureStatus]{From: models.EcritureValidee, To: models.EcritureAnnulee, Action: gate.ActionCancel, NeedsNote: true},
)
