package gate

// Action describes the kind of operation a user wants to perform.
// CRUD actions apply to every resource; workflow actions name status changes.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"

	ActionSubmit   Action = "submit"
	ActionValidate Action = "validate"
	ActionReject   Action = "reject"
	ActionRevise   Action = "revise"
	ActionCancel   Action = "cancel"
	ActionDeliver  Action = "deliver"
	ActionPay      Action = "pay"

	// ActionAllDepartments lifts department scoping for a resource.
	ActionAllDepartments Action = "all_departments"
)
