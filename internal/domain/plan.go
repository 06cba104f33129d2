package domain

// Plan is a subscription tier. Prices live with the billing provider.
type Plan struct {
	ID        string
	Title     string
	MaxAgents int
}

// DefaultPlanID is assigned to subscriptions discovered through webhooks.
const DefaultPlanID = "pro-monthly"

var plans = map[string]Plan{
	DefaultPlanID: {ID: DefaultPlanID, Title: "Pro Monthly", MaxAgents: 1},
}

// PlanByID looks up a plan in the catalog.
func PlanByID(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}
