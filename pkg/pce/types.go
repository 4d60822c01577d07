package pce

// Ref is a reference to another PCE object.
type Ref struct {
	Href string `json:"href"`
}

// Actor is one entry of a rule's source or destination list.
type Actor struct {
	Actors     string `json:"actors,omitempty"`
	Label      *Ref   `json:"label,omitempty"`
	LabelGroup *Ref   `json:"label_group,omitempty"`
	IPList     *Ref   `json:"ip_list,omitempty"`
	Workload   *Ref   `json:"workload,omitempty"`
}

// Service is one entry of a rule's service list: either a reference to a
// service object or an inline port/protocol.
type Service struct {
	Href   string `json:"href,omitempty"`
	Port   *int   `json:"port,omitempty"`
	ToPort *int   `json:"to_port,omitempty"`
	Proto  *int   `json:"proto,omitempty"`
}

// Rule is a security rule inside a rule set.
type Rule struct {
	Href            string    `json:"href"`
	Enabled         bool      `json:"enabled"`
	Description     string    `json:"description,omitempty"`
	Consumers       []Actor   `json:"consumers,omitempty"`
	Destinations    []Actor   `json:"destinations,omitempty"`
	Providers       []Actor   `json:"providers,omitempty"`
	IngressServices []Service `json:"ingress_services,omitempty"`
}

// Sources returns the rule's source actors. Newer PCE versions call them
// "destinations", older ones "consumers".
func (r *Rule) Sources() []Actor {
	if r.Destinations != nil {
		return r.Destinations
	}
	return r.Consumers
}

// Targets returns the actors the rule grants access to.
func (r *Rule) Targets() []Actor {
	return r.Providers
}

// Object is a rule or rule set as returned by the PCE.
type Object struct {
	Href        string `json:"href"`
	Name        string `json:"name,omitempty"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
	Rules       []Rule `json:"rules,omitempty"`

	// Namespace is "active" or "draft" depending on which copy answered.
	Namespace string `json:"-"`
}

// ProvisionState is the commit status of an object.
type ProvisionState string

const (
	// ProvisionActive means a committed copy exists.
	ProvisionActive ProvisionState = "active"

	// ProvisionDraft means only an uncommitted draft exists.
	ProvisionDraft ProvisionState = "draft"

	// ProvisionUnknown means the PCE could not be reached.
	ProvisionUnknown ProvisionState = "unknown"
)

// dependencyKinds lists the object kinds the PCE may report as dependencies
// of a rule set change.
var dependencyKinds = []string{
	"rule_sets",
	"ip_lists",
	"services",
	"label_groups",
	"virtual_services",
	"firewall_settings",
	"enforcement_boundaries",
	"virtual_servers",
	"secure_connect_gateways",
}

// ChangeSubset is the set of draft objects committed by one provision request.
type ChangeSubset map[string][]Ref

// add appends href under kind unless already present.
func (c ChangeSubset) add(kind, href string) {
	if href == "" {
		return
	}
	for _, r := range c[kind] {
		if r.Href == href {
			return
		}
	}
	c[kind] = append(c[kind], Ref{Href: href})
}

// Len returns the number of objects in the subset.
func (c ChangeSubset) Len() int {
	n := 0
	for _, refs := range c {
		n += len(refs)
	}
	return n
}

type label struct {
	Href  string `json:"href"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ipList struct {
	Href string `json:"href"`
	Name string `json:"name"`
}
