package allocation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type OrderState string

const (
	OrderStatePendingProvider OrderState = "pending-provider"
	OrderStateExecuting       OrderState = "executing"
	OrderStateDone            OrderState = "done"
)

type ResourceState string

const (
	// ResourceStateCreating marks resources whose order still awaits provider approval.
	ResourceStateCreating ResourceState = "Creating"
	ResourceStateOK       ResourceState = "OK"
)

type BillingType string

const (
	BillingTypeLimit BillingType = "limit"
	BillingTypeUsage BillingType = "usage"
	BillingTypeFixed BillingType = "fixed"
)

// LimitEntry is one component quota of a resource.
type LimitEntry struct {
	Type  string
	Value float64
}

// Limits is a component-type → amount map that keeps the order in which the
// allocation service listed the entries. Component selection depends on it.
type Limits []LimitEntry

func (l Limits) Len() int { return len(l) }

func (l Limits) Get(componentType string) (float64, bool) {
	for _, entry := range l {
		if entry.Type == componentType {
			return entry.Value, true
		}
	}
	return 0, false
}

// Add sums value into the entry of componentType, appending it when missing.
func (l Limits) Add(componentType string, value float64) Limits {
	for i := range l {
		if l[i].Type == componentType {
			l[i].Value += value
			return l
		}
	}
	return append(l, LimitEntry{Type: componentType, Value: value})
}

func (l Limits) Clone() Limits {
	if l == nil {
		return nil
	}
	out := make(Limits, len(l))
	copy(out, l)
	return out
}

func (l *Limits) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("allocation: limits must be an object, got %v", tok)
	}

	out := Limits{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("allocation: invalid limits key %v", keyTok)
		}
		var raw json.Number
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("allocation: limit %q: %w", key, err)
		}
		value, err := raw.Float64()
		if err != nil {
			return fmt.Errorf("allocation: limit %q: %w", key, err)
		}
		out = out.Add(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = out
	return nil
}

func (l Limits) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Type)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Order is a marketplace order awaiting a provider decision.
type Order struct {
	UUID         string     `json:"uuid"`
	ResourceUUID string     `json:"marketplace_resource_uuid"`
	ProjectUUID  string     `json:"project_uuid"`
	OfferingUUID string     `json:"offering_uuid"`
	State        OrderState `json:"state"`
	Type         string     `json:"type"`
	Limits       Limits     `json:"limits"`
	PlanUnit     string     `json:"plan_unit"`
}

// Resource describes an allocation a project holds on this provider.
// Attributes this engine does not model are kept in Extra.
type Resource struct {
	UUID         string        `json:"uuid"`
	Name         string        `json:"name"`
	ProjectUUID  string        `json:"project_uuid"`
	OfferingUUID string        `json:"offering_uuid"`
	State        ResourceState `json:"state"`
	PlanUnit     string        `json:"plan_unit"`
	Limits       Limits        `json:"limits"`
	LimitUsage   Limits        `json:"limit_usage"`

	Extra map[string]json.RawMessage `json:"-"`
}

var resourceKnownFields = map[string]struct{}{
	"uuid":          {},
	"name":          {},
	"project_uuid":  {},
	"offering_uuid": {},
	"state":         {},
	"plan_unit":     {},
	"limits":        {},
	"limit_usage":   {},
}

func (r *Resource) UnmarshalJSON(data []byte) error {
	type plain Resource
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, value := range fields {
		if _, known := resourceKnownFields[key]; known {
			continue
		}
		if decoded.Extra == nil {
			decoded.Extra = make(map[string]json.RawMessage)
		}
		decoded.Extra[key] = value
	}
	*r = Resource(decoded)
	return nil
}

// LimitBased reports whether the resource carries a pre-purchased allotment.
func (r Resource) LimitBased() bool {
	return r.Limits.Len() > 0
}

// Component is a billable sub-resource type of an offering.
type Component struct {
	Type         string      `json:"type"`
	Name         string      `json:"name"`
	MeasuredUnit string      `json:"measured_unit"`
	BillingType  BillingType `json:"billing_type"`
}

func (c Component) Unit() (TimeUnit, error) {
	unit, err := ParseTimeUnit(c.MeasuredUnit)
	if err != nil {
		return "", fmt.Errorf("component %q: %w", c.Type, err)
	}
	return unit, nil
}

type Offering struct {
	UUID       string      `json:"uuid"`
	Name       string      `json:"name"`
	Components []Component `json:"components"`
}

func (o Offering) Component(componentType string) (Component, bool) {
	for _, c := range o.Components {
		if c.Type == componentType {
			return c, true
		}
	}
	return Component{}, false
}

// DefaultComponent is the first usage-billed component, or the first
// component when the offering has no usage-billed one.
func (o Offering) DefaultComponent() (Component, bool) {
	for _, c := range o.Components {
		if c.BillingType == BillingTypeUsage {
			return c, true
		}
	}
	if len(o.Components) == 0 {
		return Component{}, false
	}
	return o.Components[0], true
}

type TeamMember struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type PlanPeriod struct {
	UUID     string `json:"uuid"`
	PlanName string `json:"plan_name"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

// ResourceFilter narrows ListResources; empty fields are not sent.
type ResourceFilter struct {
	ProviderID string
	ProjectID  string
	State      ResourceState
}

type ComponentUsage struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// UsageReport is the body of a set_usage call for one plan period.
type UsageReport struct {
	PlanPeriod string           `json:"plan_period"`
	Usages     []ComponentUsage `json:"usages"`
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Emails returns the normalized, non-empty member emails.
func Emails(members []TeamMember) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if email := normalizeEmail(m.Email); email != "" {
			out = append(out, email)
		}
	}
	return out
}
