package allocation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsKeepServiceOrder(t *testing.T) {
	var limits Limits
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":2.5,"mid":3}`), &limits))

	assert.Equal(t, Limits{{"zeta", 1}, {"alpha", 2.5}, {"mid", 3}}, limits)

	raw, err := json.Marshal(limits)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":2.5,"mid":3}`, string(raw))
	assert.Equal(t, `{"zeta":1,"alpha":2.5,"mid":3}`, string(raw))
}

func TestLimitsAddSumsSameType(t *testing.T) {
	var limits Limits
	limits = limits.Add("pre-paid", 10)
	limits = limits.Add("cpu", 1)
	limits = limits.Add("pre-paid", 20)

	value, ok := limits.Get("pre-paid")
	require.True(t, ok)
	assert.Equal(t, 30.0, value)
	assert.Equal(t, "pre-paid", limits[0].Type)
	assert.Equal(t, 2, limits.Len())
}

func TestLimitsRejectNonObject(t *testing.T) {
	var limits Limits
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &limits))
	require.NoError(t, json.Unmarshal([]byte(`null`), &limits))
	assert.Nil(t, limits)
}

func TestResourceKeepsUnknownFields(t *testing.T) {
	var resource Resource
	require.NoError(t, json.Unmarshal([]byte(`{
		"uuid": "r1",
		"project_uuid": "p1",
		"offering_uuid": "o1",
		"state": "OK",
		"limits": {"pre-paid": 1},
		"customer_name": "ACME",
		"attributes": {"qpu": "ibm"}
	}`), &resource))

	assert.Equal(t, ResourceStateOK, resource.State)
	assert.True(t, resource.LimitBased())
	assert.JSONEq(t, `"ACME"`, string(resource.Extra["customer_name"]))
	assert.Contains(t, resource.Extra, "attributes")
	assert.NotContains(t, resource.Extra, "uuid")
}

func TestOfferingDefaultComponent(t *testing.T) {
	offering := Offering{Components: []Component{
		{Type: "setup", BillingType: BillingTypeFixed},
		{Type: "pre-paid", BillingType: BillingTypeLimit},
		{Type: "metered", BillingType: BillingTypeUsage},
	}}
	c, ok := offering.DefaultComponent()
	require.True(t, ok)
	assert.Equal(t, "metered", c.Type)

	offering.Components = offering.Components[:2]
	c, ok = offering.DefaultComponent()
	require.True(t, ok)
	assert.Equal(t, "setup", c.Type)

	_, ok = Offering{}.DefaultComponent()
	assert.False(t, ok)
}

func TestEmailsNormalized(t *testing.T) {
	got := Emails([]TeamMember{{Email: " Alice@Example.com "}, {Email: ""}, {Email: "bob@example.com"}})
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, got)
}
