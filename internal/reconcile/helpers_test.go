package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/allocsync/internal/allocation"
	"github.com/smallbiznis/allocsync/internal/clock"
	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/migration"
	projectrepo "github.com/smallbiznis/allocsync/internal/project/repository"
	usagerepo "github.com/smallbiznis/allocsync/internal/usage/repository"
)

const testProvider = "3fa85f64-5717-4562-b3fc-2c963f66afa6"

// fakeAPI is an in-memory allocation service.
type fakeAPI struct {
	mu sync.Mutex

	orders     []allocation.Order
	resources  []allocation.Resource
	teams      map[string][]allocation.TeamMember
	offerings  map[string]allocation.Offering
	periods    map[string][]allocation.PlanPeriod
	listErr    map[string]error
	teamErr    map[string]error
	approveErr map[string]error
	submitErr  map[string]error

	approved  []string
	submitted []allocation.UsageReport
	calls     map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		teams:      map[string][]allocation.TeamMember{},
		offerings:  map[string]allocation.Offering{},
		periods:    map[string][]allocation.PlanPeriod{},
		listErr:    map[string]error{},
		teamErr:    map[string]error{},
		approveErr: map[string]error{},
		submitErr:  map[string]error{},
		calls:      map[string]int{},
	}
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) ListOrders(_ context.Context, _ string, state allocation.OrderState) ([]allocation.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpListOrders]++
	var out []allocation.Order
	for _, o := range f.orders {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeAPI) ApproveOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpApproveOrder]++
	if err := f.approveErr[orderID]; err != nil {
		return err
	}
	f.approved = append(f.approved, orderID)
	return nil
}

func (f *fakeAPI) ListResources(_ context.Context, filter allocation.ResourceFilter) ([]allocation.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpListResources]++
	if err := f.listErr[filter.ProjectID]; err != nil {
		return nil, err
	}
	var out []allocation.Resource
	for _, r := range f.resources {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.ProjectID != "" && r.ProjectUUID != filter.ProjectID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeAPI) ResourceTeam(_ context.Context, resourceID string) ([]allocation.TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpResourceTeam]++
	if err := f.teamErr[resourceID]; err != nil {
		return nil, err
	}
	return f.teams[resourceID], nil
}

func (f *fakeAPI) GetOffering(_ context.Context, offeringID string) (allocation.Offering, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpGetOffering]++
	offering, ok := f.offerings[offeringID]
	if !ok {
		return allocation.Offering{}, &allocation.APIError{Operation: allocation.OpGetOffering, StatusCode: 404}
	}
	return offering, nil
}

func (f *fakeAPI) PlanPeriods(_ context.Context, resourceID string, month, year int) ([]allocation.PlanPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpPlanPeriods]++
	return f.periods[fmt.Sprintf("%s|%d-%d", resourceID, year, month)], nil
}

func (f *fakeAPI) SubmitUsage(_ context.Context, report allocation.UsageReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[allocation.OpSubmitUsage]++
	if err := f.submitErr[report.PlanPeriod]; err != nil {
		return err
	}
	f.submitted = append(f.submitted, report)
	return nil
}

func (f *fakeAPI) setPeriods(resourceID string, month, year int, ids ...string) {
	periods := make([]allocation.PlanPeriod, 0, len(ids))
	for _, id := range ids {
		periods = append(periods, allocation.PlanPeriod{UUID: id})
	}
	f.periods[fmt.Sprintf("%s|%d-%d", resourceID, year, month)] = periods
}

// hourOffering has a limit-billed "pre-paid" component measured in hours and
// a usage-billed "metered" one measured in minutes.
func hourOffering(id string) allocation.Offering {
	return allocation.Offering{
		UUID: id,
		Components: []allocation.Component{
			{Type: "pre-paid", MeasuredUnit: "hour", BillingType: allocation.BillingTypeLimit},
			{Type: "metered", MeasuredUnit: "minute", BillingType: allocation.BillingTypeUsage},
		},
	}
}

type testEnv struct {
	db    *gorm.DB
	api   *fakeAPI
	clock *clock.FakeClock
	deps  Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.Apply(db, config.DBTypeSQLite))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	api := newFakeAPI()
	clk := clock.NewFakeClock(time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC))
	tuning := config.DefaultTuning()
	tuning.FanOutWidth = 4
	tuning.EventBatchSize = 2

	return &testEnv{
		db:    db,
		api:   api,
		clock: clk,
		deps: Deps{
			API:        api,
			Projects:   projectrepo.Provide(db),
			Usage:      usagerepo.Provide(db),
			GenID:      node,
			Clock:      clk,
			Tuning:     config.NewStaticTuningHolder(tuning),
			ProviderID: testProvider,
			Log:        zap.NewNop(),
		},
	}
}
