package analytics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/backend/internal/events"
	"github.com/seatsync/backend/internal/models"
)

type fakeEvents struct {
	list  []models.Event
	calls int
}

func (f *fakeEvents) List(_ context.Context, flt events.Filter) ([]models.Event, error) {
	f.calls++
	var out []models.Event
	for _, ev := range f.list {
		if flt.Department != "" && !ev.EligibleFor(flt.Department) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

type fakeLedger struct {
	regs     []models.Registration
	waitlist []models.WaitlistEntry
}

func (f *fakeLedger) AllRegistrations(context.Context) ([]models.Registration, error) {
	return f.regs, nil
}

func (f *fakeLedger) AllWaitlistEntries(context.Context) ([]models.WaitlistEntry, error) {
	return f.waitlist, nil
}

func (f *fakeLedger) UserRegistrations(_ context.Context, userID uuid.UUID) ([]models.Registration, error) {
	var out []models.Registration
	for _, r := range f.regs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeUsers []models.UserPublic

func (f fakeUsers) List(context.Context) ([]models.UserPublic, error) { return f, nil }

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m mapCache) Set(_ context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	m[key] = raw
	return err
}

func (m mapCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func event(title string, seats int, mandatory bool, branches ...string) models.Event {
	return models.Event{
		ID:             uuid.New(),
		Title:          title,
		Kind:           models.EventKindWorkshop,
		Date:           "2026-11-02",
		TotalSeats:     seats,
		AvailableSeats: seats,
		Status:         models.EventStatusUpcoming,
		IsMandatory:    mandatory,
		TargetBranches: branches,
	}
}

func reg(user uuid.UUID, ev models.Event) models.Registration {
	return models.Registration{ID: uuid.New(), UserID: user, EventID: ev.ID, Status: models.RegistrationStatusConfirmed}
}

func TestBuildEventAnalytics(t *testing.T) {
	full := event("Full", 4, false)
	half := event("Half", 4, false)
	quiet := event("Quiet", 10, false)
	waiting := event("Waiting", 10, false)
	empty := event("No seats", 0, false)

	var regs []models.Registration
	for i := 0; i < 4; i++ {
		regs = append(regs, reg(uuid.New(), full))
	}
	regs = append(regs, reg(uuid.New(), half), reg(uuid.New(), half), reg(uuid.New(), quiet))
	wl := []models.WaitlistEntry{{ID: uuid.New(), UserID: uuid.New(), EventID: waiting.ID, Position: 1}}

	rows := BuildEventAnalytics([]models.Event{full, half, quiet, waiting, empty}, regs, wl)
	require.Len(t, rows, 5)

	assert.Equal(t, 100, rows[0].UtilizationPercent)
	assert.Equal(t, DemandHigh, rows[0].DemandLevel)
	assert.Equal(t, 50, rows[1].UtilizationPercent)
	assert.Equal(t, DemandMedium, rows[1].DemandLevel)
	assert.Equal(t, 10, rows[2].UtilizationPercent)
	assert.Equal(t, DemandLow, rows[2].DemandLevel)
	assert.Equal(t, 0, rows[3].UtilizationPercent)
	assert.Equal(t, 1, rows[3].WaitlistCount)
	assert.Equal(t, DemandHigh, rows[3].DemandLevel, "any waitlist means high demand")
	assert.Equal(t, 0, rows[4].UtilizationPercent)
}

func TestBuildCompliance(t *testing.T) {
	cseOnly := event("CSE Bootcamp", 30, true, "CSE")
	everyone := event("Safety Seminar", 100, true)
	optional := event("Optional", 10, false)
	itOnly := event("IT Lab", 30, true, "IT")

	done := models.UserPublic{ID: uuid.New(), FullName: "A", Department: "CSE", Role: models.RoleStudent}
	partial := models.UserPublic{ID: uuid.New(), FullName: "B", Department: "CSE", Role: models.RoleStudent}
	admin := models.UserPublic{ID: uuid.New(), FullName: "Admin", Role: models.RoleAdmin}

	regs := []models.Registration{
		reg(done.ID, cseOnly), reg(done.ID, everyone),
		reg(partial.ID, everyone), reg(partial.ID, optional),
	}
	out := BuildCompliance([]models.UserPublic{done, partial, admin}, []models.Event{cseOnly, everyone, optional, itOnly}, regs)
	require.Len(t, out, 2, "admins are skipped")

	assert.Equal(t, 2, out[0].TotalMandatory)
	assert.Equal(t, 2, out[0].CompletedMandatory)
	assert.Equal(t, 100, out[0].CompliancePercent)
	assert.True(t, out[0].IsCompliant)
	assert.Empty(t, out[0].PendingEvents)

	assert.Equal(t, 1, out[1].CompletedMandatory)
	assert.Equal(t, 1, out[1].PendingMandatory)
	assert.Equal(t, 50, out[1].CompliancePercent)
	assert.False(t, out[1].IsCompliant)
	assert.Equal(t, []string{"CSE Bootcamp"}, out[1].PendingEvents)
}

func TestBuildStudentComplianceNoMandatory(t *testing.T) {
	sc := BuildStudentCompliance("ECE", []models.Event{event("IT Lab", 10, true, "IT")}, nil)
	assert.Empty(t, sc.Mandatory)
	assert.Equal(t, 100, sc.CompliancePercent)
	assert.True(t, sc.IsCompliant)
}

func TestServiceCachesRollups(t *testing.T) {
	ev := event("Talk", 3, true)
	student := models.UserPublic{ID: uuid.New(), Department: "AIML", Role: models.RoleStudent}
	evs := &fakeEvents{list: []models.Event{ev}}
	ledger := &fakeLedger{regs: []models.Registration{reg(student.ID, ev)}}
	cache := mapCache{}
	svc := NewService(evs, ledger, fakeUsers{student}, cache, nil)
	ctx := context.Background()

	first, err := svc.EventAnalytics(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 33, first[0].UtilizationPercent)

	ledger.regs = append(ledger.regs, reg(uuid.New(), ev))
	second, err := svc.EventAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 33, second[0].UtilizationPercent, "served from cache")
	assert.Equal(t, 1, evs.calls)

	require.NoError(t, svc.Refresh(ctx))
	third, err := svc.EventAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 67, third[0].UtilizationPercent)

	comp, err := svc.Compliance(ctx)
	require.NoError(t, err)
	require.Len(t, comp, 1)
	assert.True(t, comp[0].IsCompliant)
}

func TestStudentCompliance(t *testing.T) {
	mine := event("AIML Workshop", 10, true, "AIML")
	other := event("ECE Workshop", 10, true, "ECE")
	user := uuid.New()
	svc := NewService(&fakeEvents{list: []models.Event{mine, other}}, &fakeLedger{}, fakeUsers{}, nil, nil)

	sc, err := svc.StudentCompliance(context.Background(), user, "AIML")
	require.NoError(t, err)
	require.Len(t, sc.Mandatory, 1)
	assert.False(t, sc.Mandatory[0].Completed)
	assert.Equal(t, 0, sc.CompliancePercent)
	assert.False(t, sc.IsCompliant)
}

func TestRenderReports(t *testing.T) {
	ev := event("Intro, with comma", 2, false)
	svc := NewService(&fakeEvents{list: []models.Event{ev}}, &fakeLedger{}, fakeUsers{}, nil, nil)

	raw, err := svc.Render(context.Background(), ReportEvents)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "event_id,title,"))
	assert.Contains(t, lines[1], `"Intro, with comma"`)

	_, err = svc.Render(context.Background(), "payments")
	assert.Error(t, err)
}
