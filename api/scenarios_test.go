package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/generic"
)

func newScenarioServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOptions(t, RouterOptions{JWTSecret: testSecret, EnableScenarios: true})
}

func TestScenarios_DisabledByDefault(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "basic-society"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/scenarios", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_LoadLeavesOtherSocietiesAlone(t *testing.T) {
	// GIVEN: greenview has a bill with a payment recorded against it
	s := newScenarioServer(t)
	bill := s.seedMarch(t)
	rec := s.do(t, &testResident, http.MethodPost, "/api/bills/"+bill.ID+"/payments",
		RecordPaymentRequest{Amount: "1000", Method: "upi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: an admin of another society loads a scenario
	other := generic.Actor{ID: "admin-x", Role: generic.RoleAdmin, SocietyID: "other-society"}
	rec = s.do(t, &other, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "missing-rule"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: greenview's bill and payment are untouched
	rec = s.do(t, &testAdmin, http.MethodGet, "/api/bills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BillDTO](t, rec), 1)

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 1)

	// The loaded scenario is tracked per society
	rec = s.do(t, &other, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing-rule", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestScenarios_LoadLatePayment(t *testing.T) {
	// GIVEN
	s := newScenarioServer(t)

	// WHEN
	rec := s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "late-payment"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: February's bill is partially paid with the flat penalty applied
	rec = s.do(t, &testAdmin, http.MethodGet, "/api/bills?status=partial", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bills := decode[[]BillDTO](t, rec)
	require.Len(t, bills, 1)
	assert.Equal(t, "2025-02", bills[0].Cycle)
	assert.Equal(t, "200.00", bills[0].Outstanding)

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "late-payment", decode[ScenarioDTO](t, rec).ID)
}

func TestScenarios_BasicSocietySkipsUnbillableUnits(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "basic-society"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/bills?cycle=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BillDTO](t, rec), 3)
}

func TestScenarios_MissingRuleThenGenerate(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "missing-rule"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, &testAdmin, http.MethodPost, "/api/bills/generate", GenerateBillsRequest{Cycle: "2025-03"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScenarios_Guarding(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(t, &testResident, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "basic-society"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &testAdmin, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &testAdmin, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 3)
}
