package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/approval"
	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/policy"
	"github.com/xela07ax/map-control-plane/internal/rollback"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

type stubDispatcher struct {
	enabled    bool
	dispatched []domain.MapEvent
}

func (s *stubDispatcher) Enabled() bool { return s.enabled }

func (s *stubDispatcher) DispatchEvent(_ context.Context, e domain.MapEvent) (*domain.MapEvent, error) {
	s.dispatched = append(s.dispatched, e)
	return &e, nil
}

type stubTrust struct{ score int }

func (s stubTrust) Score(context.Context) (domain.TrustScore, error) {
	return domain.TrustScore{Score: s.score}, nil
}

type nopCapturer struct{}

func (nopCapturer) Capture(telemetry.Event) {}

type memActions struct {
	actions map[string]*domain.AutoAction
	applied int
}

func newMemActions() *memActions {
	return &memActions{actions: map[string]*domain.AutoAction{}}
}

func (m *memActions) InsertAction(_ context.Context, a domain.AutoAction) error {
	copied := a
	m.actions[a.ID] = &copied
	return nil
}

func (m *memActions) UpdateActionStatus(_ context.Context, id string, status domain.AutoActionStatus, reason string) error {
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrActionNotFound
	}
	a.Status = status
	a.Reason = reason
	return nil
}

func (m *memActions) GetAction(_ context.Context, id string) (*domain.AutoAction, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, domain.ErrActionNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memActions) CountAppliedSince(context.Context, string, string, time.Time) (int, error) {
	return m.applied, nil
}

type memLogs struct {
	byRoute map[string][]domain.OptimizationLog
	updated []domain.OptimizationLog
}

func (m *memLogs) ListAppliedByRoute(_ context.Context, route string) ([]domain.OptimizationLog, error) {
	return m.byRoute[route], nil
}

func (m *memLogs) UpdateLog(_ context.Context, l domain.OptimizationLog) error {
	m.updated = append(m.updated, l)
	return nil
}

type apiFixture struct {
	api        *API
	dispatcher *stubDispatcher
	actions    *memActions
	logs       *memLogs
	rdb        *redis.Client
}

func newAPIFixture(t *testing.T, governanceOn, optimizerOn bool) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dispatcher := &stubDispatcher{enabled: governanceOn}
	engine := policy.NewEngine(dispatcher, stubTrust{score: 82}, nopCapturer{}, nil, zap.NewNop())

	actions := newMemActions()
	gates := approval.NewGates(actions, rdb, 2, zap.NewNop())

	logs := &memLogs{byRoute: map[string][]domain.OptimizationLog{}}
	rollbacks := rollback.NewService(logs, nopCapturer{}, nil, zap.NewNop())

	return &apiFixture{
		api:        NewAPI(governanceOn, optimizerOn, engine, gates, rollbacks, logs, zap.NewNop()),
		dispatcher: dispatcher,
		actions:    actions,
		logs:       logs,
		rdb:        rdb,
	}
}

func post(t *testing.T, api *API, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
	return rec
}

func TestPolicyCheckBlocksCriticalRouteAndRecordsDecision(t *testing.T) {
	f := newAPIFixture(t, true, true)

	rec := post(t, f.api, "/policy/check", policyCheckRequest{
		Route:      "/admin/settings",
		Confidence: 0.95,
		Action:     "modify",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var eval domain.PolicyEvaluation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eval))
	assert.Equal(t, domain.PolicyBlocked, eval.Status)
	require.Len(t, f.dispatcher.dispatched, 1, "verdict recorded as policy_update event")
	assert.Equal(t, domain.EventPolicyUpdate, f.dispatcher.dispatched[0].Type)
}

func TestPolicyCheckDisabledGovernanceIsPermissive(t *testing.T) {
	f := newAPIFixture(t, false, true)

	rec := post(t, f.api, "/policy/check", policyCheckRequest{
		Route:      "/admin/settings",
		Confidence: 0.1,
		Action:     "auto-apply",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var eval domain.PolicyEvaluation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eval))
	assert.Equal(t, domain.PolicyAllowed, eval.Status)
	assert.Empty(t, f.dispatcher.dispatched, "nothing recorded while disabled")
}

func TestPolicyCheckRequiresRoute(t *testing.T) {
	f := newAPIFixture(t, true, true)
	rec := post(t, f.api, "/policy/check", policyCheckRequest{Confidence: 0.9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoPublishApplyHappyPath(t *testing.T) {
	f := newAPIFixture(t, true, true)

	rec := post(t, f.api, "/autopublish/apply", autoPublishApplyRequest{
		Request: approval.Request{
			OrganizationID: "org-1",
			Axis:           "copy",
			Confidence:     0.9,
			SampleSize:     120,
		},
		ContentID: "content-1",
		Reason:    "winner variant promoted",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp autoPublishApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.DecisionAuto, resp.Evaluation.Decision)
	require.NotNil(t, resp.Action)
	assert.Equal(t, domain.ActionApplied, resp.Action.Status)
	assert.Len(t, f.actions.actions, 1)
}

func TestAutoPublishApplyVetoSkipsAudit(t *testing.T) {
	f := newAPIFixture(t, true, true)

	rec := post(t, f.api, "/autopublish/apply", autoPublishApplyRequest{
		Request: approval.Request{
			OrganizationID: "org-1",
			Axis:           approval.AxisCTA,
			Confidence:     0.95,
			SampleSize:     500,
			HighStakes:     true,
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp autoPublishApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.DecisionNeedsApproval, resp.Evaluation.Decision)
	assert.Nil(t, resp.Action)
	assert.Empty(t, f.actions.actions)
}

func TestAutoPublishApplyQuotaRace(t *testing.T) {
	f := newAPIFixture(t, true, true)

	// Дневной лимит 2: два резервирования проходят, третье откатывается
	for i := 0; i < 2; i++ {
		rec := post(t, f.api, "/autopublish/apply", autoPublishApplyRequest{
			Request: approval.Request{
				OrganizationID: "org-1",
				Axis:           "copy",
				Confidence:     0.9,
				SampleSize:     120,
			},
			Reason: fmt.Sprintf("promotion %d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	f.actions.applied = 0 // счетчик в БД отстал, но Redis-резерв уже исчерпан
	rec := post(t, f.api, "/autopublish/apply", autoPublishApplyRequest{
		Request: approval.Request{
			OrganizationID: "org-1",
			Axis:           "copy",
			Confidence:     0.9,
			SampleSize:     120,
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp autoPublishApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.DecisionNeedsApproval, resp.Evaluation.Decision)
	assert.Nil(t, resp.Action)
}

func TestAutoRollbackFlipsRegressedLogs(t *testing.T) {
	f := newAPIFixture(t, true, true)
	f.logs.byRoute["/pricing"] = []domain.OptimizationLog{
		{ID: "log-1", Route: "/pricing", Status: domain.OptimizationApplied},
		{ID: "log-2", Route: "/pricing", Status: domain.OptimizationApplied},
	}

	rec := post(t, f.api, "/rollback", rollbackRequest{
		Route:           "/pricing",
		CompositeImpact: -0.12,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp rollbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Evaluated)
	require.Len(t, resp.Results, 2)
	for _, res := range resp.Results {
		assert.Equal(t, domain.OptimizationRejected, res.Status)
		assert.True(t, res.Rollback)
	}
	assert.Len(t, f.logs.updated, 2)
}

func TestAutoRollbackMildRegressionIsNoop(t *testing.T) {
	f := newAPIFixture(t, true, true)
	f.logs.byRoute["/pricing"] = []domain.OptimizationLog{
		{ID: "log-1", Route: "/pricing", Status: domain.OptimizationApplied},
	}

	rec := post(t, f.api, "/rollback", rollbackRequest{
		Route:           "/pricing",
		CompositeImpact: -0.02,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp rollbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	assert.Empty(t, f.logs.updated)
}

func TestOptimizerDisabledClosesApplyAndRollback(t *testing.T) {
	f := newAPIFixture(t, true, false)

	rec := post(t, f.api, "/autopublish/apply", autoPublishApplyRequest{
		Request: approval.Request{
			OrganizationID: "org-1",
			Axis:           "copy",
			Confidence:     0.9,
			SampleSize:     120,
		},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.actions.actions)

	f.logs.byRoute["/pricing"] = []domain.OptimizationLog{
		{ID: "log-1", Route: "/pricing", Status: domain.OptimizationApplied},
	}
	rec = post(t, f.api, "/rollback", rollbackRequest{Route: "/pricing", CompositeImpact: -0.5})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rollbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	assert.Empty(t, f.logs.updated)
}

func TestAutoRollbackRequiresRoute(t *testing.T) {
	f := newAPIFixture(t, true, true)
	rec := post(t, f.api, "/rollback", rollbackRequest{CompositeImpact: -0.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
