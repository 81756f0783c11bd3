package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/config"
	"github.com/codeready-toolchain/grace-core/pkg/events"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

func testDocs() *policy.Documents {
	return &policy.Documents{
		Constitution: &policy.Constitution{
			Version: "v1",
			ActionCatalog: policy.ActionCatalog{
				RequiresApproval: []string{"set_autonomy_tier"},
			},
			TierDefinitions: []policy.TierDefinition{
				{Tier: policy.TierManual, AutoApplyThreshold: 1.0},
				{Tier: policy.TierSupervised, AutoApplyThreshold: 0.95},
				{Tier: policy.TierSemiAutonomous, AutoApplyThreshold: 0.8},
				{Tier: policy.TierAutonomous, AutoApplyThreshold: 0.5},
			},
		},
		Guardrails: &policy.Guardrails{},
		Whitelist: &policy.Whitelist{
			PerTierActions: map[string][]string{
				"supervised": {"set_autonomy_tier"},
			},
		},
	}
}

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store, err := audit.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gov := governance.New(store, testDocs(), policy.TierSupervised, nil)
	missions := scheduler.NewQueue(4)

	cfg := &config.ServerConfig{
		AllowedWSOrigins: []string{"*"},
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
	connManager := events.NewConnectionManager(noopMesh{}, store, 5*time.Second, nil)

	s := NewServer(cfg, store, gov, missions, connManager)
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)
	return s, srv
}

type noopMesh struct{}

func (noopMesh) Subscribe(context.Context, string, mesh.Handler, mesh.SubscribeOptions) mesh.Subscription {
	return mesh.Subscription{}
}

func (noopMesh) Unsubscribe(mesh.Subscription) {}

func TestHealthEndpointReportsHealthyByDefault(t *testing.T) {
	_, srv := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, int(policy.TierSupervised), body.AutonomyTier)
}

func TestListMissionsReturnsEnqueuedMissions(t *testing.T) {
	s, srv := setupTestServer(t)
	s.missions.Enqueue(&scheduler.Mission{ID: "m-1", TaskStatement: "do a thing", Status: scheduler.MissionPending})

	resp, err := http.Get(srv.URL + "/api/v1/missions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []MissionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "m-1", out[0].ID)
}

func TestGetMissionReturns404ForUnknownID(t *testing.T) {
	_, srv := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/missions/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetAutonomyTierRequiringApprovalReturns202(t *testing.T) {
	_, srv := setupTestServer(t)

	body, _ := json.Marshal(SetAutonomyTierRequest{Tier: 3, Actor: "operator"})
	resp, err := http.Post(srv.URL+"/api/v1/autonomy-tier", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["approval_id"])
}

func TestDecideApprovalApprovesRequest(t *testing.T) {
	s, srv := setupTestServer(t)

	body, _ := json.Marshal(SetAutonomyTierRequest{Tier: 3, Actor: "operator"})
	resp, err := http.Post(srv.URL+"/api/v1/autonomy-tier", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	approvalID, _ := created["approval_id"].(string)
	require.NotEmpty(t, approvalID)

	decideBody, _ := json.Marshal(DecideApprovalRequest{Decision: "approve", Approver: "lead"})
	decideResp, err := http.Post(srv.URL+"/api/v1/approvals/"+approvalID+"/decide", "application/json", bytes.NewReader(decideBody))
	require.NoError(t, err)
	defer decideResp.Body.Close()
	require.Equal(t, http.StatusOK, decideResp.StatusCode)

	a, err := s.governance.Store().Get(approvalID)
	require.NoError(t, err)
	require.Equal(t, "approved", string(a.State))
}
