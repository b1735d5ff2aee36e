package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/api"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/state"
)

func lobbyDef() *keeper.Definition {
	return &keeper.Definition{
		Type: "lobby",
		InitialState: func(root *state.Container) error {
			if err := root.DefineField("count", state.PolicyBroadcast); err != nil {
				return err
			}
			root.SetField("count", 7)
			return nil
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newServer(t *testing.T, cfg api.Config) (*api.Server, *realm.Realm, string) {
	t.Helper()
	r := realm.New(realm.Options{})
	require.NoError(t, r.Register("lobby", realm.LandType{
		Definition:            lobbyDef,
		AllowAutoCreateOnJoin: true,
	}))
	k, err := r.Route(realm.LandID{Type: "lobby", Instance: "main"})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, r.Shutdown(ctx))
	})

	s, err := api.NewServer(cfg, api.Options{Realm: r, Version: "test"})
	require.NoError(t, err)
	return s, r, k.LandID()
}

func do(t *testing.T, s *api.Server, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestListLands(t *testing.T) {
	s, _, landID := newServer(t, api.Config{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/lands/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var result struct {
		Count int            `json:"count"`
		Lands []keeper.Stats `json:"lands"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Equal(t, 1, result.Count)
	require.Equal(t, landID, result.Lands[0].LandID)
	require.Equal(t, "lobby", result.Lands[0].LandType)
}

func TestLandStatsNotFound(t *testing.T) {
	s, _, _ := newServer(t, api.Config{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/lands/lobby:nope/stats", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, "land-not-found", env.Error.Code)
}

func TestLandStateSnapshot(t *testing.T) {
	s, _, landID := newServer(t, api.Config{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/lands/"+landID+"/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		LandID string          `json:"landID"`
		State  json.RawMessage `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Equal(t, landID, result.LandID)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(result.State, &snap))
	require.EqualValues(t, 7, snap["count"])
}

func TestRemoveLandDrainsKeeper(t *testing.T) {
	s, r, landID := newServer(t, api.Config{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodDelete, "/admin/lands/"+landID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	_, ok := r.Get(landID)
	require.False(t, ok, "removed land must be evicted")

	rec, _ = do(t, s, httptest.NewRequest(http.MethodDelete, "/admin/lands/"+landID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemInfo(t *testing.T) {
	s, _, _ := newServer(t, api.Config{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/system", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Equal(t, "test", result["version"])
	require.EqualValues(t, 1, result["lands"])
}

func TestAPIKeyGuardsAdminRoutes(t *testing.T) {
	s, _, _ := newServer(t, api.Config{APIKey: "sesame"})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/lands/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/lands/", nil)
	req.Header.Set("X-API-Key", "sesame")
	rec, env = do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	// Health stays open.
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
}

func signToken(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAdminRole(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	s, _, _ := newServer(t, api.Config{JWTSecret: secret})

	req := httptest.NewRequest(http.MethodGet, "/admin/lands/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "admin"))
	rec, env := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	req = httptest.NewRequest(http.MethodGet, "/admin/lands/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "viewer"))
	rec, _ = do(t, s, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/lands/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "another-secret-another-secret-xx", "admin"))
	rec, _ = do(t, s, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
