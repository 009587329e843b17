package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"cord/platform/internal/auth"
	"cord/platform/internal/pins"
	"cord/platform/internal/session"
	"cord/platform/internal/store"
)

func testApplication() store.Application {
	return store.Application{ID: testAppID, CustomerID: "c-1", Name: "Docs", SharedSecret: testSecret}
}

func withApplication(fs *fakeStore) *fakeStore {
	fs.getApplicationFn = func(_ context.Context, appID string) (store.Application, error) {
		if appID != testAppID {
			return store.Application{}, errors.New("unexpected app " + appID)
		}
		return testApplication(), nil
	}
	return fs
}

func serverToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueServerToken(testAppID, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("IssueServerToken() error = %v", err)
	}
	return token
}

func serve(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected CORS origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestReadyEndpoint(t *testing.T) {
	fs := &fakeStore{}
	server := NewHTTPServer(newTestService(fs), "*")
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["status"] != "ready" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = serve(server, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRESTRequiresBearerToken(t *testing.T) {
	server := NewHTTPServer(newTestService(withApplication(&fakeStore{})), "*")

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/v1/users", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = serve(server, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}

	forged, err := auth.IssueServerToken(testAppID, []byte("wrong-secret"), time.Hour)
	if err != nil {
		t.Fatalf("IssueServerToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rr = serve(server, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "unauthorized" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRESTRejectsClientTokenAsServerCredential(t *testing.T) {
	svc := newTestService(withApplication(&fakeStore{}))
	server := NewHTTPServer(svc, "*")

	clientToken, err := auth.IssueClientToken(testAppID, []byte(testSecret), auth.ClientClaims{UserID: "end-user"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueClientToken() error = %v", err)
	}
	if _, err := svc.ServerCaller(context.Background(), clientToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+clientToken)
	rr := serve(server, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for client token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRESTUserRoundTrip(t *testing.T) {
	var upserted store.UserPatch
	fs := withApplication(&fakeStore{
		upsertUserFn: func(_ context.Context, appID, externalID string, patch store.UserPatch) (store.User, error) {
			if appID != testAppID || externalID != "ann" {
				t.Fatalf("unexpected upsert %s %s", appID, externalID)
			}
			upserted = patch
			return store.User{ID: "u-ann", ExternalID: externalID}, nil
		},
		getUserByExternalIDFn: func(_ context.Context, _ string, externalID string) (store.User, error) {
			return store.User{ID: "u-" + externalID, ExternalID: externalID, Name: "Ann", State: "active"}, nil
		},
	})
	server := NewHTTPServer(newTestService(fs), "*")
	token := serverToken(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/users/ann", strings.NewReader(`{"name":"Ann","metadata":{"team":"docs"}}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if upserted.Name == nil || *upserted.Name != "Ann" || upserted.Metadata["team"] != "docs" {
		t.Fatalf("unexpected patch %+v", upserted)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/users/ann", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeResponse(t, rr)
	if body["id"] != "ann" || body["status"] != "active" {
		t.Fatalf("unexpected user %v", body)
	}
}

func TestRESTRejectsNestedMetadata(t *testing.T) {
	server := NewHTTPServer(newTestService(withApplication(&fakeStore{})), "*")
	req := httptest.NewRequest(http.MethodPut, "/v1/users/ann", strings.NewReader(`{"metadata":{"nested":{"a":1}}}`))
	req.Header.Set("Authorization", "Bearer "+serverToken(t))
	rr := serve(server, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRESTUnknownUserIs404(t *testing.T) {
	server := NewHTTPServer(newTestService(withApplication(&fakeStore{})), "*")
	req := httptest.NewRequest(http.MethodGet, "/v1/users/nobody", nil)
	req.Header.Set("Authorization", "Bearer "+serverToken(t))
	rr := serve(server, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "user_not_found" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRESTInvalidThreadFilter(t *testing.T) {
	server := NewHTTPServer(newTestService(withApplication(&fakeStore{})), "*")
	req := httptest.NewRequest(http.MethodGet, "/v1/threads?filter=%7Bbroken", nil)
	req.Header.Set("Authorization", "Bearer "+serverToken(t))
	rr := serve(server, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRESTCreateMessageWithoutThread(t *testing.T) {
	fs := withApplication(messageFixture(false))
	server := NewHTTPServer(newTestService(fs), "*")
	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/messages", strings.NewReader(`{"authorID":"ann","content":[{"type":"p","children":[{"text":"hi"}]}]}`))
	req.Header.Set("Authorization", "Bearer "+serverToken(t))
	rr := serve(server, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "thread_not_found" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestClientSessionFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer sessions.Close()

	group := store.Group{ID: "o-1", ApplicationID: testAppID, ExternalID: "g1", Name: "Group", State: "active"}
	var members []string
	fs := withApplication(&fakeStore{
		upsertUserFn: func(_ context.Context, _ string, externalID string, patch store.UserPatch) (store.User, error) {
			if patch.Name == nil || *patch.Name != "Ann" {
				t.Fatalf("expected name from token, got %+v", patch)
			}
			return store.User{ID: "u-ann", ExternalID: externalID, Name: *patch.Name, State: "active"}, nil
		},
		getGroupByExternalIDFn: func(context.Context, string, string) (store.Group, error) {
			return group, nil
		},
		setGroupMembersFn: func(_ context.Context, _ string, orgID string, add, _ []string) error {
			if orgID != group.ID {
				t.Fatalf("unexpected group %s", orgID)
			}
			members = append(members, add...)
			return nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, ExternalID: "ann", Name: "Ann", State: "active"}, nil
		},
		listUserGroupsFn: func(context.Context, string) ([]store.Group, error) {
			return []store.Group{group, {ID: "o-2", ExternalID: "g2"}}, nil
		},
	})
	svc := newTestService(fs)
	svc.now = time.Now
	svc.sessions = sessions
	server := NewHTTPServer(svc, "*")

	clientToken, err := auth.IssueClientToken(testAppID, []byte(testSecret), auth.ClientClaims{
		UserID:      "ann",
		GroupID:     "g1",
		UserDetails: &auth.UserDetails{Name: "Ann"},
	}, time.Minute)
	if err != nil {
		t.Fatalf("IssueClientToken() error = %v", err)
	}
	rr := serve(server, httptest.NewRequest(http.MethodPost, "/v1/client/session", strings.NewReader(`{"clientAuthToken":"`+clientToken+`"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeResponse(t, rr)
	accessToken, _ := created["accessToken"].(string)
	if accessToken == "" || created["userID"] != "ann" || created["groupID"] != "g1" {
		t.Fatalf("unexpected session %v", created)
	}
	if len(members) != 1 || members[0] != "ann" {
		t.Fatalf("expected ann added to group, got %v", members)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/client/viewer", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rr = serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var viewer ClientViewer
	if err := json.Unmarshal(rr.Body.Bytes(), &viewer); err != nil {
		t.Fatalf("decode viewer: %v", err)
	}
	if viewer.User.ID != "ann" || len(viewer.Groups) != 1 || viewer.Groups[0].ID != "g1" {
		t.Fatalf("expected viewer scoped to g1, got %+v", viewer)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/client/session", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if rr = serve(server, req); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on revoke, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/client/viewer", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if rr = serve(server, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", rr.Code)
	}
}

func TestClientSessionUnknownGroupWithoutDetails(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer sessions.Close()

	fs := withApplication(&fakeStore{
		upsertUserFn: func(_ context.Context, _ string, externalID string, _ store.UserPatch) (store.User, error) {
			return store.User{ID: "u-" + externalID, ExternalID: externalID, State: "active"}, nil
		},
	})
	svc := newTestService(fs)
	svc.sessions = sessions
	server := NewHTTPServer(svc, "*")

	clientToken, err := auth.IssueClientToken(testAppID, []byte(testSecret), auth.ClientClaims{UserID: "ann", GroupID: "missing"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueClientToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/client/session", nil)
	req.Header.Set("Authorization", "Bearer "+clientToken)
	rr := serve(server, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "group_not_found" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestClientRoutesWithoutSessionsConfigured(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	req := httptest.NewRequest(http.MethodGet, "/v1/client/viewer", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := serve(server, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestZoomPinsOperations(t *testing.T) {
	stage, err := ZoomPins(PinZoomRequest{Op: "pan", Stage: pins.Stage{X: 10, Y: 20, Scale: 1}, DeltaX: 5, DeltaY: -5})
	if err != nil {
		t.Fatalf("ZoomPins(pan) error = %v", err)
	}
	if stage.X != 5 || stage.Y != 25 || stage.Scale != 1 {
		t.Fatalf("unexpected pan result %+v", stage)
	}

	stage, err = ZoomPins(PinZoomRequest{Op: "at", Stage: pins.Stage{Scale: 1}, Scale: 50})
	if err != nil {
		t.Fatalf("ZoomPins(at) error = %v", err)
	}
	if stage.Scale != pins.MaxScale {
		t.Fatalf("expected scale clamped to %v, got %v", pins.MaxScale, stage.Scale)
	}
	stage, err = ZoomPins(PinZoomRequest{Op: "centered", Scale: 0, Viewport: pins.Size{Width: 100, Height: 100}})
	if err != nil {
		t.Fatalf("ZoomPins(centered) error = %v", err)
	}
	if stage.Scale != pins.MinScale {
		t.Fatalf("expected scale clamped to %v, got %v", pins.MinScale, stage.Scale)
	}

	_, err = ZoomPins(PinZoomRequest{Op: "spin"})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_field")
}

func TestGroupPinsNeverReturnsNil(t *testing.T) {
	if groups := GroupPins(PinGroupRequest{Stage: pins.Stage{Scale: 1}}); groups == nil {
		t.Fatal("expected empty slice")
	}
}

func TestGroupPinsWithoutStage(t *testing.T) {
	groups := GroupPins(PinGroupRequest{Pins: []pins.Pin{
		{ThreadID: "a", ElementPos: pins.Point{X: 0, Y: 0}},
		{ThreadID: "b", ElementPos: pins.Point{X: 7000, Y: 0}},
	}})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %+v", groups)
	}
}
