package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/admissions/apps/api/echo"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
	"github.com/trezcool/admissions/services/backend"
	"github.com/trezcool/admissions/services/email"
	"github.com/trezcool/admissions/storage/cache"
	"github.com/trezcool/admissions/storage/database/inmem"
	"github.com/trezcool/admissions/storage/lock"
	"github.com/trezcool/admissions/tests"
)

const (
	secretKey = "test-secret"
	appName   = "Admissions Desk"
)

var (
	conf = &core.Config{AppName: appName, DefaultFromEmail: "Admissions Desk <noreply@school.test>"}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type testEnv struct {
	srv     Server
	backend *testutil.FakeBackend
	mailer  *emailsvc.ConsoleServiceMock
	svc     *enrollment.Service
	sess    core.Session
	token   string
}

// setup serves the API over a fake backend holding records, authenticated as sess.
func setup(t *testing.T, sess core.Session, records ...reservation.Reservation) *testEnv {
	t.Helper()
	fake := testutil.NewFakeBackend(t, records...)
	client := backend.NewClient(core.BackendConfig{BaseURL: fake.URL, Timeout: 5 * time.Second}, core.NopLogger{})

	qc := cache.NewMemory(time.Minute)
	validate, translator := reservation.NewValidator()
	mailer := emailsvc.NewConsoleServiceMock(conf)
	svc := enrollment.NewService(enrollment.Deps{
		Branches: client,
		Validate: validate,
		Sync:     enrollment.NewSynchronizer(qc, core.NopLogger{}),
		Journal:  inmemdb.NewJournalRepository(),
		Locker:   lock.NewMemory(),
		Mailer:   mailer,
	})

	srv := NewServer(&Options{
		AppName:                   appName,
		TestMode:                  true,
		DisableReqLogs:            true,
		SecretKey:                 secretKey,
		JWTExpirationDelta:        time.Hour,
		JWTRefreshExpirationDelta: 24 * time.Hour,
		Validate:                  validate,
		Translator:                translator,
		Branches:                  client,
		Reservations:              reservation.NewService(qc, core.NopLogger{}),
		Enrollment:                svc,
	}, nil)

	return &testEnv{
		srv:     srv,
		backend: fake,
		mailer:  mailer,
		svc:     svc,
		sess:    sess,
		token:   getToken(t, sess),
	}
}

// do serves one request with the env's token.
func (env *testEnv) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, env.token, data...)
	env.srv.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, sess core.Session) string {
	token, err := GenerateToken(NewClaims(sess, appName, time.Hour), secretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) enrollment.View {
	t.Helper()
	var v enrollment.View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decodeView() failed: %v; body %s", err, rec.Body.String())
	}
	return v
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	assert.True(t, ok, "data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
}
