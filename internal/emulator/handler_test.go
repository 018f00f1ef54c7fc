package emulator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/integrity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_TokenAndDecode(t *testing.T) {
	a := newTestAuthority(t, nil)
	r := NewRouter(a, "dev-access-token")

	n := testNonce()
	w := doJSON(t, r, http.MethodPost, "/token", "", TokenRequest{Nonce: n, PackageName: testPackage})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /token: %d %s", w.Code, w.Body.String())
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	path := "/v1/" + testPackage + ":decodeIntegrityToken"
	w = doJSON(t, r, http.MethodPost, path, "dev-access-token", map[string]string{"integrityToken": issued.Token})
	if w.Code != http.StatusOK {
		t.Fatalf("decode: %d %s", w.Code, w.Body.String())
	}
	resp, err := integrity.ParseDecodeResponse(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Verdict().Nonce() != n {
		t.Errorf("nonce echo = %q, want %q", resp.Verdict().Nonce(), n)
	}
}

func TestRouter_DecodeRequiresBearer(t *testing.T) {
	r := NewRouter(newTestAuthority(t, nil), "dev-access-token")
	path := "/v1/" + testPackage + ":decodeIntegrityToken"

	if w := doJSON(t, r, http.MethodPost, path, "", map[string]string{"integrityToken": "x"}); w.Code != http.StatusUnauthorized {
		t.Errorf("no bearer: got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, path, "wrong", map[string]string{"integrityToken": "x"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong bearer: got %d", w.Code)
	}
}

func TestRouter_DecodeErrors(t *testing.T) {
	r := NewRouter(newTestAuthority(t, nil), "")

	w := doJSON(t, r, http.MethodPost, "/v1/"+testPackage+":somethingElse", "any", map[string]string{"integrityToken": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown method: got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/"+testPackage+":decodeIntegrityToken", "any", map[string]string{"integrityToken": "garbage"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("garbage token: got %d", w.Code)
	}
	var body struct {
		Error struct {
			Code   int    `json:"code"`
			Status string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != http.StatusBadRequest || body.Error.Status != "INVALID_ARGUMENT" {
		t.Errorf("error envelope = %+v", body.Error)
	}
}

func TestRouter_TokenBadBody(t *testing.T) {
	r := NewRouter(newTestAuthority(t, nil), "")
	w := doJSON(t, r, http.MethodPost, "/token", "", map[string]string{"nonce": "short", "packageName": testPackage})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d", w.Code)
	}
}
