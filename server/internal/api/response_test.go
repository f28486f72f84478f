package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccxuy/easyrun/shared/types"
)

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body struct {
		Error errorResponse `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v (body=%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestWriteErr_MapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind       types.ErrorKind
		wantStatus int
		wantCode   string
	}{
		{types.ErrKindInputInvalid, http.StatusBadRequest, string(types.ErrKindInputInvalid)},
		{types.ErrKindNotFound, http.StatusNotFound, string(types.ErrKindNotFound)},
		{types.ErrKindConflict, http.StatusConflict, string(types.ErrKindConflict)},
		{types.ErrKindUnauthorized, http.StatusUnauthorized, string(types.ErrKindUnauthorized)},
		{types.ErrKindNodeUnknown, http.StatusNotFound, string(types.ErrKindNodeUnknown)},
		{types.ErrorKind("SomethingUnclassified"), http.StatusInternalServerError, string(types.ErrKindStoreError)},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeErr(rec, tc.kind, errors.New("boom"))

		if rec.Code != tc.wantStatus {
			t.Errorf("kind %v: status = %d, want %d", tc.kind, rec.Code, tc.wantStatus)
		}
		got := decodeErrorEnvelope(t, rec)
		if got.Code != tc.wantCode {
			t.Errorf("kind %v: code = %q, want %q", tc.kind, got.Code, tc.wantCode)
		}
	}
}

func TestErrUnauthorized_DoesNotLeakErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrUnauthorized(rec)

	got := decodeErrorEnvelope(t, rec)
	if got.Message != "authentication required" {
		t.Errorf("message = %q, want a generic fixed message", got.Message)
	}
}

func TestErrInternal_DoesNotLeakErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, types.ErrKindStoreError, errors.New("pq: connection refused on internal host 10.0.0.5"))

	got := decodeErrorEnvelope(t, rec)
	if got.Message != "an internal error occurred" {
		t.Errorf("message = %q, internal error detail must not be exposed to clients", got.Message)
	}
}

func TestErrNotFound_DefaultsMessageWhenEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrNotFound(rec, "")

	got := decodeErrorEnvelope(t, rec)
	if got.Message != "resource not found" {
		t.Errorf("message = %q, want default fallback message", got.Message)
	}
}

func TestOk_WrapsPayloadInDataKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Ok(rec, map[string]string{"id": "abc"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["id"] != "abc" {
		t.Errorf("data.id = %q, want %q", body.Data["id"], "abc")
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"task":"build","bogus":1}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Task string `json:"task"`
	}
	ok := decodeJSON(rec, req, &dst)

	if ok {
		t.Fatal("expected decodeJSON to reject a body with an unknown field")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDecodeJSON_AcceptsValidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"task":"build"}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Task string `json:"task"`
	}
	ok := decodeJSON(rec, req, &dst)

	if !ok {
		t.Fatalf("expected decodeJSON to succeed, status=%d body=%s", rec.Code, rec.Body.String())
	}
	if dst.Task != "build" {
		t.Errorf("task = %q, want %q", dst.Task, "build")
	}
}
