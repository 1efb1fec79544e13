package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
)

func newContext(method string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestList_EmptyIsArray(t *testing.T) {
	c, rec := newContext(http.MethodGet)
	require.NoError(t, List[int](c, nil))

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []interface{}{}, body["data"])
}

func TestOK_WritesEnvelope(t *testing.T) {
	c, rec := newContext(http.MethodPost)
	require.NoError(t, OK(c, http.StatusCreated, "created", map[string]int{"id": 1}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "created", body["message"])
	assert.Nil(t, body["count"])
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1.5", 0, true},
	}
	for _, tt := range tests {
		c, _ := newContext(http.MethodGet)
		c.SetParamNames("complaint_id")
		c.SetParamValues(tt.raw)
		got, err := ParseID(c, "complaint_id")
		if tt.wantErr {
			assert.ErrorIs(t, err, apperr.ErrValidation, "raw=%q", tt.raw)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestErrorHandler_MapsKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", apperr.Validation("Required fields are missing"), http.StatusBadRequest, "Required fields are missing"},
		{"not found", apperr.NotFound("Feedback not found"), http.StatusNotFound, "Feedback not found"},
		{"conflict", apperr.Conflict("record already exists"), http.StatusConflict, "record already exists"},
		{"internal hides cause", apperr.Internal(errors.New("pq: relation missing")), http.StatusInternalServerError, "Internal Server Error"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
		{"echo http error", echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"), http.StatusTooManyRequests, "rate limit exceeded"},
		{"echo not found", echo.ErrNotFound, http.StatusNotFound, "Not Found"},
	}
	h := ErrorHandler(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet)
			h(tt.err, c)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

type strictFlag bool

func (f *strictFlag) UnmarshalJSON(b []byte) error {
	if string(b) != `"Yes"` {
		return apperr.Validation("Invalid flag")
	}
	*f = true
	return nil
}

func jsonContext(body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestBind(t *testing.T) {
	var dst struct {
		Flag strictFlag `json:"flag"`
		N    int        `json:"n"`
	}

	require.NoError(t, Bind(jsonContext(`{"flag":"Yes","n":2}`), &dst))
	assert.True(t, bool(dst.Flag))

	err := Bind(jsonContext(`{"flag":"maybe"}`), &dst)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Invalid flag", err.Error())

	err = Bind(jsonContext(`{"n":"two"}`), &dst)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Invalid request body", err.Error())

	err = Bind(jsonContext(`{`), &dst)
	assert.Equal(t, "Invalid request body", err.Error())
}

// overLimitBody fails like a body limit that trips after the headers were
// accepted, as happens with chunked uploads.
type overLimitBody struct{}

func (overLimitBody) Read([]byte) (int, error) {
	return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
}

func TestBind_KeepsPayloadTooLarge(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", overLimitBody{})
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var dst struct {
		N int `json:"n"`
	}
	err := Bind(c, &dst)
	var httpErr *echo.HTTPError
	require.True(t, errors.As(err, &httpErr), "got %v", err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, httpErr.Code)

	wrapped := echo.NewHTTPError(http.StatusBadRequest, "bad").
		SetInternal(fmt.Errorf("read: %w", echo.NewHTTPError(http.StatusRequestEntityTooLarge)))
	assert.NotNil(t, findStatus(wrapped, http.StatusRequestEntityTooLarge))
	assert.Nil(t, findStatus(errors.New("plain"), http.StatusRequestEntityTooLarge))
}
