package rpc

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
)

func TestFromWire(t *testing.T) {
	res, err := FromWire(map[string]any{"NOT_FOUND": "Ticket not found"})
	require.NoError(t, err)
	assert.Equal(t, Result{Tag: TagNotFound, Value: "Ticket not found"}, res)

	_, err = FromWire(map[string]any{})
	assert.Error(t, err)
	_, err = FromWire(map[string]any{"message": "a", "warning": "b"})
	assert.Error(t, err)
	_, err = FromWire(map[string]any{"": "x"})
	assert.Error(t, err)
}

func TestResult_WireHasExactlyOneTag(t *testing.T) {
	for _, r := range []Result{Message("ok"), NotFound("x"), Fault("boom"), Warning("w"), OK("events", "[]")} {
		assert.Len(t, r.Wire(), 1)
	}
}

func TestResult_IsError(t *testing.T) {
	assert.True(t, NotFound("").IsError())
	assert.True(t, Fault("").IsError())
	assert.True(t, Result{}.IsError())
	assert.False(t, Message("").IsError())
	assert.False(t, Warning("").IsError())
}

func TestNestedResult(t *testing.T) {
	res, err := NestedResult("ticket", map[string]string{"id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "ticket", res.Tag)
	assert.JSONEq(t, `{"id":"t-1"}`, res.Value.(string))

	_, err = NestedResult("bad", make(chan int))
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		res    Result
		status int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Forbidden("x"), http.StatusForbidden},
		{Unauthorized("x"), http.StatusUnauthorized},
		{BadRequest("x"), http.StatusBadRequest},
		{Internal("x"), http.StatusInternalServerError},
		{Fault(UnknownRequestType), http.StatusInternalServerError},
		{Result{}, http.StatusInternalServerError},
		{Result{Tag: "", Value: 42}, http.StatusInternalServerError},
		{Message("done"), http.StatusOK},
		{Warning("Ticket already cancelled"), http.StatusOK},
		{OK("events", `[{"id":"e-1"}]`), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.res.String(), func(t *testing.T) {
			out := Translate(tt.res)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.res.Value, out.Body)

			again := Translate(Result{Tag: out.Tag, Value: out.Body})
			assert.Equal(t, out, again, "translation must be idempotent")
		})
	}
}

func TestTranslateError(t *testing.T) {
	out := TranslateError(timeoutError(nil))
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Contains(t, out.Body, "no response received")
	assert.Equal(t, http.StatusInternalServerError, TranslateError(nil).Status)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err error
		tag string
	}{
		{appErrors.NewError(appErrors.ErrCodeNotFound, "Event not found"), TagNotFound},
		{appErrors.NewError(appErrors.ErrCodeForbidden, "not yours"), TagForbidden},
		{appErrors.NewError(appErrors.ErrCodeUnauthorized, "bad token"), TagUnauthorized},
		{appErrors.NewValidationError("email is required"), TagBadRequest},
		{appErrors.NewError(appErrors.ErrCodeDatabase, "disk full"), TagInternalServerError},
		{nil, TagInternalServerError},
	}
	for _, tt := range tests {
		res := FromError(tt.err)
		assert.Equal(t, tt.tag, res.Tag)
	}
	assert.Equal(t, "Event not found", FromError(appErrors.NewError(appErrors.ErrCodeNotFound, "Event not found")).Value)
}
