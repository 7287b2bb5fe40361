package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MathisDulieu/Booking-sub000/errors"
)

func TestRequiredAndLength(t *testing.T) {
	assert.NoError(t, Required("x", "name"))
	assert.Error(t, Required("   ", "name"))

	tests := []struct {
		value    string
		min, max int
		wantErr  bool
	}{
		{"hello", 3, 10, false},
		{"ab", 3, 10, true},
		{"abcdefghijk", 3, 10, true},
		{"abc", 3, 10, false},
		{"abcdefghij", 3, 10, false},
		{"abcdefghijklmnop", 3, 0, false},
		{"éèà", 3, 3, false},
	}
	for _, tt := range tests {
		err := Length(tt.value, "field", tt.min, tt.max)
		assert.Equal(t, tt.wantErr, err != nil, tt.value)
	}
}

func TestEmail(t *testing.T) {
	for _, ok := range []string{"alice@example.com", "a.b+tag@sub.example.org"} {
		assert.NoError(t, Email(ok), ok)
	}
	for _, bad := range []string{"", "alice", "alice@", "@example.com", "Alice <alice@example.com>", "alice@localhost"} {
		assert.Error(t, Email(bad), bad)
	}
}

func TestPassword(t *testing.T) {
	assert.NoError(t, Password("correct horse"))
	assert.Error(t, Password("short"))
	assert.Error(t, Password(""))
}

func TestNumbers(t *testing.T) {
	assert.NoError(t, IntRange(5, "quantity", 1, 10))
	assert.Error(t, IntRange(11, "quantity", 1, 10))
	assert.NoError(t, NonNegativeAmount(0, "price"))
	assert.Error(t, NonNegativeAmount(-1, "price"))
}

func TestFuture(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, Future(now.Add(time.Hour), now, "date"))
	assert.Error(t, Future(now, now, "date"))
	assert.Error(t, Future(time.Time{}, now, "date"))
}

func TestEnumAndPage(t *testing.T) {
	assert.NoError(t, Enum("admin", "role", "user", "admin"))
	assert.Error(t, Enum("root", "role", "user", "admin"))

	assert.NoError(t, PageParams(0, 10))
	assert.Error(t, PageParams(-1, 10))
	assert.Error(t, PageParams(0, 0))
	assert.Error(t, PageParams(0, MaxPageSize+1))
}

func TestFirst_ReturnsValidationCode(t *testing.T) {
	assert.NoError(t, First(nil, nil))
	err := First(nil, Required("", "name"), IntRange(0, "quantity", 1, 10))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "name is required")
}
