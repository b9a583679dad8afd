package socialauth_test

import (
	"math/big"
	"testing"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCoerceUID(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"bytes", []byte("xyz"), "xyz"},
		{"int", 42, "42"},
		{"int64", int64(9007199254740993), "9007199254740993"},
		{"uint", uint(7), "7"},
		{"float integral", float64(12345), "12345"},
		{"stringer", id, id.String()},
		{"big int", big.NewInt(99), "99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, socialauth.CoerceUID(tt.in))
		})
	}
}
