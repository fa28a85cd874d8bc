package lifecycle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceWholeNumbers(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want int64
		ok   bool
	}{
		{"int", 42, 42, true},
		{"float without fraction", 42.0, 42, true},
		{"json number", json.Number("1200"), 1200, true},
		{"largest exact value", json.Number("9007199254740992"), 9007199254740992, true},
		{"negative", json.Number("-3"), -3, true},
		{"numeric string", " 17 ", 17, true},
		{"exponent form", json.Number("1e3"), 1000, true},
		{"fraction", json.Number("1.5"), 0, false},
		{"past float precision", json.Number("9007199254740993"), 0, false},
		{"past int64", json.Number("1e19"), 0, false},
		{"huge float", 1e19, 0, false},
		{"word", "many", 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(FieldInt, tt.raw)
			if !tt.ok {
				assert.EqualError(t, err, "must be a whole number")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceKeepsOtherTypesOnJSONNumbers(t *testing.T) {
	f, err := coerce(FieldFloat, json.Number("4.5"))
	assert.NoError(t, err)
	assert.Equal(t, 4.5, f)

	s, err := coerce(FieldString, json.Number("2024"))
	assert.NoError(t, err)
	assert.Equal(t, "2024", s)

	_, err = coerce(FieldBool, json.Number("1"))
	assert.Error(t, err)
}
