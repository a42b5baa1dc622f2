package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "blank", input: "   ", expected: nil},
		{name: "single", input: "viacep", expected: []string{"viacep"}},
		{name: "trims and lowercases", input: " ViaCEP , BrasilAPI", expected: []string{"viacep", "brasilapi"}},
		{name: "drops empty entries", input: "viacep,,widenet,", expected: []string{"viacep", "widenet"}},
		{name: "dedupes case-insensitively keeping first", input: "widenet,viacep,WIDENET", expected: []string{"widenet", "viacep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input))
		})
	}
}

func TestDedupeAndTrim(t *testing.T) {
	assert.Nil(t, DedupeAndTrim(nil))
	assert.Equal(t, []string{}, DedupeAndTrim([]string{}))
	assert.Equal(t, []string{"Redis", "redis"}, DedupeAndTrim([]string{" Redis", "redis ", "Redis", " "}))
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"localhost:9092", "kafka:9092"},
		DedupeAndTrimLower([]string{"LOCALHOST:9092", " kafka:9092", "localhost:9092"}))
}
