package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"£29.99", 29.99, true},
		{"£14,50", 14.50, true},
		{"14,5 €", 14.5, true},
		{"1.234,56 €", 1234.56, true},
		{"$1,234.56", 1234.56, true},
		{"1,234", 1234, true},
		{"1\u00a0299,00 €", 1299, true},
		{"€0,00", 0, false},
		{"£0.01", 0, false},
		{"£0.02", 0.02, true},
		{"99998,99 €", 99998.99, true},
		{"99999", 0, false},
		{"100000", 0, false},
		{"free", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parsePrice(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, got, 0.001)
			}
		})
	}
}

func TestParseWidgetPrice(t *testing.T) {
	got, ok := parseWidgetPrice("29.", "99")
	assert.True(t, ok)
	assert.InDelta(t, 29.99, got, 0.001)

	got, ok = parseWidgetPrice("1.299,", "00")
	assert.True(t, ok)
	assert.InDelta(t, 1299.0, got, 0.001)

	_, ok = parseWidgetPrice("", "99")
	assert.False(t, ok)

	_, ok = parseWidgetPrice("0.", "01")
	assert.False(t, ok)
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"4.5 out of 5 stars", 4.5, true},
		{"4,3 von 5 Sternen", 4.3, true},
		{"5 su 5 stelle", 5, true},
		{"6,1", 0, false},
		{"no rating", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseRating(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, got, 0.001)
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		ok       bool
	}{
		{"12,581", 12581, true},
		{"1.234", 1234, true},
		{"(320)", 320, true},
		{"0", 0, false},
		{"1,000,000", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseCount(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}
