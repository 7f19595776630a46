package formula

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"comma decimal", "0,03% sobre volume", 0.0003},
		{"dot decimal", "0.5% a.a.", 0.005},
		{"space before sign", "2 % do volume", 0.02},
		{"integer", "1% sobre o valor", 0.01},
		{"first match wins", "0,03% ou 0,05%", 0.0003},
		{"no rate", "sem taxa", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ExtractRate(tt.text), 1e-12)
		})
	}
}

func TestExtractMinimum(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"with de and currency", "mínimo de R$ 800", 800},
		{"thousands and decimal comma", "mínimo 1.234,56", 1234.56},
		{"multiple thousands groups", "mínimo de R$ 1.500.000", 1500000},
		{"unaccented", "minimo de 900", 900},
		{"case insensitive", "0,1% MÍNIMO DE R$ 2.000", 2000},
		{"currency without space", "mínimo R$750", 750},
		{"first match wins", "mínimo de R$ 800, mínimo de R$ 900", 800},
		{"absent", "0,03% sobre volume", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ExtractMinimum(tt.text), 1e-9)
		})
	}
}

func TestExtractMaximum(t *testing.T) {
	assert.Equal(t, 5000.0, ExtractMaximum("máximo de R$ 5000"))
	assert.Equal(t, 12500.5, ExtractMaximum("maximo 12.500,50"))
	assert.True(t, math.IsInf(ExtractMaximum(""), 1))
	assert.True(t, math.IsInf(ExtractMaximum("mínimo de R$ 800"), 1))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.234,56", 1234.56},
		{"800", 800},
		{"R$ 2.500,00", 2500},
		{" 10,5 ", 10.5},
		{"", 0},
		{"abc", 0},
		{"NaN", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseAmount(tt.in), 1e-9)
		})
	}
}

func TestParse(t *testing.T) {
	p := Parse("0,03% sobre volume, mínimo de R$ 800, máximo de R$ 5.000")
	assert.InDelta(t, 0.0003, p.Rate, 1e-12)
	assert.Equal(t, 800.0, p.Minimum)
	assert.Equal(t, 5000.0, p.Maximum)
	assert.False(t, p.Unbounded())

	assert.True(t, Parse("0,03%").Unbounded())
}
