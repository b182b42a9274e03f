package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBenchResultRates(t *testing.T) {
	r := benchResult{
		PromptTokens: 10,
		Tokens:       11,
		FirstToken:   500 * time.Millisecond,
		Duration:     1500 * time.Millisecond,
	}
	assert.InDelta(t, 20.0, r.PromptTPS(), 1e-9)
	assert.InDelta(t, 10.0, r.GenTPS(), 1e-9)

	assert.Zero(t, benchResult{}.PromptTPS())
	assert.Zero(t, benchResult{Tokens: 1, Duration: time.Second}.GenTPS())
}

func TestPrintBenchResults(t *testing.T) {
	var buf bytes.Buffer
	printBenchResults(&buf, []benchResult{
		{PromptTokens: 4, Tokens: 3, FirstToken: time.Second, Duration: 2 * time.Second},
	})
	out := buf.String()
	assert.Contains(t, out, "=== Results ===")
	assert.Contains(t, out, "Avg")
	assert.Contains(t, out, "4.00")
	assert.Contains(t, out, "2.00")
}
