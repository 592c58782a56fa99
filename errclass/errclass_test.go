// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	type testcase struct {
		input  error
		expect string
	}

	var tests = []testcase{
		{input: nil, expect: ""},
	}

	for key, value := range errorsIsMap {
		tests = append(tests, testcase{input: key, expect: value})
	}

	for suffix, class := range stringSuffixMap {
		tests = append(tests, testcase{
			input:  errors.New("some error message " + suffix),
			expect: class,
		})
	}

	tests = append(tests, testcase{
		input:  fmt.Errorf("wrapped: %w", errECONNRESET),
		expect: ECONNRESET,
	})

	tests = append(tests, testcase{
		input:  errors.New("totally unknown error"),
		expect: EGENERIC,
	})

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expect, New(tt.input))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ECONNREFUSED))
	assert.True(t, IsTransient(ETIMEDOUT))
	assert.False(t, IsTransient(EINVAL))
	assert.False(t, IsTransient(EGENERIC))
}

func TestNewWrapsContextAndNetErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, EINTR, New(ctx.Err()))
	assert.Equal(t, EINTR, New(net.ErrClosed))
}
