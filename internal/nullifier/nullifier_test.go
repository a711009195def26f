package nullifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret-0123456789abcdef")

func TestDeriveDeterministic(t *testing.T) {
	for _, scheme := range []string{"hmac-sha256", "poseidon"} {
		t.Run(scheme, func(t *testing.T) {
			h, err := New(scheme, testSecret)
			require.NoError(t, err)

			first, err := h.Derive("voter-1", "poll-1")
			require.NoError(t, err)
			second, err := h.Derive("voter-1", "poll-1")
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Len(t, first, 64)
		})
	}
}

func TestDeriveDistinctVoters(t *testing.T) {
	h, err := New("hmac-sha256", testSecret)
	require.NoError(t, err)

	t1, err := h.Derive("voter-1", "poll-1")
	require.NoError(t, err)
	t2, err := h.Derive("voter-2", "poll-1")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestDeriveDistinctPolls(t *testing.T) {
	h, err := New("hmac-sha256", testSecret)
	require.NoError(t, err)

	t1, err := h.Derive("voter-1", "poll-1")
	require.NoError(t, err)
	t2, err := h.Derive("voter-1", "poll-2")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2, "same voter must get unlinkable tokens across polls")
}

func TestDeriveDependsOnSecret(t *testing.T) {
	h1, err := New("hmac-sha256", testSecret)
	require.NoError(t, err)
	h2, err := New("hmac-sha256", []byte("a-different-secret-value-entirely"))
	require.NoError(t, err)

	t1, err := h1.Derive("voter-1", "poll-1")
	require.NoError(t, err)
	t2, err := h2.Derive("voter-1", "poll-1")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2, "token must be forgeable only with the server secret")
}

func TestDeriveRejectsEmptyInputs(t *testing.T) {
	h, err := New("hmac-sha256", testSecret)
	require.NoError(t, err)

	_, err = h.Derive("", "poll-1")
	assert.Error(t, err)
	_, err = h.Derive("voter-1", "")
	assert.Error(t, err)
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New("whirlpool", testSecret)
	assert.Error(t, err)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("hmac-sha256", nil)
	assert.Error(t, err)
}

func TestSchemesListsRegistered(t *testing.T) {
	assert.Contains(t, Schemes(), "hmac-sha256")
	assert.Contains(t, Schemes(), "poseidon")
}
