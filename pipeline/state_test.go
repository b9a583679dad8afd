package pipeline

import (
	"encoding/base64"
	"testing"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEncKey  = []byte("0123456789abcdef0123456789abcdef")
	testHMACKey = []byte("fedcba9876543210fedcba9876543210")
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newStateManager(t *testing.T, opts ...StateOption) *StateManager {
	t.Helper()
	sm, err := NewStateManager(testEncKey, testHMACKey, opts...)
	require.NoError(t, err)
	return sm
}

func TestStateManager_EncodeDecode(t *testing.T) {
	sm := newStateManager(t)

	state := &State{
		Provider:     "github",
		Action:       "login",
		RedirectURL:  "/dashboard",
		CodeVerifier: "test-verifier",
	}

	encoded, err := sm.Encode(state)
	require.NoError(t, err)
	assert.NotEmpty(t, state.Nonce)
	assert.NotZero(t, state.IssuedAt)
	assert.Equal(t, state.IssuedAt+int64(DefaultStateTTL/time.Second), state.ExpiresAt)

	decoded, err := sm.Decode("github", encoded)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestStateManager_Expired(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	sm := newStateManager(t, WithStateClock(c.Now), WithStateTTL(time.Minute))

	encoded, err := sm.Encode(&State{Provider: "github"})
	require.NoError(t, err)

	c.now = c.now.Add(time.Minute)
	_, err = sm.Decode("github", encoded)
	require.NoError(t, err, "expiry is inclusive of the last second")

	c.now = c.now.Add(time.Second)
	_, err = sm.Decode("github", encoded)
	assert.ErrorIs(t, err, socialauth.ErrAuthStateForbidden)
	assert.Equal(t, "github", mustOutcome(t, err).Backend)
}

func TestStateManager_Tampered(t *testing.T) {
	sm := newStateManager(t)
	encoded, err := sm.Encode(&State{Provider: "github"})
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.URLEncoding.EncodeToString(raw)

	other, err := NewStateManager(testEncKey, []byte("another-hmac-key"))
	require.NoError(t, err)

	cases := map[string]string{
		"flipped byte":   tampered,
		"not base64":     "%%%",
		"too short":      base64.URLEncoding.EncodeToString([]byte("short")),
		"empty":          "",
		"other hmac key": mustEncode(t, other, &State{Provider: "github"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := sm.Decode("github", token)
			assert.ErrorIs(t, err, socialauth.ErrAuthStateForbidden)
		})
	}
}

func TestStateManager_Verify(t *testing.T) {
	sm := newStateManager(t)
	state := &State{Provider: "github", Nonce: "session-nonce"}
	token := mustEncode(t, sm, state)

	got, err := sm.Verify("github", "session-nonce", token)
	require.NoError(t, err)
	assert.Equal(t, "github", got.Provider)

	_, err = sm.Verify("github", "session-nonce", "")
	assert.ErrorIs(t, err, socialauth.ErrAuthMissingParameter)
	assert.Equal(t, "state", mustOutcome(t, err).Parameter)

	_, err = sm.Verify("github", "", token)
	assert.ErrorIs(t, err, socialauth.ErrAuthStateMissing)

	_, err = sm.Verify("github", "other-nonce", token)
	assert.ErrorIs(t, err, socialauth.ErrAuthStateForbidden)

	_, err = sm.Verify("google", "session-nonce", token)
	assert.ErrorIs(t, err, socialauth.ErrWrongBackend)
}

func TestNewStateManager_RejectsBadKeys(t *testing.T) {
	_, err := NewStateManager([]byte("short"), testHMACKey)
	assert.Error(t, err)

	_, err = NewStateManager(testEncKey, nil)
	assert.Error(t, err)
}

func TestEncode_NilState(t *testing.T) {
	_, err := newStateManager(t).Encode(nil)
	assert.ErrorIs(t, err, socialauth.ErrMalformedData)
}

func TestPKCE(t *testing.T) {
	// RFC 7636 appendix B.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))

	a, err := NewCodeVerifier()
	require.NoError(t, err)
	b, err := NewCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func mustEncode(t *testing.T, sm *StateManager, state *State) string {
	t.Helper()
	token, err := sm.Encode(state)
	require.NoError(t, err)
	return token
}

func mustOutcome(t *testing.T, err error) *socialauth.Outcome {
	t.Helper()
	o, ok := socialauth.AsOutcome(err)
	require.True(t, ok, "expected an outcome, got %v", err)
	return o
}
