package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`[{"schedule_key":"a","probabilities":{"ontime":100}}]`)

	env, err := Seal(key, plaintext)
	require.NoError(t, err)
	require.Equal(t, Version1, env.V)
	require.Equal(t, AlgA256GCM, env.Alg)

	got, err := Open(key, env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenWrongKeyFailsClosed(t *testing.T) {
	env, err := Seal(testKey(t), []byte("payload"))
	require.NoError(t, err)

	pt, err := Open(testKey(t), env)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Nil(t, pt)
}

func TestOpenTamperedCiphertextFailsClosed(t *testing.T) {
	key := testKey(t)
	env, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(env.CT)
	require.NoError(t, err)
	ct[0] ^= 0x01
	env.CT = base64.StdEncoding.EncodeToString(ct)

	pt, err := Open(key, env)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Nil(t, pt)
}

func TestOpenBadKeyLength(t *testing.T) {
	env, err := Seal(testKey(t), []byte("payload"))
	require.NoError(t, err)

	_, err = Open([]byte("short"), env)
	require.ErrorIs(t, err, ErrBadKeyLength)
}

func TestSealFreshNonces(t *testing.T) {
	key := testKey(t)
	e1, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	e2, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	require.NotEqual(t, e1.IV, e2.IV)
	require.NotEqual(t, e1.CT, e2.CT)
}

func TestParseVersionDispatch(t *testing.T) {
	env, err := Seal(testKey(t), []byte("payload"))
	require.NoError(t, err)
	b, err := env.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, env, parsed)

	_, err = Parse([]byte(`{"v":2,"alg":"A256GCM","iv_b64":"aaaa","ct_b64":"bbbb"}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Parse([]byte(`{"v":1,"alg":"XCHACHA","iv_b64":"aaaa","ct_b64":"bbbb"}`))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Parse([]byte(`{"v":1,"alg":"A256GCM"}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCiphertextHash(t *testing.T) {
	key := testKey(t)
	env, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(env.CT)
	require.NoError(t, err)

	h, err := env.CiphertextHash()
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(ct), h)
}

func TestStaticKeyProvider(t *testing.T) {
	key := testKey(t)
	got, err := StaticKey(key).MasterKey()
	require.NoError(t, err)
	require.Equal(t, key, got)

	_, err = StaticKey([]byte("short")).MasterKey()
	require.ErrorIs(t, err, ErrBadKeyLength)
}
