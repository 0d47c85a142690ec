package membership

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaim(t *testing.T) {
	assert := assert.New(t)

	uri := claimURI("3kabc").String()
	good := json.RawMessage(`{"community": "did:plc:aaaaaaaaaaaaaaaaaaaaaaaa", "createdAt": "2024-03-01T12:00:00Z"}`)

	cl, err := ParseClaim(uri, good)
	require.NoError(t, err)
	assert.Equal(commA, cl.Community)

	// unknown/missing fields fail closed
	for name, value := range map[string]string{
		"missing community": `{"createdAt": "2024-03-01T12:00:00Z"}`,
		"bad community":     `{"community": "not-a-did", "createdAt": "2024-03-01T12:00:00Z"}`,
		"missing createdAt": `{"community": "did:plc:aaaaaaaaaaaaaaaaaaaaaaaa"}`,
		"not json":          `"hello"`,
	} {
		_, err := ParseClaim(uri, json.RawMessage(value))
		assert.Error(err, name)
	}

	_, err = ParseClaim("not-an-at-uri", good)
	assert.Error(err)
}

func TestParseConfirmation(t *testing.T) {
	assert := assert.New(t)

	uri := "at://" + commA.String() + "/" + ConfirmationCollection + "/3kdef"
	good := json.RawMessage(`{"subject": "did:plc:ewvi7nxzyoun6zhxrhs64oiz", "claim": "` + claimURI("3kabc").String() + `", "createdAt": "2024-03-02T12:00:00Z"}`)

	cf, err := ParseConfirmation(uri, good)
	require.NoError(t, err)
	assert.Equal(userDID, cf.Subject)
	assert.Equal(claimURI("3kabc"), cf.Claim)

	_, err = ParseConfirmation(uri, json.RawMessage(`{"subject": "did:plc:ewvi7nxzyoun6zhxrhs64oiz"}`))
	assert.Error(err)
}

func TestParseProfile(t *testing.T) {
	assert := assert.New(t)

	profile, err := ParseProfile(json.RawMessage(`{"displayName": "Gardeners", "description": "a community"}`))
	require.NoError(t, err)
	assert.Equal("Gardeners", profile.DisplayName)
	require.NotNil(t, profile.Description)
	assert.Equal("a community", *profile.Description)

	_, err = ParseProfile(json.RawMessage(`{"description": "no name"}`))
	assert.Error(err)
}
