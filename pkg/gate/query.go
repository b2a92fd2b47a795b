package gate

import (
	"errors"
	"fmt"
	"net/url"
)

// accessTokenParam is the query parameter carrying the credential.
const accessTokenParam = "access_token"

// ErrNoCredential indicates a connection request without a usable
// access_token query parameter. Admission fails closed.
var ErrNoCredential = errors.New("no credential in connection request")

// credentialFromQuery extracts the access token from a raw query string.
func credentialFromQuery(rawQuery string) (string, error) {
	if rawQuery == "" {
		return "", ErrNoCredential
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	token := values.Get(accessTokenParam)
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}
