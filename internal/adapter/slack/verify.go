package slack

import (
	"net/http"

	"github.com/slack-go/slack"

	"relaybot/internal/domain"
)

// Verifier checks the signing-secret signature Slack attaches to every
// Events API request.
type Verifier struct {
	secret string
}

// NewVerifier creates a Verifier for the app's signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify returns nil when body carries a valid, fresh signature.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	if v.secret == "" {
		return domain.NewDomainError("Verifier.Verify", domain.ErrMissingCredential, "slack signing secret")
	}
	sv, err := slack.NewSecretsVerifier(header, v.secret)
	if err != nil {
		return domain.NewDomainError("Verifier.Verify", domain.ErrAuthInvalid, err.Error())
	}
	if _, err := sv.Write(body); err != nil {
		return domain.NewDomainError("Verifier.Verify", domain.ErrAuthInvalid, err.Error())
	}
	if err := sv.Ensure(); err != nil {
		return domain.NewDomainError("Verifier.Verify", domain.ErrAuthInvalid, err.Error())
	}
	return nil
}
