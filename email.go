package passwordless

import "time"

// EmailParams is passed as data when executing the email template.
type EmailParams struct {
	Name       string
	Email      string
	SiteName   string
	EntryURL   string
	Expiration time.Duration
}

// DefaultEmailTemplate is the default for Config.EmailTemplate.
const DefaultEmailTemplate = `Hi {{.Name}},

Use the link below to log in to {{.SiteName}}:

{{.EntryURL}}

The link is valid for {{printf "%.f" .Expiration.Minutes}} minutes and can be used only once.

If you did not request this link, you can ignore this email.
`
