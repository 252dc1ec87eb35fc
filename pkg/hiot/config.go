package hiot

import (
	"errors"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/hthome/hiot/pkg/common"
	"github.com/hthome/hiot/pkg/metrics"
)

// Account holds the login credentials and, optionally, the site to select
// after login.
type Account struct {
	Username string
	Password string
	Site     Site
}

// Validate checks that the credentials are present and that the site is
// either fully specified or fully empty.
func (a Account) Validate() error {
	if a.Username == "" {
		return errors.New("hiot username is required")
	}
	if a.Password == "" {
		return errors.New("hiot password is required")
	}
	partial := a.Site.SiteID != "" || a.Site.Dong != "" || a.Site.Ho != ""
	if partial && !a.Site.Complete() {
		return errors.New("hiot site id, dong and ho must be set together")
	}
	return nil
}

// Configured registers the hiot flags and returns a Client and the Account
// to connect with. Both are usable once lflag has been parsed.
func Configured(m *metrics.Metrics) (*Client, *Account) {
	baseURL := lflag.String("hiot-base-url", DefaultBaseURL, "Base URL of the HT HomeService API")
	username := lflag.RequiredString("hiot-username", "HT HomeService username")
	password := lflag.RequiredString("hiot-password", "HT HomeService password")
	siteID := lflag.String("hiot-site-id", "", "Site (danji) ID to select. If empty the only household of the account is used")
	dong := lflag.String("hiot-dong", "", "Building number (dong) of the household")
	ho := lflag.String("hiot-ho", "", "Unit number (ho) of the household")
	timeout := lflag.Duration("hiot-timeout", 30*time.Second, "Timeout for a single request to the HT HomeService API")

	c := New(nil, WithMetrics(m))
	a := &Account{}

	lflag.Do(func() {
		c.client = common.HTTPClient(*timeout)
		c.baseURL = *baseURL

		a.Username = *username
		a.Password = *password
		a.Site = Site{
			SiteID: *siteID,
			Dong:   *dong,
			Ho:     *ho,
		}
	})

	return c, a
}
