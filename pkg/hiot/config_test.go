package hiot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountValidate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr bool
	}{
		{
			name:    "Credentials Only",
			account: Account{Username: "u", Password: "p"},
		},
		{
			name:    "Full Site",
			account: Account{Username: "u", Password: "p", Site: Site{SiteID: "s", Dong: "1", Ho: "2"}},
		},
		{
			name:    "Missing Username",
			account: Account{Password: "p"},
			wantErr: true,
		},
		{
			name:    "Missing Password",
			account: Account{Username: "u"},
			wantErr: true,
		},
		{
			name:    "Partial Site",
			account: Account{Username: "u", Password: "p", Site: Site{SiteID: "s"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSiteComplete(t *testing.T) {
	tests := []struct {
		name string
		site Site
		want bool
	}{
		{name: "Full", site: Site{SiteID: "s", Dong: "1", Ho: "2"}, want: true},
		{name: "Empty", site: Site{}},
		{name: "Missing Ho", site: Site{SiteID: "s", Dong: "1"}},
		{name: "Missing Site ID", site: Site{Dong: "1", Ho: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.site.Complete())
		})
	}
}
