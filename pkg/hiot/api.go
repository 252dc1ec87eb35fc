package hiot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hthome/hiot/pkg/log"
)

const (
	pathLogin     = "login"
	pathHousehold = "proxy/bearer/api/v1/user/danji/household"
	pathHomepage  = "proxy/bearer/api/v1/user/homepage"
	pathCTOCToken = "getctoctoken"
	pathDevices   = "proxy/ctoc/devices"

	ctocClientID = "HT-WEB"
)

type loginRequest struct {
	ID         string `json:"id"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type siteTokenRequest struct {
	SiteID   string `json:"siteId"`
	Dong     string `json:"dong"`
	Ho       string `json:"ho"`
	ClientID string `json:"clientId"`
	UUID     string `json:"uuid"`
}

type controlRequest struct {
	CommandList []Status `json:"commandList"`
}

// Login encrypts the credentials and logs in. The credentials are kept so
// that an expired session can be recovered later.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return authError("missing username or password")
	}

	c.mu.Lock()
	c.username = username
	c.password = password
	c.mu.Unlock()

	encryptedID, err := Encrypt(username, c.passphrase)
	if err != nil {
		return err
	}
	encryptedPassword, err := Encrypt(password, c.passphrase)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, http.MethodPost, pathLogin, nil, loginRequest{
		ID:         encryptedID,
		Password:   encryptedPassword,
		RememberMe: false,
	}, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "hiot login failed", slog.Any("error", err))
		return err
	}
	c.loggedIn()
	log.Ctx(ctx).DebugContext(ctx, "hiot login success")
	return nil
}

// Households lists the apartment units the account can access.
func (c *Client) Households(ctx context.Context) ([]Household, error) {
	body, err := c.do(ctx, http.MethodGet, pathHousehold, nil, nil, true)
	if err != nil {
		return nil, err
	}
	resultData, _ := mapField(body, "resultData").(map[string]any)
	items, _ := resultData["danjiList"].([]any)

	households := make([]Household, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		households = append(households, Household{
			SiteID:         stringValue(m["siteId"]),
			SiteName:       stringValue(m["siteName"]),
			Dong:           stringValue(m["dong"]),
			Ho:             stringValue(m["ho"]),
			HomepageDomain: stringValue(m["homepageDomain"]),
		})
	}
	return households, nil
}

// Homepage returns the resultData of the user homepage endpoint.
func (c *Client) Homepage(ctx context.Context) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, pathHomepage, nil, nil, true)
	if err != nil {
		return nil, err
	}
	if m, ok := mapField(body, "resultData").(map[string]any); ok {
		return m, nil
	}
	return map[string]any{}, nil
}

// AcquireSiteToken obtains the CTOC token for site. The site is remembered
// and replayed after every recovery login.
func (c *Client) AcquireSiteToken(ctx context.Context, site Site) error {
	if !site.Complete() {
		return apiError("site id, dong and ho are required", nil)
	}
	c.mu.Lock()
	c.site = site
	c.mu.Unlock()

	return c.acquireSiteToken(ctx, site, true)
}

func (c *Client) acquireSiteToken(ctx context.Context, site Site, requiresAuth bool) error {
	_, err := c.do(ctx, http.MethodPost, pathCTOCToken, nil, siteTokenRequest{
		SiteID:   site.SiteID,
		Dong:     site.Dong,
		Ho:       site.Ho,
		ClientID: ctocClientID,
		UUID:     "",
	}, requiresAuth)
	if err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "hiot ctoc token acquired", slog.String("siteID", site.SiteID))
	return nil
}

// Connect logs in and selects a site. When account.Site is incomplete the
// account must have exactly one household, which is then used.
func (c *Client) Connect(ctx context.Context, account Account) (Site, error) {
	if err := c.Login(ctx, account.Username, account.Password); err != nil {
		return Site{}, fmt.Errorf("failed to login: %w", err)
	}

	site := account.Site
	if !site.Complete() {
		households, err := c.Households(ctx)
		if err != nil {
			return Site{}, fmt.Errorf("failed to list households: %w", err)
		}
		switch len(households) {
		case 0:
			return Site{}, apiError("account has no households", nil)
		case 1:
			site = households[0].Site()
			log.Ctx(ctx).InfoContext(
				ctx,
				"automatically selected household",
				slog.String("siteID", site.SiteID),
				slog.String("siteName", households[0].SiteName),
				slog.String("dong", site.Dong),
				slog.String("ho", site.Ho),
			)
		default:
			return Site{}, apiError(fmt.Sprintf("account has %d households, set a site id, dong and ho", len(households)), nil)
		}
	}

	if err := c.AcquireSiteToken(ctx, site); err != nil {
		return Site{}, fmt.Errorf("failed to acquire site token: %w", err)
	}
	return site, nil
}

// ListDevices returns every device of the selected site.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	body, err := c.do(ctx, http.MethodGet, pathDevices, nil, nil, true)
	if err != nil {
		return nil, err
	}
	return parseDevices(body), nil
}

// ListDeviceStates fetches every device with its status in one call and
// groups them by category. Devices of unsupported types are left out.
func (c *Client) ListDeviceStates(ctx context.Context) (DeviceStates, error) {
	params := url.Values{}
	params.Set("includeStatus", "true")
	body, err := c.do(ctx, http.MethodGet, pathDevices, params, nil, true)
	if err != nil {
		return nil, err
	}
	return categorize(parseDevices(body)), nil
}

// devicePath returns the unescaped path of a device. newRequest escapes it.
func devicePath(category, deviceID string) (string, error) {
	if category == "" || deviceID == "" {
		return "", apiError("category and device id are required", nil)
	}
	for _, segment := range []string{category, deviceID} {
		if segment == "." || segment == ".." || strings.Contains(segment, "/") {
			return "", apiError(fmt.Sprintf("invalid path segment %q", segment), nil)
		}
	}
	return path.Join("proxy/ctoc", category, deviceID), nil
}

// DeviceState fetches the live state of a single device.
func (c *Client) DeviceState(ctx context.Context, category, deviceID string) (map[string]any, error) {
	endpoint, err := devicePath(category, deviceID)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, true)
	if err != nil {
		return nil, err
	}

	m, ok := body.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	if data, ok := m["data"].(map[string]any); ok {
		return data, nil
	}
	if data, ok := m["resultData"].(map[string]any); ok {
		return data, nil
	}
	return m, nil
}

// ControlDevice sends commands to a device in a single request. Nothing is
// cached so callers must fetch the state again to observe the change.
func (c *Client) ControlDevice(ctx context.Context, category, deviceID string, commands []Status) (map[string]any, error) {
	endpoint, err := devicePath(category, deviceID)
	if err != nil {
		return nil, err
	}
	if commands == nil {
		commands = []Status{}
	}
	body, err := c.do(ctx, http.MethodPut, endpoint, nil, controlRequest{CommandList: commands}, true)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"hiot device controlled",
		slog.String("category", category),
		slog.String("deviceID", deviceID),
		slog.Any("commands", commands),
	)
	if m, ok := body.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{}, nil
}
