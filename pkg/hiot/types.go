package hiot

// Device categories are the path segments used by the per-device state and
// control endpoints.
const (
	CategoryLights      = "lights"
	CategoryHeaters     = "heaters"
	CategoryFans        = "fans"
	CategoryGases       = "gases"
	CategoryAircons     = "aircons"
	CategoryWallSockets = "wall-sockets"
)

// CategoryForDeviceType returns the API category for a device type. Devices
// of any other type are not supported.
func CategoryForDeviceType(deviceType string) (string, bool) {
	switch deviceType {
	case "light":
		return CategoryLights, true
	case "heating":
		return CategoryHeaters, true
	case "fan":
		return CategoryFans, true
	case "gas":
		return CategoryGases, true
	case "aircon":
		return CategoryAircons, true
	case "wallsocket":
		return CategoryWallSockets, true
	}
	return "", false
}

// Categories returns every known category.
func Categories() []string {
	return []string{
		CategoryLights,
		CategoryHeaters,
		CategoryFans,
		CategoryGases,
		CategoryAircons,
		CategoryWallSockets,
	}
}

// IsCategory reports whether category is one of Categories.
func IsCategory(category string) bool {
	for _, c := range Categories() {
		if c == category {
			return true
		}
	}
	return false
}

// Status is a single command/value pair of a device. It is used both for
// reported state and for control commands.
type Status struct {
	Command string `json:"command"`
	Value   string `json:"value"`
}

// Device is a device as returned by the device list endpoints.
type Device struct {
	DeviceID       string   `json:"deviceId"`
	DeviceType     string   `json:"deviceType"`
	DeviceName     string   `json:"deviceName"`
	DeviceLocation string   `json:"deviceLocation,omitempty"`
	StatusList     []Status `json:"statusList"`
}

// Value returns the value for command in the status list.
func (d Device) Value(command string) (string, bool) {
	return DeviceState{StatusList: d.StatusList}.Value(command)
}

// DeviceState is the state of a single device in a bulk snapshot.
type DeviceState struct {
	StatusList []Status `json:"statusList"`
}

// Value returns the value for command. If the command appears more than once
// the first occurrence wins.
func (s DeviceState) Value(command string) (string, bool) {
	for _, st := range s.StatusList {
		if st.Command == command {
			return st.Value, true
		}
	}
	return "", false
}

// DeviceStates maps category -> deviceID -> state. Every category from
// Categories is present.
type DeviceStates map[string]map[string]DeviceState

// Household is an apartment unit the account has access to.
type Household struct {
	SiteID         string `json:"siteId"`
	SiteName       string `json:"siteName"`
	Dong           string `json:"dong"`
	Ho             string `json:"ho"`
	HomepageDomain string `json:"homepageDomain,omitempty"`
}

// Site returns the site selector for the household.
func (h Household) Site() Site {
	return Site{SiteID: h.SiteID, Dong: h.Dong, Ho: h.Ho}
}

// Site identifies a residential unit: the complex and the building/unit
// numbers within it.
type Site struct {
	SiteID string `json:"siteId"`
	Dong   string `json:"dong"`
	Ho     string `json:"ho"`
}

// Complete reports whether the site id, dong and ho are all set.
func (s Site) Complete() bool {
	return s.SiteID != "" && s.Dong != "" && s.Ho != ""
}

// EnergyType is a metered utility.
type EnergyType string

const (
	EnergyElectric EnergyType = "ELEC"
	EnergyWater    EnergyType = "WATER"
	EnergyGas      EnergyType = "GAS"
)

// EnergyTypes returns all metered utilities.
func EnergyTypes() []EnergyType {
	return []EnergyType{EnergyElectric, EnergyWater, EnergyGas}
}

// EnergyRecord holds the latest monthly usage, fee and goal items for one
// energy type. Each field is the raw API item and is empty when it could not
// be fetched.
type EnergyRecord struct {
	Usage map[string]any `json:"usage"`
	Fee   map[string]any `json:"fee"`
	Goal  map[string]any `json:"goal"`
}

// EnergyData maps each energy type to its record.
type EnergyData map[EnergyType]EnergyRecord
