package hiot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// listShape extracts a list from one known response layout. ok is false when
// the body does not have that layout.
type listShape func(body any) (list []any, ok bool)

// deviceListShapes are tried in order and the first match wins.
var deviceListShapes = []listShape{
	// [...]
	func(body any) ([]any, bool) {
		l, ok := body.([]any)
		return l, ok
	},
	// {"data": {"deviceList": [...]}}
	func(body any) ([]any, bool) {
		data, ok := mapField(body, "data").(map[string]any)
		if !ok {
			return nil, false
		}
		l, _ := data["deviceList"].([]any)
		return l, true
	},
	// {"data": [...]}
	func(body any) ([]any, bool) {
		l, ok := mapField(body, "data").([]any)
		return l, ok
	},
	// {"resultData": [...]}
	func(body any) ([]any, bool) {
		l, ok := mapField(body, "resultData").([]any)
		return l, ok
	},
}

func mapField(body any, key string) any {
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func extractDeviceList(body any) []any {
	for _, shape := range deviceListShapes {
		if l, ok := shape(body); ok {
			return l
		}
	}
	return nil
}

// parseDevices normalizes a device list response. Non-object items are
// skipped and deviceId falls back to id.
func parseDevices(body any) []Device {
	items := extractDeviceList(body)
	devices := make([]Device, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		devices = append(devices, deviceFromMap(m))
	}
	return devices
}

func deviceFromMap(m map[string]any) Device {
	id, ok := m["deviceId"]
	if !ok {
		id = m["id"]
	}
	d := Device{
		DeviceID:       stringValue(id),
		DeviceType:     stringValue(m["deviceType"]),
		DeviceName:     stringValue(m["deviceName"]),
		DeviceLocation: stringValue(m["deviceLocation"]),
	}
	d.StatusList = parseStatusList(m["statusList"])
	return d
}

func parseStatusList(v any) []Status {
	items, _ := v.([]any)
	list := make([]Status, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		list = append(list, Status{
			Command: stringValue(m["command"]),
			Value:   stringValue(m["value"]),
		})
	}
	return list
}

// stringValue renders a decoded JSON scalar as a string.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// categorize buckets devices by category, dropping devices of unsupported
// types and devices without an id.
func categorize(devices []Device) DeviceStates {
	states := make(DeviceStates, len(Categories()))
	for _, c := range Categories() {
		states[c] = map[string]DeviceState{}
	}
	for _, d := range devices {
		category, ok := CategoryForDeviceType(d.DeviceType)
		if !ok || d.DeviceID == "" {
			continue
		}
		states[category][d.DeviceID] = DeviceState{StatusList: d.StatusList}
	}
	return states
}

// dateKeys are checked in order on each dated list item.
var dateKeys = [...]string{
	"date",
	"usageDate",
	"feeDate",
	"goalDate",
	"targetDate",
	"yearMonth",
	"ym",
	"month",
}

var dateLayouts = [...]string{
	"2006-01-02",
	"2006-01",
	"200601",
	"20060102",
}

func parseSortableDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func itemDate(item map[string]any) (time.Time, bool) {
	for _, key := range dateKeys {
		if t, ok := parseSortableDate(item[key]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// selectLatestItem returns the object item with the latest date. The first
// object item is returned when no item has a parsable date, and an empty map
// when there are no object items at all.
func selectLatestItem(values []any) map[string]any {
	var items []map[string]any
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	switch len(items) {
	case 0:
		return map[string]any{}
	case 1:
		return items[0]
	}

	var latest map[string]any
	var latestDate time.Time
	for _, item := range items {
		t, ok := itemDate(item)
		if !ok {
			continue
		}
		if latest == nil || t.After(latestDate) {
			latest = item
			latestDate = t
		}
	}
	if latest == nil {
		return items[0]
	}
	return latest
}

// extractLatestListItem selects the latest item of body.data[listKey].
func extractLatestListItem(body any, listKey string) map[string]any {
	data, ok := mapField(body, "data").(map[string]any)
	if !ok {
		return map[string]any{}
	}
	values, ok := data[listKey].([]any)
	if !ok || len(values) == 0 {
		return map[string]any{}
	}
	return selectLatestItem(values)
}
