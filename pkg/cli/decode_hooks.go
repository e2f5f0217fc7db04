package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/conductorone/baton-presence/pkg/types/presence"
)

// ComposeDecodeHookFunc returns the hooks used to decode viper values into a
// TrackConfig: durations, comma separated strings and user id lists.
func ComposeDecodeHookFunc() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		UserIDsHookFunc(),
		StringToSliceHookFunc(","),
	)
}

// StringToSliceHookFunc returns a DecodeHookFunc that converts
// string to []string by splitting on the given sep.
// Note: this differs from mapstructure.StringToSliceHookFunc in that it ensures
// the target type is a []string and not []any.
func StringToSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Slice || t.Elem().Kind() != reflect.String {
			return data, nil
		}

		raw := data.(string)
		if raw == "" {
			return []string{}, nil
		}

		return strings.Split(raw, sep), nil
	}
}

var userIDsType = reflect.TypeOf([]presence.UserID{})

// UserIDsHookFunc decodes "1,2,3" or a list of strings into []presence.UserID.
// Lists of numbers are left to mapstructure.
func UserIDsHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != userIDsType {
			return data, nil
		}

		var parts []string
		switch v := data.(type) {
		case string:
			parts = strings.Split(v, ",")
		case []string:
			parts = v
		default:
			return data, nil
		}

		ids := make([]presence.UserID, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user id %q: %w", p, err)
			}
			ids = append(ids, presence.UserID(id))
		}
		return ids, nil
	}
}
