package config

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/transit/internal/bytesize"
)

// byteSizeDecodeHook lets config fields of type bytesize.ByteSize accept
// human-readable strings like "1Gi" or "64KB" from YAML/env in addition to
// plain integers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			return bytesize.ParseByteSize(data.(string))
		case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
			return bytesize.ByteSize(reflect.ValueOf(data).Convert(reflect.TypeOf(uint64(0))).Uint()), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets time.Duration fields accept Go duration strings
// ("30s", "5m") from YAML/env, the same as the string form of flag.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		if from.Kind() != reflect.String {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}
