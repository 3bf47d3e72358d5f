package config

import (
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v2"
)

// overlayEnv walks v (which must be a pointer to struct) and, for every
// field, checks whether an environment variable named
// "<prefix>_<FIELD>_<SUBFIELD>..." is set; if so, its value is YAML-decoded
// into that field. The walk is plain reflection with no version
// negotiation, since this configuration carries a single current schema.
func overlayEnv(v reflect.Value, prefix string, env map[string]string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			if !v.Field(i).CanSet() {
				continue
			}
			fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
			if raw, ok := env[fieldPrefix]; ok {
				fieldVal := reflect.New(sf.Type)
				if err := yaml.Unmarshal([]byte(raw), fieldVal.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(fieldVal))
			}
			if err := overlayEnv(v.Field(i), fieldPrefix, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// currentEnviron snapshots os.Environ into a lookup map once per overlay
// call; configuration loading is not a hot path.
func currentEnviron() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

// OverlayEnv applies environment variable overrides onto v (a pointer to a
// struct with yaml-compatible field names) using the PREFIX_FIELD_SUBFIELD
// convention, e.g. with prefix "SPFS" the field Storage.Root is overridden
// by SPFS_STORAGE_ROOT.
func OverlayEnv(prefix string, v interface{}) error {
	return overlayEnv(reflect.ValueOf(v), prefix, currentEnviron())
}
