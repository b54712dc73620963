package configuration

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

// parser unmarshals a yaml document and then overwrites fields from the
// environment. v.Abc may be replaced by the value of PREFIX_ABC, v.Abc.Xyz
// by PREFIX_ABC_XYZ, and so forth; map entries are addressed by upper-cased
// key.
type parser struct {
	prefix string
	env    map[string]string
}

func newParser(prefix string) *parser {
	p := &parser{prefix: prefix, env: make(map[string]string)}
	for _, pair := range os.Environ() {
		parts := strings.SplitN(pair, "=", 2)
		p.env[parts[0]] = parts[1]
	}
	return p
}

func (p *parser) parse(in []byte, v interface{}) error {
	if err := yaml.Unmarshal(in, v); err != nil {
		return err
	}
	return p.overwriteFields(reflect.ValueOf(v), p.prefix)
}

func (p *parser) overwriteFields(v reflect.Value, prefix string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
			if e, ok := p.env[fieldPrefix]; ok {
				fieldVal := reflect.New(sf.Type)
				if err := yaml.Unmarshal([]byte(e), fieldVal.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(fieldVal))
			}
			if err := p.overwriteFields(v.Field(i), fieldPrefix); err != nil {
				return err
			}
		}
	case reflect.Map:
		return p.overwriteMap(v, prefix)
	}
	return nil
}

func (p *parser) overwriteMap(m reflect.Value, prefix string) error {
	if m.Type().Key().Kind() != reflect.String {
		return nil
	}
	for _, k := range m.MapKeys() {
		keyPrefix := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))
		elem := m.MapIndex(k)
		switch elem.Kind() {
		case reflect.Struct:
			// map values are not addressable; mutate a copy and store it back
			copied := reflect.New(elem.Type())
			copied.Elem().Set(elem)
			if err := p.overwriteFields(copied, keyPrefix); err != nil {
				return err
			}
			m.SetMapIndex(k, copied.Elem())
		case reflect.Map:
			if err := p.overwriteMap(elem, keyPrefix); err != nil {
				return err
			}
		}
	}

	// PREFIX_NEWKEY introduces entries absent from the file
	envMapRegexp, err := regexp.Compile(fmt.Sprintf("^%s_([A-Z0-9]+)$", strings.ToUpper(prefix)))
	if err != nil {
		return err
	}
	for key, val := range p.env {
		if submatches := envMapRegexp.FindStringSubmatch(key); submatches != nil {
			mapValue := reflect.New(m.Type().Elem())
			if err := yaml.Unmarshal([]byte(val), mapValue.Interface()); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(strings.ToLower(submatches[1])), reflect.Indirect(mapValue))
		}
	}
	return nil
}
