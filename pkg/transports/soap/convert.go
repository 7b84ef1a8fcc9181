package soap

import (
	"reflect"
	"strings"
	"time"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

var (
	moRefType = reflect.TypeOf(types.ManagedObjectReference{})
	timeType  = reflect.TypeOf(time.Time{})
)

func toMoRef(ref vim.ObjectRef) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: ref.Type, Value: ref.Value}
}

func fromMoRef(ref types.ManagedObjectReference) vim.ObjectRef {
	return vim.Ref(ref.Type, ref.Value)
}

func fromMoRefPtr(ref *types.ManagedObjectReference) vim.ObjectRef {
	if ref == nil {
		return vim.ObjectRef{}
	}
	return fromMoRef(*ref)
}

// Convert turns a vim25 data object into the generic value tree: structs
// become map[string]any keyed by wire name with embedded base types
// flattened, slices and ArrayOf wrappers become []any, managed object
// references become vim.ObjectRef, enums become string and integers int64.
// Unset optional fields are left out.
func Convert(v any) any {
	if v == nil {
		return nil
	}
	return convert(reflect.ValueOf(v))
}

func convert(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return convert(rv.Elem())
	}

	switch rv.Type() {
	case moRefType:
		return fromMoRef(rv.Interface().(types.ManagedObjectReference))
	case timeType:
		return rv.Interface().(time.Time)
	}

	switch rv.Kind() {
	case reflect.Struct:
		if inner, ok := arrayOf(rv); ok {
			return convert(inner)
		}
		m := make(map[string]any)
		flatten(rv, m)
		return m
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes()
		}
		list := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			list = append(list, convert(rv.Index(i)))
		}
		return list
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = convert(iter.Value())
		}
		return m
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return rv.Interface()
}

// arrayOf unwraps the single slice field of an ArrayOfX holder.
func arrayOf(rv reflect.Value) (reflect.Value, bool) {
	t := rv.Type()
	if !strings.HasPrefix(t.Name(), "ArrayOf") || t.NumField() != 1 {
		return reflect.Value{}, false
	}
	if t.Field(0).Type.Kind() != reflect.Slice {
		return reflect.Value{}, false
	}
	return rv.Field(0), true
}

func flatten(rv reflect.Value, into map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			flatten(fv, into)
			continue
		}

		name := wireName(field)
		if name == "" || omitted(fv) {
			continue
		}
		into[name] = convert(fv)
	}
}

func wireName(field reflect.StructField) string {
	tag := field.Tag.Get("xml")
	if tag == "-" || field.Name == "XMLName" {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return strings.ToLower(field.Name[:1]) + field.Name[1:]
}

func omitted(fv reflect.Value) bool {
	switch fv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return fv.IsNil()
	}
	return false
}
