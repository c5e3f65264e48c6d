package config

import (
	"reflect"
)

// DeepMerge overlays src onto dst field by field. Zero scalars in src leave
// dst untouched, so an overlay only needs the fields it changes. Maps are
// merged key by key, non-empty slices replace and nil pointers are skipped.
func DeepMerge[T any](dst, src *T) {
	if dst == nil || src == nil {
		return
	}
	overlay(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem())
}

func overlay(dst, src reflect.Value) {
	if !dst.CanSet() || !src.IsValid() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			overlay(dst.Field(i), src.Field(i))
		}
	case reflect.Ptr:
		switch {
		case src.IsNil():
		case dst.IsNil():
			dst.Set(src)
		default:
			overlay(dst.Elem(), src.Elem())
		}
	case reflect.Map:
		overlayMap(dst, src)
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if dst.IsZero() || !src.IsZero() {
			dst.Set(src)
		}
	}
}

func overlayMap(dst, src reflect.Value) {
	if src.IsNil() {
		return
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMapWithSize(dst.Type(), src.Len()))
	}

	iter := src.MapRange()
	for iter.Next() {
		key, val := iter.Key(), iter.Value()
		cur := dst.MapIndex(key)
		if !cur.IsValid() || (val.Kind() != reflect.Map && val.Kind() != reflect.Struct) {
			dst.SetMapIndex(key, val)
			continue
		}
		// Map values are not addressable; merge into a copy.
		merged := reflect.New(cur.Type()).Elem()
		merged.Set(cur)
		overlay(merged, val)
		dst.SetMapIndex(key, merged)
	}
}
