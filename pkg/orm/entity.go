package orm

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Entity is implemented by every mapped type.
//
// Values and Pointers are aligned with the descriptor's scalar Columns. An id of
// 0 means the entity is transient.
type Entity interface {
	EntityName() string
	PrimaryKey() int64
	SetPrimaryKey(id int64)
	Values() []interface{}
	Pointers() []interface{}
	// Association returns the *Collection or *Reference field for the named
	// association, or nil
	Association(name string) interface{}
}

// Key identifies an entity in the identity map
type Key struct {
	Entity string
	ID     int64
}

func (k Key) String() string {
	return k.Entity + "#" + strconv.FormatInt(k.ID, 10)
}

func keyOf(e Entity) Key {
	return Key{Entity: e.EntityName(), ID: e.PrimaryKey()}
}

func isNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// assign stores a driver value into a scan target
func assign(dst, src interface{}) error {
	if scanner, ok := dst.(sql.Scanner); ok {
		return scanner.Scan(src)
	}
	if src == nil {
		v := reflect.ValueOf(dst)
		if v.Kind() != reflect.Ptr || v.IsNil() {
			return fmt.Errorf("cannot assign to %T", dst)
		}
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
		return nil
	}

	switch d := dst.(type) {
	case *string:
		switch s := src.(type) {
		case string:
			*d = s
		case []byte:
			*d = string(s)
		default:
			*d = fmt.Sprint(s)
		}
		return nil
	case *[]byte:
		switch s := src.(type) {
		case []byte:
			*d = append([]byte(nil), s...)
		case string:
			*d = []byte(s)
		default:
			return fmt.Errorf("cannot assign %T to *[]byte", src)
		}
		return nil
	case *int64:
		n, err := toInt64(src)
		*d = n
		return err
	case *int:
		n, err := toInt64(src)
		*d = int(n)
		return err
	case *float64:
		switch s := src.(type) {
		case float64:
			*d = s
		case int64:
			*d = float64(s)
		case []byte:
			f, err := strconv.ParseFloat(string(s), 64)
			*d = f
			return err
		default:
			return fmt.Errorf("cannot assign %T to *float64", src)
		}
		return nil
	case *bool:
		switch s := src.(type) {
		case bool:
			*d = s
		case int64:
			*d = s != 0
		case []byte:
			b, err := strconv.ParseBool(string(s))
			*d = b
			return err
		default:
			return fmt.Errorf("cannot assign %T to *bool", src)
		}
		return nil
	case *time.Time:
		t, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("cannot assign %T to *time.Time", src)
		}
		*d = t
		return nil
	}
	return fmt.Errorf("unsupported scan target %T", dst)
}

func toInt64(src interface{}) (int64, error) {
	switch s := src.(type) {
	case int64:
		return s, nil
	case int32:
		return int64(s), nil
	case int:
		return int64(s), nil
	case uint64:
		return int64(s), nil
	case float64:
		return int64(s), nil
	case []byte:
		return strconv.ParseInt(string(s), 10, 64)
	case string:
		return strconv.ParseInt(s, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", src)
	}
}
