package record

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRequired    = errors.New("value is required")
	ErrInvalidType = errors.New("unsupported value type")
	ErrOutOfRange  = errors.New("value out of range")
)

// FieldError reports an inventory value that could not be typed.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("record: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("record: field %s: value %#v: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type fieldValidator struct {
	name     string
	required bool
	apply    func(inv *Inventory, v any) error
}

// inventoryFields are applied in column order.
var inventoryFields = []fieldValidator{
	{name: "bucket", apply: func(inv *Inventory, v any) error {
		s, err := toString(v)
		inv.Bucket = s
		return err
	}},
	{name: "key", required: true, apply: func(inv *Inventory, v any) error {
		s, err := toString(v)
		inv.Key = s
		return err
	}},
	{name: "size", apply: func(inv *Inventory, v any) error {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return ErrOutOfRange
		}
		inv.Size = &n
		return nil
	}},
	{name: "last_modified_date", apply: optionalTime(func(inv *Inventory) **time.Time { return &inv.LastModifiedDate })},
	{name: "e_tag", apply: optionalString(func(inv *Inventory) **string { return &inv.ETag })},
	{name: "storage_class", apply: optionalString(func(inv *Inventory) **string { return &inv.StorageClass })},
	{name: "is_multipart_uploaded", apply: func(inv *Inventory, v any) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		inv.IsMultipartUploaded = &b
		return nil
	}},
	{name: "replication_status", apply: optionalString(func(inv *Inventory) **string { return &inv.ReplicationStatus })},
	{name: "encryption_status", apply: optionalString(func(inv *Inventory) **string { return &inv.EncryptionStatus })},
	{name: "object_lock_retain_until_date", apply: optionalTime(func(inv *Inventory) **time.Time { return &inv.ObjectLockRetainUntilDate })},
	{name: "object_lock_mode", apply: optionalString(func(inv *Inventory) **string { return &inv.ObjectLockMode })},
	{name: "object_lock_legal_hold_status", apply: optionalString(func(inv *Inventory) **string { return &inv.ObjectLockLegalHoldStatus })},
	{name: "intelligent_tiering_access_tier", apply: optionalString(func(inv *Inventory) **string { return &inv.IntelligentTieringAccessTier })},
	{name: "bucket_key_status", apply: optionalString(func(inv *Inventory) **string { return &inv.BucketKeyStatus })},
	{name: "checksum_algorithm", apply: optionalString(func(inv *Inventory) **string { return &inv.ChecksumAlgorithm })},
	{name: "object_access_control_list", apply: optionalString(func(inv *Inventory) **string { return &inv.ObjectAccessControlList })},
	{name: "object_owner", apply: optionalString(func(inv *Inventory) **string { return &inv.ObjectOwner })},
}

// InventoryColumns returns the inventory column names in validation order.
func InventoryColumns() []string {
	names := make([]string, len(inventoryFields))
	for i, f := range inventoryFields {
		names[i] = f.name
	}
	return names
}

// ValidateInventory types a raw inventory row. Absent and nil values leave
// optional columns unset. Every failing column is reported; the returned
// error joins one *FieldError per column. Columns that did validate are set
// on the returned Inventory even when err is non-nil.
func ValidateInventory(row map[string]any) (Inventory, error) {
	var (
		inv  Inventory
		errs []error
	)
	for _, f := range inventoryFields {
		v, ok := row[f.name]
		if !ok || v == nil {
			if f.required {
				errs = append(errs, &FieldError{Field: f.name, Err: ErrRequired})
			}
			continue
		}
		if err := f.apply(&inv, v); err != nil {
			errs = append(errs, &FieldError{Field: f.name, Value: v, Err: err})
		}
	}
	return inv, errors.Join(errs...)
}

func optionalString(field func(*Inventory) **string) func(*Inventory, any) error {
	return func(inv *Inventory, v any) error {
		s, err := toString(v)
		if err != nil {
			return err
		}
		if s != "" {
			*field(inv) = &s
		}
		return nil
	}
}

func optionalTime(field func(*Inventory) **time.Time) func(*Inventory, any) error {
	return func(inv *Inventory, v any) error {
		if s, ok := v.(string); ok && s == "" {
			return nil
		}
		t, err := toTime(v)
		if err != nil {
			return err
		}
		*field(inv) = &t
		return nil
	}
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", ErrInvalidType
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt64(x)
	case float32:
		return floatToInt64(float64(x))
	case float64:
		return floatToInt64(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse integer: %w", err)
		}
		return n, nil
	}
	return 0, ErrInvalidType
}

func uintToInt64(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, ErrOutOfRange
	}
	return int64(u), nil
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, ErrOutOfRange
	}
	return int64(f), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch {
		case strings.EqualFold(x, "true"):
			return true, nil
		case strings.EqualFold(x, "false"):
			return false, nil
		}
		return false, fmt.Errorf("parse boolean %q: %w", x, ErrInvalidType)
	}
	return false, ErrInvalidType
}

// toTime accepts time.Time, epoch milliseconds and RFC 3339 strings. The
// result is UTC at millisecond precision.
func toTime(v any) (time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case int64:
		t = time.UnixMilli(x)
	case int:
		t = time.UnixMilli(int64(x))
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		t = parsed
	default:
		return time.Time{}, ErrInvalidType
	}
	return t.UTC().Truncate(time.Millisecond), nil
}
