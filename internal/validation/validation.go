package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ErrInvalidPath is returned when a path does not address the kind of
// resource the caller asked for (a collection where a document was required,
// or the reverse), or when it is malformed.
var ErrInvalidPath = errors.New("invalid path")

// SplitPath breaks a slash separated path into its segments.
// Leading and trailing slashes are ignored; empty inner segments are an error.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}

	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment at position %d", ErrInvalidPath, path, i)
		}
	}
	return segments, nil
}

// IsDocumentPath reports whether path addresses a document: collection and
// document ids alternate, so a document path has an even segment count.
func IsDocumentPath(path string) bool {
	segments, err := SplitPath(path)
	return err == nil && len(segments)%2 == 0
}

// IsCollectionPath reports whether path addresses a collection
func IsCollectionPath(path string) bool {
	segments, err := SplitPath(path)
	return err == nil && len(segments)%2 == 1
}

// ValidateDocumentPath fails when path does not address a document
func ValidateDocumentPath(path string) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 0 {
		return fmt.Errorf("%w: %q is a collection path, expected a document path", ErrInvalidPath, path)
	}
	return nil
}

// ValidateCollectionPath fails when path does not address a collection
func ValidateCollectionPath(path string) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is a document path, expected a collection path", ErrInvalidPath, path)
	}
	return nil
}

// SplitDocumentPath returns the parent collection path and the document id
func SplitDocumentPath(path string) (collectionPath, docID string, err error) {
	if err := ValidateDocumentPath(path); err != nil {
		return "", "", err
	}
	segments, _ := SplitPath(path)
	n := len(segments)
	return strings.Join(segments[:n-1], "/"), segments[n-1], nil
}

// CleanPath returns the canonical form of a valid path
func CleanPath(path string) string {
	return strings.Trim(path, "/")
}

// JoinPath joins path elements, skipping empty ones
func JoinPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = CleanPath(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// CollectionID returns the last segment of a collection path, used to match
// collection-group queries
func CollectionID(collectionPath string) string {
	trimmed := CleanPath(collectionPath)
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// IsReservedFieldName checks if a field name is reserved for document identity
func IsReservedFieldName(name string) bool {
	reserved := []string{"__name__", "__id__"}

	for _, reservedName := range reserved {
		if name == reservedName {
			return true
		}
	}
	return false
}

// ValidateSimpleType ensures a value is a simple type (string, number, bool, time)
func ValidateSimpleType(value interface{}, fieldName string) error {
	if value == nil {
		return nil
	}

	// Check the type using reflection
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice, reflect.Array:
		return fmt.Errorf("'%s' cannot be an array/slice type, got %T", fieldName, value)
	case reflect.Map:
		return fmt.Errorf("'%s' cannot be a map type, got %T", fieldName, value)
	case reflect.Ptr:
		// Dereference the pointer and check again
		if v.IsNil() {
			return nil // nil pointer is OK
		}
		return ValidateSimpleType(v.Elem().Interface(), fieldName)
	case reflect.Struct:
		// Allow time.Time as it's commonly used
		if _, ok := value.(time.Time); ok {
			return nil
		}
		return fmt.Errorf("'%s' cannot be a struct type, got %T", fieldName, value)
	default:
		return fmt.Errorf("'%s' must be a simple type (string, number, or bool), got %T", fieldName, value)
	}
}
