package airtable

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// WriteFunc performs one create or update with the given fields.
type WriteFunc func(ctx context.Context, fields map[string]any) (Record, error)

// Tolerant runs write and, each time the store rejects a named field, strips
// that field and retries, at most maxRetries times. When retries run out or
// the rejected field cannot be stripped, it writes only the required fields
// once. It returns the fields that were dropped. Errors other than
// SchemaError are returned immediately.
func Tolerant(ctx context.Context, fields map[string]any, required []string, maxRetries int, write WriteFunc) (Record, []string, error) {
	current := maps.Clone(fields)
	if current == nil {
		current = map[string]any{}
	}
	var dropped []string

	for attempt := 0; ; attempt++ {
		rec, err := write(ctx, current)
		if err == nil {
			return rec, dropped, nil
		}
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			return Record{}, dropped, err
		}
		_, present := current[schemaErr.Field]
		if attempt >= maxRetries || !present || slices.Contains(required, schemaErr.Field) {
			return fallback(ctx, current, required, dropped, err, write)
		}
		delete(current, schemaErr.Field)
		dropped = append(dropped, schemaErr.Field)
	}
}

func fallback(ctx context.Context, current map[string]any, required, dropped []string, lastErr error, write WriteFunc) (Record, []string, error) {
	minimal := make(map[string]any, len(required))
	for _, k := range required {
		if v, ok := current[k]; ok {
			minimal[k] = v
		}
	}
	if len(minimal) == len(current) {
		return Record{}, dropped, lastErr
	}
	var rest []string
	for k := range current {
		if _, ok := minimal[k]; !ok {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	dropped = append(dropped, rest...)
	rec, err := write(ctx, minimal)
	if err != nil {
		return Record{}, dropped, err
	}
	return rec, dropped, nil
}
