package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// numericArg renders a big integer for a `$n::numeric` placeholder. nil maps
// to SQL NULL.
func numericArg(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// parseNumeric converts a NUMERIC column scanned as text.
func parseNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", *s)
	}
	return v, nil
}

// jsonArg marshals v for a JSONB column, mapping nil slices to NULL.
func jsonArg(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
