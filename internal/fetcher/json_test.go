package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectJSON[T any](outCh <-chan T, errCh <-chan error) ([]T, error) {
	var out []T
	for v := range outCh {
		out = append(out, v)
	}
	for err := range errCh {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestDecodeJSONArray_CensusRows(t *testing.T) {
	body := `[["NAME","B01001_001E","state"],["Alabama","5024279","01"],["Alaska","733391","02"]]`
	rows, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Alaska", "733391", "02"}, rows[2])
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	rows, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader("")))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeJSONArray_NotArray(t *testing.T) {
	_, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader(`{"error":"bad key"}`)))
	var na *NotArrayError
	require.True(t, errors.As(err, &na))
	assert.Equal(t, "json: expected '[', got {", na.Error())
}

func TestDecodeJSONArray_NotArrayScalar(t *testing.T) {
	_, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader(`"bad key"`)))
	var na *NotArrayError
	require.True(t, errors.As(err, &na))
	assert.Equal(t, `"bad key"`, na.Got)
}

func TestDecodeJSONArray_HTMLBody(t *testing.T) {
	_, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader("<html>Invalid Key</html>")))
	var na *NotArrayError
	require.True(t, errors.As(err, &na))
}

func TestDecodeJSONArray_BadElement(t *testing.T) {
	_, err := collectJSON(DecodeJSONArray[[]string](context.Background(), strings.NewReader(`[["a"],[1]]`)))
	require.Error(t, err)
}
