package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// NotArrayError reports a JSON body that is not an array. The Census Data
// API answers a bad key or an invalid query with an HTML or plain-text page.
type NotArrayError struct {
	Got string
}

func (e *NotArrayError) Error() string {
	return "json: expected '[', got " + e.Got
}

// DecodeJSONArray decodes a JSON array streaming, sending each element to a
// channel. Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- &NotArrayError{Got: err.Error()}
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- &NotArrayError{Got: describeToken(tok)}
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

func describeToken(tok json.Token) string {
	if d, ok := tok.(json.Delim); ok {
		return string(d)
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return "unknown token"
	}
	return string(b)
}
