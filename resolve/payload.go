package resolve

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/gatekit/gatekit"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// KeyExtractable is implemented by payload types that can name their own
// rate-limit identity, e.g. a login request keyed by the email being tried.
type KeyExtractable interface {
	RateLimitIdentity() gatekit.Identity
}

// Extractor attempts to produce an identity from a request. A false return
// means the caller should fall back to the resolution chain.
type Extractor func(r *http.Request) (gatekit.Identity, bool)

// JSON returns an extractor that buffers the request body, decodes it into T,
// and asks the payload for its identity. The original bytes are always
// restored to r.Body, so the downstream handler reads the body untouched no
// matter which branch was taken.
//
// Payloads with validator struct tags are validated after decoding; a payload
// that fails validation falls back to the chain rather than failing the
// request, the same as malformed JSON.
func JSON[T KeyExtractable]() Extractor {
	return func(r *http.Request) (gatekit.Identity, bool) {
		if r.Body == nil || r.Body == http.NoBody {
			return gatekit.Identity{}, false
		}

		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return gatekit.Identity{}, false
		}

		var payload T
		if err := json.Unmarshal(body, &payload); err != nil {
			return gatekit.Identity{}, false
		}
		if err := validate.Struct(payload); err != nil {
			return gatekit.Identity{}, false
		}

		id := payload.RateLimitIdentity()
		if id.IsZero() {
			return gatekit.Identity{}, false
		}
		return id, true
	}
}
