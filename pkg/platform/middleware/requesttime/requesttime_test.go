package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"soulid/pkg/requestcontext"
)

func TestWithClockPinsTime(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	fixed := time.Date(2027, 1, 2, 3, 4, 5, 0, local)
	var first, second time.Time
	h := WithClock(func() time.Time { return fixed })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = requestcontext.Now(r.Context())
		second = requestcontext.Now(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, fixed.Equal(first))
	assert.Equal(t, time.UTC, first.Location())
	assert.Equal(t, first, second)
}

func TestMiddlewareUsesWallClock(t *testing.T) {
	before := time.Now()
	var seen time.Time
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, seen.Before(before.Truncate(time.Second)))
}
