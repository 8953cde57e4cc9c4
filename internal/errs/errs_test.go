package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := E(WarmCacheUnavailable, "warmcache.Get", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, WarmCacheUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "warmcache.Get")
	assert.Contains(t, err.Error(), "warm_cache_unavailable")
}

func TestKindOfNonTaxonomyError(t *testing.T) {
	assert.Equal(t, Other, KindOf(errors.New("boom")))
	assert.False(t, Is(errors.New("boom"), RuleNotFound))
}

func TestIsDistinguishesRuleNotFoundFromOriginError(t *testing.T) {
	notFound := E(RuleNotFound, "rulestore.FindBestMatching")
	originErr := E(OriginError, "orchestrator.callOrigin")

	assert.True(t, Is(notFound, RuleNotFound))
	assert.False(t, Is(notFound, OriginError))
	assert.True(t, Is(originErr, OriginError))
}
