package endpoint

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/discoverykit/errors"
)

// PropertyLookup is the part of *configsource.Resolver the endpoint uses.
type PropertyLookup interface {
	Get(key string) (any, bool)
	Origin(key string) (string, bool)
	Keys() []string
}

// ConfigKeys lists every resolved property key. current is called per
// request because a refetch replaces the resolver.
func ConfigKeys(current func() PropertyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondOK(c, current().Keys())
	}
}

// ConfigValue reports the effective value of the key in the path and the
// property source it came from.
func ConfigValue(current func() PropertyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := current()
		key := c.Param("key")
		value, ok := p.Get(key)
		if !ok {
			RespondWithError(c, apperrors.NotFound("property", key))
			return
		}
		origin, _ := p.Origin(key)
		if IsSensitiveKey(key) {
			value = maskedValue
		}
		RespondOK(c, gin.H{"key": key, "value": value, "origin": origin})
	}
}

const maskedValue = "******"

var sensitiveKeyParts = []string{"password", "secret", "token", "credential", "private_key"}

// IsSensitiveKey reports whether the value of key is masked in responses.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
