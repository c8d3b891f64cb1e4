package asyncredis

import (
	"fmt"

	"github.com/gomodule/redigo/redis"
)

// Script is a Lua script invoked on the server. The first keyCount
// arguments of every invocation are keys and are namespaced.
type Script struct {
	keyCount int
	src      string
	script   *redis.Script
}

// NewScript creates a Script taking keyCount keys.
func NewScript(keyCount int, src string) *Script {
	return &Script{
		keyCount: keyCount,
		src:      src,
		script:   redis.NewScript(keyCount, src),
	}
}

// Hash returns the SHA1 digest the server caches the script under.
func (s *Script) Hash() string {
	return s.script.Hash()
}

func (s *Script) namespacedArgs(namespace Namespace, keysAndArgs []interface{}) ([]interface{}, error) {
	if len(keysAndArgs) < s.keyCount {
		return nil, fmt.Errorf("%w: script expects %d keys, got %d arguments", ErrInvalidOption, s.keyCount, len(keysAndArgs))
	}

	args := make([]interface{}, len(keysAndArgs))
	copy(args, keysAndArgs)
	namespace.translateRange(args, 0, s.keyCount, 1)
	return args, nil
}
